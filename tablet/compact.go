// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/internal/base"
)

// maxRowSentinel stands in for "no upper bound" when talking to
// engine.CompactRange, which (unlike Identity/ScanIterator) treats an empty
// largest key as the empty string rather than +infinity.
var maxRowSentinel = make([]byte, 64)

func init() {
	for i := range maxRowSentinel {
		maxRowSentinel[i] = 0xff
	}
}

// CompactRange answers spec §6's CompactTablet: a manual compaction of
// [start, end) across every locality group's engine, clamped to this
// tablet's own key range.
func (t *Tablet) CompactRange(start, end []byte) error {
	if t.State() != StateReady {
		return base.ErrKeyNotInRange
	}
	lo, hi := start, end
	if len(lo) == 0 || string(lo) < string(t.Identity.KeyStart) {
		lo = t.Identity.KeyStart
	}
	if len(t.Identity.KeyEnd) > 0 && (len(hi) == 0 || string(hi) > string(t.Identity.KeyEnd)) {
		hi = t.Identity.KeyEnd
	}

	hiKey := maxRowSentinel
	if len(hi) > 0 {
		hiKey = rowUpperBound(hi)
	}
	loKey := rowLowerBound(lo)

	t.mu.Lock()
	engines := make([]*engine.Engine, 0, len(t.engines))
	for _, e := range t.engines {
		engines = append(engines, e)
	}
	t.mu.Unlock()

	var firstErr error
	for _, e := range engines {
		if err := e.CompactRange(loKey, hiKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
