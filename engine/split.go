// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"sort"

	"github.com/teratab/tabletserver/internal/base"
)

// FindSplitKey implements spec §4.1 "Split": it scans the current version's
// level summaries to choose a key at approximately ratio through the total
// byte span. The engine itself is not re-keyed by this call; the caller
// (tablet) uses the returned key to open two child engines.
//
// Engine variants that cannot produce a meaningful split key (for example,
// one with zero live files) report kTableNotSupport per spec §7.
func (e *Engine) FindSplitKey(ratio float64) ([]byte, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, base.ErrInvalidArgument
	}

	e.mu.Lock()
	v := e.vs.Current()
	cmp := e.opts.Comparator
	e.mu.Unlock()

	var files []*struct {
		smallest, largest []byte
		size              uint64
	}
	for level := 0; level < len(v.Files); level++ {
		for _, f := range v.Files[level] {
			files = append(files, &struct {
				smallest, largest []byte
				size              uint64
			}{f.Smallest.UserKey, f.Largest.UserKey, f.Size})
		}
	}
	if len(files) == 0 {
		return nil, base.ErrTableNotSupport
	}

	sort.Slice(files, func(i, j int) bool { return cmp(files[i].smallest, files[j].smallest) < 0 })

	var total uint64
	for _, f := range files {
		total += f.size
	}
	if total == 0 {
		return nil, base.ErrTableNotSupport
	}

	target := uint64(float64(total) * ratio)
	var cum uint64
	for _, f := range files {
		cum += f.size
		if cum >= target {
			return f.largest, nil
		}
	}
	return files[len(files)-1].largest, nil
}
