// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"sync"
	"time"
)

// bgErrorEntry is one recorded background failure, surfaced through Query
// (spec §6 "Query (metrics + heartbeat)").
type bgErrorEntry struct {
	Time    time.Time
	Tablet  string
	Message string
}

// bgErrorReporter accumulates background errors (engine bg-error callbacks,
// compaction failures, persistent-cache degrades) up to a total message
// byte budget, dropping the oldest entries first once it's exceeded so one
// noisy tablet can't crowd out every other tablet's diagnostics.
type bgErrorReporter struct {
	mu        sync.Mutex
	entries   []bgErrorEntry
	sizeBytes int
	maxBytes  int
}

func newBgErrorReporter(maxBytes int) *bgErrorReporter {
	return &bgErrorReporter{maxBytes: maxBytes}
}

func (r *bgErrorReporter) report(tabletName, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, bgErrorEntry{Time: time.Now(), Tablet: tabletName, Message: msg})
	r.sizeBytes += len(msg)
	for r.sizeBytes > r.maxBytes && len(r.entries) > 0 {
		r.sizeBytes -= len(r.entries[0].Message)
		r.entries = r.entries[1:]
	}
}

// Snapshot returns a copy of every currently-retained background error.
func (r *bgErrorReporter) Snapshot() []bgErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bgErrorEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
