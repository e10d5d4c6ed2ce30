// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"sort"

	"github.com/teratab/tabletserver/internal/base"
)

// GetSnapshot pins seq into the snapshots multiset (spec §4.1 "Snapshots"),
// keeping reads at seq stable across concurrent compaction.
func (e *Engine) GetSnapshot(seq base.SeqNum) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := sort.Search(len(e.snapshots), func(i int) bool { return e.snapshots[i] >= seq })
	e.snapshots = append(e.snapshots, 0)
	copy(e.snapshots[i+1:], e.snapshots[i:])
	e.snapshots[i] = seq
}

// ReleaseSnapshot removes one occurrence of seq from the multiset.
func (e *Engine) ReleaseSnapshot(seq base.SeqNum) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := sort.Search(len(e.snapshots), func(i int) bool { return e.snapshots[i] >= seq })
	if i < len(e.snapshots) && e.snapshots[i] == seq {
		e.snapshots = append(e.snapshots[:i], e.snapshots[i+1:]...)
	}
}

// smallestSnapshot returns the set minimum, or base.MaxSeqNum if none is
// pinned (spec §4.1 "smallest_snapshot is the set minimum (or
// kMaxSequenceNumber)"). Caller must hold e.mu.
func (e *Engine) smallestSnapshot() base.SeqNum {
	if len(e.snapshots) == 0 {
		return base.MaxSeqNum
	}
	return e.snapshots[0]
}

// Rollback records rollbacks[snapshotSeq] = rollbackPoint; reads and
// compactions consult this map to hide entries with sequence in
// (snapshotSeq, rollbackPoint] — spec §4.1 "Rollback".
func (e *Engine) Rollback(snapshotSeq, rollbackPoint base.SeqNum) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollbacks[snapshotSeq] = rollbackPoint
}

// rollbacksLocked returns a copy of the rollback map safe to consult after
// e.mu is released. Caller must hold e.mu.
func (e *Engine) rollbacksLocked() map[base.SeqNum]base.SeqNum {
	if len(e.rollbacks) == 0 {
		return nil
	}
	out := make(map[base.SeqNum]base.SeqNum, len(e.rollbacks))
	for snapshotSeq, rollbackPoint := range e.rollbacks {
		out[snapshotSeq] = rollbackPoint
	}
	return out
}

// rollbackHides reports whether seq falls inside the hidden window
// (snapshotSeq, rollbackPoint] of any registered rollback. A rollback
// permanently erases that range of sequence numbers once recorded — it is
// not keyed by the reader's own snapshot, so every registered window must
// be consulted, not just one keyed by the read's snapshot (spec §4.1
// "Rollback": "rollbacks[snapshot] >= sequence > snapshot" names the
// rollback's own recorded snapshot, not the caller's read snapshot).
func rollbackHides(rollbacks map[base.SeqNum]base.SeqNum, seq base.SeqNum) bool {
	for snapshotSeq, rollbackPoint := range rollbacks {
		if seq > snapshotSeq && seq <= rollbackPoint {
			return true
		}
	}
	return false
}
