// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/internal/memtable"
)

// ScanIterator walks user keys in ascending order between [start, end),
// snapshot-consistent against the Version pinned at NewScanIterator time
// (spec §4.1 "Scan": "snapshot-consistent for the engine-version pinned when
// the iterator was opened"). It collapses the internal per-user-key version
// chain down to the one entry visible at snapshot, skipping deletions,
// rollback-erased entries, and strategy drops exactly like Get.
type ScanIterator struct {
	e         *Engine
	mem, imm  memtable.MemTable
	snapshot  base.SeqNum
	rollbacks map[base.SeqNum]base.SeqNum
	end       []byte
	merged    *mergingIter
	key       []byte
	value     []byte
	valid     bool
}

// NewScanIterator opens a scan over [start, end) (end == nil means
// unbounded) at snapshot, pinning the current Version plus the mutable and
// immutable memtables for its duration so a concurrent flush/compaction
// cannot invalidate it mid-scan.
func (e *Engine) NewScanIterator(start, end []byte, snapshot base.SeqNum) (*ScanIterator, error) {
	e.mu.Lock()
	mem := e.mem
	imm := e.imm
	v := e.vs.Current()
	rollbacks := e.rollbacksLocked()
	mem.Ref()
	if imm != nil {
		imm.Ref()
	}
	e.mu.Unlock()

	var iters []kvIter
	iters = append(iters, memIterAdapter{mem.NewIterator()})
	if imm != nil {
		iters = append(iters, memIterAdapter{imm.NewIterator()})
	}
	iters = append(iters, newSSTIterAdapter0(e, v.Files[0])...)
	for level := 1; level < manifest.NumLevels; level++ {
		files := v.Overlapping(e.opts.Comparator, level, start, end)
		if len(files) > 0 {
			iters = append(iters, newLevelIter(e, files))
		}
	}

	si := &ScanIterator{
		e:         e,
		mem:       mem,
		imm:       imm,
		snapshot:  snapshot,
		rollbacks: rollbacks,
		end:       end,
		merged:    newMergingIter(e.opts.Comparator, iters),
	}
	si.seekToStart(start)
	return si, nil
}

func newSSTIterAdapter0(e *Engine, files []*manifest.FileMetadata) []kvIter {
	if len(files) == 0 {
		return nil
	}
	return []kvIter{newLevelIter(e, files)}
}

func (si *ScanIterator) seekToStart(start []byte) {
	for si.merged.Valid() && len(start) > 0 && si.e.opts.Comparator(si.merged.Key().UserKey, start) < 0 {
		si.merged.Next()
	}
	si.advance()
}

// advance walks the merged internal-key stream forward to the next visible
// user key: the newest surviving version of each distinct user key at or
// below snapshot, skipping deletions/rollback-erased/strategy-dropped
// entries, mirroring resolveEntry's rules one key at a time.
func (si *ScanIterator) advance() {
	for si.merged.Valid() {
		k := si.merged.Key()
		if len(si.end) > 0 && si.e.opts.Comparator(k.UserKey, si.end) >= 0 {
			si.valid = false
			return
		}
		userKey := append([]byte(nil), k.UserKey...)

		var (
			chosenVal  []byte
			chosenSeq  base.SeqNum
			chosenKind base.InternalKeyKind
			found      bool
		)
		for si.merged.Valid() && si.e.opts.Comparator(si.merged.Key().UserKey, userKey) == 0 {
			cur := si.merged.Key()
			if !found && cur.Seq <= si.snapshot && !rollbackHides(si.rollbacks, cur.Seq) {
				chosenVal = si.merged.Value()
				chosenSeq = cur.Seq
				chosenKind = cur.Kind
				found = true
			}
			si.merged.Next()
		}
		if !found {
			continue
		}
		if chosenKind == base.InternalKeyKindDelete {
			continue
		}
		ik := base.MakeInternalKey(userKey, chosenSeq, chosenKind)
		if si.e.opts.Strategy.Drop(ik, chosenVal) {
			continue
		}
		si.key = userKey
		si.value = chosenVal
		si.valid = true
		return
	}
	si.valid = false
}

// Valid reports whether the iterator is positioned at an entry.
func (si *ScanIterator) Valid() bool { return si.valid }

// Key returns the current row key. Owned by the iterator; copy if retained
// past the next Next call.
func (si *ScanIterator) Key() []byte { return si.key }

// Value returns the current value.
func (si *ScanIterator) Value() []byte { return si.value }

// Next advances to the next distinct user key.
func (si *ScanIterator) Next() { si.advance() }

// Error reports any error encountered by the underlying sources.
func (si *ScanIterator) Error() error { return si.merged.Error() }

// Close releases the memtable references pinned by NewScanIterator.
func (si *ScanIterator) Close() error {
	si.mem.Unref()
	if si.imm != nil {
		si.imm.Unref()
	}
	return nil
}
