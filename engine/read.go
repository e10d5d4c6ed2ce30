// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/manifest"
)

// Get returns the value for userKey visible at snapshot, per spec §4.1 "Read
// path": probe mutable memtable, then immutable, then SSTables in ascending
// level order (L0 all files, L>=1 binary search); return the first entry
// with sequence <= snapshot, subject to the rollback predicate and the
// compaction strategy's Drop.
func (e *Engine) Get(userKey []byte, snapshot base.SeqNum) ([]byte, error) {
	e.mu.Lock()
	mem := e.mem
	imm := e.imm
	v := e.vs.Current()
	rollbacks := e.rollbacksLocked()
	e.mu.Unlock()

	if mem != nil {
		if val, kind, seq, ok := mem.Get(userKey, snapshot); ok {
			return e.resolveVisible(userKey, kind, val, seq, rollbacks)
		}
	}
	if imm != nil {
		if val, kind, seq, ok := imm.Get(userKey, snapshot); ok {
			return e.resolveVisible(userKey, kind, val, seq, rollbacks)
		}
	}

	for level := 0; level < manifest.NumLevels; level++ {
		files := v.Overlapping(e.opts.Comparator, level, userKey, userKey)
		for _, f := range files {
			val, kind, seq, ok, err := e.getFromFile(f, userKey, snapshot)
			if err != nil {
				return nil, err
			}
			if ok {
				return e.resolveVisible(userKey, kind, val, seq, rollbacks)
			}
		}
	}
	return nil, base.ErrKeyNotExist
}

// resolveVisible applies resolveEntry, except that an entry inside a
// rollback window is skipped by re-reading at that window's snapshot, so the
// newest version older than the window becomes visible.
func (e *Engine) resolveVisible(userKey []byte, kind base.InternalKeyKind, val []byte, seq base.SeqNum,
	rollbacks map[base.SeqNum]base.SeqNum) ([]byte, error) {
	for snapshotSeq, rollbackPoint := range rollbacks {
		if seq > snapshotSeq && seq <= rollbackPoint {
			return e.Get(userKey, snapshotSeq)
		}
	}
	return resolveEntry(userKey, kind, val, seq, rollbacks, e.opts.Strategy)
}

func resolveEntry(userKey []byte, kind base.InternalKeyKind, val []byte, seq base.SeqNum,
	rollbacks map[base.SeqNum]base.SeqNum, strategy Strategy) ([]byte, error) {
	if rollbackHides(rollbacks, seq) {
		// Rollback window erase: spec §4.1 step 3.
		return nil, base.ErrKeyNotExist
	}
	if kind == base.InternalKeyKindDelete {
		return nil, base.ErrKeyNotExist
	}
	ik := base.MakeInternalKey(userKey, seq, kind)
	if strategy.Drop(ik, val) {
		return nil, base.ErrKeyNotExist
	}
	return val, nil
}

func (e *Engine) getFromFile(f *manifest.FileMetadata, userKey []byte, snapshot base.SeqNum) (
	val []byte, kind base.InternalKeyKind, seq base.SeqNum, ok bool, err error) {
	r, err := e.opts.TableCache.Get(e.opts.FS, e.sstPath(f.FileNum), f.FileNum, e.opts.ReaderOptions)
	if err != nil {
		return nil, 0, 0, false, err
	}
	v, kind, seq, found, err := r.Get(e.opts.Comparator, userKey, snapshot)
	if err != nil {
		return nil, 0, 0, false, err
	}
	if !found {
		return nil, 0, 0, false, nil
	}
	return v, kind, seq, true, nil
}
