// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/internal/memtable"
	"github.com/teratab/tabletserver/sstable"
)

// kvIter is the common shape every internal-key source (memtable, sstable,
// merging iterator) is adapted to, so compaction and scan can walk a mix of
// them uniformly. Grounded on the db.InternalIterator role in
// ariesdevil-pebble/compaction.go's compactionIterator.
type kvIter interface {
	Valid() bool
	Key() base.InternalKey
	Value() []byte
	Next()
	Error() error
}

// memIterAdapter adapts memtable.Iterator, which is always already
// positioned at its smallest entry on construction.
type memIterAdapter struct{ it memtable.Iterator }

func (a memIterAdapter) Valid() bool          { return a.it.Valid() }
func (a memIterAdapter) Key() base.InternalKey { return a.it.Key() }
func (a memIterAdapter) Value() []byte        { return a.it.Value() }
func (a memIterAdapter) Next()                { a.it.Next() }
func (a memIterAdapter) Error() error         { return nil }

// sstIterAdapter adapts sstable.Iterator, which starts unpositioned and
// needs an explicit First().
type sstIterAdapter struct {
	it *sstable.Iterator
	ok bool
}

func newSSTIterAdapter(it *sstable.Iterator) *sstIterAdapter {
	return &sstIterAdapter{it: it, ok: it.First()}
}

func (a *sstIterAdapter) Valid() bool          { return a.ok }
func (a *sstIterAdapter) Key() base.InternalKey { return a.it.Key() }
func (a *sstIterAdapter) Value() []byte        { return a.it.Value() }
func (a *sstIterAdapter) Next()                { a.ok = a.it.Next() }
func (a *sstIterAdapter) Error() error         { return a.it.Error() }

// mergingIter is a k-way merge over internal-key order, the same shape as
// memtable's own shardedMergeIterator generalized to heterogeneous sources
// (spec §4.1 "Scan": "a merging iterator over {mem, imm, level-0 files,
// level>=1 concatenating iterators}").
type mergingIter struct {
	cmp   base.Compare
	iters []kvIter
	cur   int
}

func newMergingIter(cmp base.Compare, iters []kvIter) *mergingIter {
	m := &mergingIter{cmp: cmp, iters: iters}
	m.advance()
	return m
}

func (m *mergingIter) advance() {
	best := -1
	for i, it := range m.iters {
		if !it.Valid() {
			continue
		}
		if best == -1 || base.InternalCompare(m.cmp, it.Key(), m.iters[best].Key()) < 0 {
			best = i
		}
	}
	m.cur = best
}

func (m *mergingIter) Valid() bool          { return m.cur >= 0 }
func (m *mergingIter) Key() base.InternalKey { return m.iters[m.cur].Key() }
func (m *mergingIter) Value() []byte        { return m.iters[m.cur].Value() }

func (m *mergingIter) Next() {
	m.iters[m.cur].Next()
	m.advance()
}

func (m *mergingIter) Error() error {
	for _, it := range m.iters {
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}

// levelIter concatenates a sorted, non-overlapping run of SSTables (a
// level >= 1, or a selected set of level-0 files) into a single kvIter,
// opening each table lazily as the previous one is exhausted, mirroring
// ariesdevil-pebble/compaction.go's newLevelIter usage in
// compactionIterator.
type levelIter struct {
	e       *Engine
	files   []*manifest.FileMetadata
	idx     int
	cur     *sstIterAdapter
	err     error
}

func newLevelIter(e *Engine, files []*manifest.FileMetadata) *levelIter {
	l := &levelIter{e: e, files: files, idx: -1}
	l.advance()
	return l
}

func (l *levelIter) advance() {
	for {
		l.idx++
		if l.idx >= len(l.files) {
			l.cur = nil
			return
		}
		r, err := l.e.opts.TableCache.Get(l.e.opts.FS, l.e.sstPath(l.files[l.idx].FileNum),
			l.files[l.idx].FileNum, l.e.opts.ReaderOptions)
		if err != nil {
			l.err = err
			l.cur = nil
			return
		}
		it, err := r.NewIterator(l.e.opts.Comparator)
		if err != nil {
			l.err = err
			l.cur = nil
			return
		}
		adapter := newSSTIterAdapter(it)
		if adapter.Valid() {
			l.cur = adapter
			return
		}
	}
}

func (l *levelIter) Valid() bool          { return l.cur != nil && l.cur.Valid() }
func (l *levelIter) Key() base.InternalKey { return l.cur.Key() }
func (l *levelIter) Value() []byte        { return l.cur.Value() }
func (l *levelIter) Error() error {
	if l.err != nil {
		return l.err
	}
	if l.cur != nil {
		return l.cur.Error()
	}
	return nil
}

func (l *levelIter) Next() {
	l.cur.Next()
	if !l.cur.Valid() {
		if err := l.cur.Error(); err != nil {
			l.err = err
		}
		l.advance()
	}
}
