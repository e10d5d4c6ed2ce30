// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package memtable

import (
	"sync/atomic"

	"github.com/teratab/tabletserver/internal/base"
)

// MemTable is the interface both the single skip-list and the sharded
// variants implement (spec §4.2).
type MemTable interface {
	Add(seq base.SeqNum, kind base.InternalKeyKind, key, value []byte) error
	Get(userKey []byte, snapshot base.SeqNum) (value []byte, kind base.InternalKeyKind, seq base.SeqNum, found bool)
	NewIterator() Iterator
	ApproximateMemoryUsage() int64
	Ref()
	Unref() bool // returns true if this was the last reference
	SetBeingFlushed(bool)
	BeingFlushed() bool
}

// Iterator walks a memtable's entries in internal-key order.
type Iterator interface {
	Valid() bool
	Key() base.InternalKey
	Value() []byte
	Next()
}

// Single is the "single skip-list" variant of spec §4.2.
type Single struct {
	list *skipList
	ref  int32
	flushing int32
}

// NewSingle creates a single-skiplist memtable using cmp to order user keys.
func NewSingle(cmp base.Compare) *Single {
	return &Single{list: newSkipList(cmp), ref: 1}
}

func (m *Single) Add(seq base.SeqNum, kind base.InternalKeyKind, key, value []byte) error {
	if m.BeingFlushed() {
		return base.ErrInvalidArgument
	}
	m.list.insert(base.MakeInternalKey(key, seq, kind), value)
	return nil
}

func (m *Single) Get(userKey []byte, snapshot base.SeqNum) ([]byte, base.InternalKeyKind, base.SeqNum, bool) {
	return m.list.get(userKey, snapshot)
}

func (m *Single) NewIterator() Iterator { return m.list.newIterator() }

func (m *Single) ApproximateMemoryUsage() int64 { return m.list.approximateMemoryUsage() }

func (m *Single) Ref()          { atomic.AddInt32(&m.ref, 1) }
func (m *Single) Unref() bool   { return atomic.AddInt32(&m.ref, -1) == 0 }
func (m *Single) SetBeingFlushed(v bool) {
	if v {
		atomic.StoreInt32(&m.flushing, 1)
	} else {
		atomic.StoreInt32(&m.flushing, 0)
	}
}
func (m *Single) BeingFlushed() bool { return atomic.LoadInt32(&m.flushing) != 0 }

// Sharded is the N-way hash-sharded variant of spec §4.2: each shard is an
// independently lockable skip list, used for write-heavy workloads that
// would otherwise serialize on a single skip list's internal locking.
type Sharded struct {
	shards   []*skipList
	cmp      base.Compare
	ref      int32
	flushing int32
}

// NewSharded creates an n-way sharded memtable.
func NewSharded(cmp base.Compare, n int) *Sharded {
	s := &Sharded{cmp: cmp, ref: 1, shards: make([]*skipList, n)}
	for i := range s.shards {
		s.shards[i] = newSkipList(cmp)
	}
	return s
}

func (m *Sharded) shardFor(key []byte) *skipList {
	var h uint32
	for _, b := range key {
		h = h*31 + uint32(b)
	}
	return m.shards[h%uint32(len(m.shards))]
}

func (m *Sharded) Add(seq base.SeqNum, kind base.InternalKeyKind, key, value []byte) error {
	if m.BeingFlushed() {
		return base.ErrInvalidArgument
	}
	m.shardFor(key).insert(base.MakeInternalKey(key, seq, kind), value)
	return nil
}

func (m *Sharded) Get(userKey []byte, snapshot base.SeqNum) ([]byte, base.InternalKeyKind, base.SeqNum, bool) {
	return m.shardFor(userKey).get(userKey, snapshot)
}

// NewIterator returns a merging view across all shards in internal-key
// order.
func (m *Sharded) NewIterator() Iterator {
	its := make([]*skipListIterator, len(m.shards))
	for i, s := range m.shards {
		its[i] = s.newIterator()
	}
	return newShardedMergeIterator(m.cmp, its)
}

func (m *Sharded) ApproximateMemoryUsage() int64 {
	var total int64
	for _, s := range m.shards {
		total += s.approximateMemoryUsage()
	}
	return total
}

func (m *Sharded) Ref()        { atomic.AddInt32(&m.ref, 1) }
func (m *Sharded) Unref() bool { return atomic.AddInt32(&m.ref, -1) == 0 }
func (m *Sharded) SetBeingFlushed(v bool) {
	if v {
		atomic.StoreInt32(&m.flushing, 1)
	} else {
		atomic.StoreInt32(&m.flushing, 0)
	}
}
func (m *Sharded) BeingFlushed() bool { return atomic.LoadInt32(&m.flushing) != 0 }

// shardedMergeIterator merges the per-shard iterators by internal-key order,
// a small k-way merge since shard count is typically in the tens.
type shardedMergeIterator struct {
	cmp  base.Compare
	its  []*skipListIterator
	cur  int
}

func newShardedMergeIterator(cmp base.Compare, its []*skipListIterator) *shardedMergeIterator {
	it := &shardedMergeIterator{cmp: cmp, its: its}
	it.advance()
	return it
}

func (it *shardedMergeIterator) advance() {
	best := -1
	for i, s := range it.its {
		if !s.Valid() {
			continue
		}
		if best == -1 || base.InternalCompare(it.cmp, s.Key(), it.its[best].Key()) < 0 {
			best = i
		}
	}
	it.cur = best
}

func (it *shardedMergeIterator) Valid() bool           { return it.cur >= 0 }
func (it *shardedMergeIterator) Key() base.InternalKey  { return it.its[it.cur].Key() }
func (it *shardedMergeIterator) Value() []byte          { return it.its[it.cur].Value() }
func (it *shardedMergeIterator) Next() {
	it.its[it.cur].Next()
	it.advance()
}

// skipListIterator (unexported) implements the exported Iterator interface
// used outside this package directly.
var _ Iterator = (*skipListIterator)(nil)
