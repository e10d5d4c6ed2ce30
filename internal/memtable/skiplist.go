// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package memtable implements the in-memory write buffer of spec §4.2
// (component C5): an ordered skip list keyed by internal key, plus an
// N-way hash-sharded variant for higher write concurrency.
package memtable

import (
	"math/rand"
	"sync"

	"github.com/teratab/tabletserver/internal/base"
)

const maxHeight = 12
const branching = 4

type skipNode struct {
	key   base.InternalKey
	value []byte
	next  []*skipNode
}

// skipList is a single, lock-protected ordered map from internal key to
// value. It is the "single skip-list" memtable variant of spec §4.2.
type skipList struct {
	mu     sync.RWMutex
	cmp    base.Compare
	head   *skipNode
	height int
	rnd    *rand.Rand
	bytes  int64
}

func newSkipList(cmp base.Compare) *skipList {
	return &skipList{
		cmp:    cmp,
		head:   &skipNode{next: make([]*skipNode, maxHeight)},
		height: 1,
		rnd:    rand.New(rand.NewSource(0xdeadbeef)),
	}
}

func (s *skipList) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// findGreaterOrEqual returns, per level, the node immediately before the
// first node whose key is >= key.
func (s *skipList) findGreaterOrEqual(key base.InternalKey, prev []*skipNode) *skipNode {
	x := s.head
	level := s.height - 1
	for {
		next := x.next[level]
		if next != nil && base.InternalCompare(s.cmp, next.key, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// insert adds key/value, allowing duplicate user keys at different
// sequence numbers (multiple versions coexist, spec §3).
func (s *skipList) insert(key base.InternalKey, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev [maxHeight]*skipNode
	for i := 0; i < maxHeight; i++ {
		prev[i] = s.head
	}
	s.findGreaterOrEqual(key, prev[:])

	h := s.randomHeight()
	if h > s.height {
		for i := s.height; i < h; i++ {
			prev[i] = s.head
		}
		s.height = h
	}

	node := &skipNode{key: key, value: value, next: make([]*skipNode, h)}
	for i := 0; i < h; i++ {
		node.next[i] = prev[i].next[i]
		prev[i].next[i] = node
	}
	s.bytes += int64(len(key.UserKey) + len(value) + 24)
}

// get returns the highest-sequence entry for userKey with sequence <=
// snapshot, or !found. Rollback windows are applied by the caller (engine),
// which has access to the rollbacks map; memtable.Get only needs the raw
// ordered view.
func (s *skipList) get(userKey []byte, snapshot base.SeqNum) (value []byte, kind base.InternalKeyKind, seq base.SeqNum, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seek := base.InternalKey{UserKey: userKey, Seq: snapshot, Kind: base.InternalKeyKindMax}
	node := s.findGreaterOrEqual(seek, nil)
	if node == nil || s.cmp(node.key.UserKey, userKey) != 0 {
		return nil, 0, 0, false
	}
	return node.value, node.key.Kind, node.key.Seq, true
}

func (s *skipList) approximateMemoryUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// skipListIterator walks the list in internal-key order from a starting
// point.
type skipListIterator struct {
	s    *skipList
	node *skipNode
}

func (s *skipList) newIterator() *skipListIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &skipListIterator{s: s, node: s.head.next[0]}
}

func (it *skipListIterator) Valid() bool { return it.node != nil }
func (it *skipListIterator) Key() base.InternalKey {
	return it.node.key
}
func (it *skipListIterator) Value() []byte { return it.node.value }
func (it *skipListIterator) Next() {
	it.s.mu.RLock()
	defer it.s.mu.RUnlock()
	it.node = it.node.next[0]
}
