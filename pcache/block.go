// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import "sync"

// blockState is a bitmask of the states a CacheBlock can be in, protected by
// the block's own mutex plus condition variable (spec §4.5 "Block record").
type blockState uint8

const (
	stateValid blockState = 1 << iota
	stateLocked
	stateDfsRead
	stateCacheRead
	stateCacheFill
)

func (s blockState) has(bit blockState) bool { return s&bit != 0 }

// CacheBlock is the persistent cache's unit of tracking: a fixed-size slice
// of one SSTable block, resident (or being made resident) in one data set's
// backing file (spec §4.5 "Block record").
type CacheBlock struct {
	mu   sync.Mutex
	cond *sync.Cond

	fid      uint64
	blockIdx uint32
	sid      uint32
	slot     uint32

	state blockState
	data  []byte

	refcount int32
	// status carries the outcome of the most recent fill/read attempt so
	// waiters blocked on the condition variable can distinguish "became
	// valid" from "fill failed, try direct DFS read".
	status error
}

func newCacheBlock(fid uint64, blockIdx uint32) *CacheBlock {
	b := &CacheBlock{fid: fid, blockIdx: blockIdx, slot: noSlot}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// noSlot marks a CacheBlock that has not yet been assigned a data-set slot.
const noSlot = ^uint32(0)

func (b *CacheBlock) ref() {
	b.mu.Lock()
	b.refcount++
	b.mu.Unlock()
}

func (b *CacheBlock) unref() {
	b.mu.Lock()
	b.refcount--
	b.mu.Unlock()
}

// lock marks the block Locked, blocking a concurrent evictor or second
// fetcher; waitFilled blocks until a Locked block transitions out of that
// state (spec §4.5 "a block in state Locked is never evicted").
func (b *CacheBlock) lock() {
	b.mu.Lock()
	for b.state.has(stateLocked) {
		b.cond.Wait()
	}
	b.state |= stateLocked
	b.mu.Unlock()
}

func (b *CacheBlock) unlock() {
	b.mu.Lock()
	b.state &^= stateLocked
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *CacheBlock) isValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.has(stateValid)
}

func (b *CacheBlock) isLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.has(stateLocked)
}

// waitFilled blocks until the block is no longer locked, then returns
// whether it ended up Valid and any error recorded by the fill that
// resolved it (spec §4.5 read algorithm's "locked: in-flight — wait").
func (b *CacheBlock) waitFilled() (valid bool, err error) {
	b.mu.Lock()
	for b.state.has(stateLocked) {
		b.cond.Wait()
	}
	valid = b.state.has(stateValid)
	err = b.status
	b.mu.Unlock()
	return valid, err
}

func (b *CacheBlock) setData(slot uint32, data []byte) {
	b.mu.Lock()
	b.slot = slot
	b.data = data
	b.state |= stateValid
	b.status = nil
	b.mu.Unlock()
}

func (b *CacheBlock) setError(err error) {
	b.mu.Lock()
	b.status = err
	b.mu.Unlock()
}

func (b *CacheBlock) readData() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *CacheBlock) invalidate() {
	b.mu.Lock()
	b.state &^= stateValid
	b.data = nil
	b.slot = noSlot
	b.mu.Unlock()
}

// LockKeyMap serialises concurrent first-time creation of the same
// metadata key so late arrivals observe the value published by whichever
// goroutine won the race, instead of racing to create duplicate state
// (spec §4.5 "Concurrency primitives").
type LockKeyMap struct {
	mu      sync.Mutex
	waiters map[string]*sync.WaitGroup
}

// NewLockKeyMap constructs an empty LockKeyMap.
func NewLockKeyMap() *LockKeyMap {
	return &LockKeyMap{waiters: make(map[string]*sync.WaitGroup)}
}

// Do runs fn for key if no other goroutine currently holds it; concurrent
// callers for the same key block until fn completes and then return
// without running fn themselves, per spec §4.5 "one waiter per key so late
// arrivals see the value published by the first writer."
func (m *LockKeyMap) Do(key string, fn func() error) error {
	m.mu.Lock()
	if wg, ok := m.waiters[key]; ok {
		m.mu.Unlock()
		wg.Wait()
		return nil
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	m.waiters[key] = wg
	m.mu.Unlock()

	err := fn()

	m.mu.Lock()
	delete(m.waiters, key)
	m.mu.Unlock()
	wg.Done()
	return err
}
