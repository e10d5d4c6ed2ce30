// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"container/list"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/teratab/tabletserver/vfs"
)

type blockKey struct {
	fid      uint64
	blockIdx uint32
}

// dataSet is one preallocated physical file of capacity dataSetSize, with
// its own 2Q-style in-memory index mapping (file_id, block_idx) to a
// cache_block_slot, per spec §4.5 "Data sets".
type dataSet struct {
	sid       uint32
	file      vfs.File
	blockSize int64
	numSlots  uint32

	meta *metaStore

	mu        sync.Mutex
	blocks    map[blockKey]*CacheBlock
	slotOwner map[uint32]*CacheBlock
	freeSlots []uint32
	lru       *list.List // of *CacheBlock, front = most recently used
}

func openDataSet(sid uint32, fs vfs.FS, path string, size, blockSize int64, meta *metaStore) (*dataSet, error) {
	numSlots := uint32(size / blockSize)

	f, err := fs.Open(path)
	if err != nil {
		f, err = fs.Create(path)
		if err != nil {
			return nil, err
		}
		if err := f.Preallocate(0, size); err != nil {
			return nil, err
		}
	}

	ds := &dataSet{
		sid:       sid,
		file:      f,
		blockSize: blockSize,
		numSlots:  numSlots,
		meta:      meta,
		blocks:    make(map[blockKey]*CacheBlock),
		slotOwner: make(map[uint32]*CacheBlock),
		lru:       list.New(),
	}
	for s := uint32(0); s < numSlots; s++ {
		ds.freeSlots = append(ds.freeSlots, s)
	}

	if err := ds.recover(); err != nil {
		return nil, err
	}
	return ds, nil
}

// recover replays this data set's DS# metadata records to reconstruct the
// in-memory (fid,block_idx)->slot index after a restart (spec §4.5
// "DS#<sid><cache_block_slot> -> (file_id, block_idx, state) for crash-
// recovery of data-set indexes").
func (ds *dataSet) recover() error {
	prefix := make([]byte, len(prefixDS)+4)
	copy(prefix, prefixDS)
	binary.BigEndian.PutUint32(prefix[len(prefixDS):], ds.sid)

	return ds.meta.scanPrefix(prefix, func(key, value []byte) bool {
		if len(key) != len(prefixDS)+8 {
			return true
		}
		slot := binary.BigEndian.Uint32(key[len(prefixDS)+4:])
		fid, blockIdx, state, ok := decodeDSValue(value)
		if !ok || state == 0 {
			return true
		}
		b := newCacheBlock(fid, blockIdx)
		data := make([]byte, ds.blockSize)
		n, err := ds.file.ReadAt(data, int64(slot)*ds.blockSize)
		if err != nil && n == 0 {
			return true
		}
		b.setData(slot, data[:n])

		ds.mu.Lock()
		ds.blocks[blockKey{fid, blockIdx}] = b
		ds.slotOwner[slot] = b
		ds.removeFreeSlot(slot)
		ds.lru.PushFront(b)
		ds.mu.Unlock()
		return true
	})
}

func (ds *dataSet) removeFreeSlot(slot uint32) {
	for i, s := range ds.freeSlots {
		if s == slot {
			ds.freeSlots = append(ds.freeSlots[:i], ds.freeSlots[i+1:]...)
			return
		}
	}
}

// lookupOrCreate returns the CacheBlock tracking (fid, blockIdx), creating
// an empty (not-yet-Valid) one if this is the first reference.
func (ds *dataSet) lookupOrCreate(fid uint64, blockIdx uint32) *CacheBlock {
	k := blockKey{fid, blockIdx}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if b, ok := ds.blocks[k]; ok {
		return b
	}
	b := newCacheBlock(fid, blockIdx)
	ds.blocks[k] = b
	return b
}

// admit assigns b a slot (evicting the LRU victim if the data set is full),
// writes data to that slot, persists the DS# record, and marks b Valid.
func (ds *dataSet) admit(b *CacheBlock, data []byte) error {
	slot, victim := ds.reserveSlot(b)
	if slot == noSlot {
		return errors.New("pcache: every slot of the data set is locked")
	}
	if victim != nil {
		victim.invalidate()
	}

	if _, err := ds.file.WriteAt(data, int64(slot)*ds.blockSize); err != nil {
		ds.releaseSlot(slot, b)
		return err
	}

	dsv := encodeDSValue(b.fid, b.blockIdx, uint8(stateValid))
	if err := ds.meta.put(dsKey(ds.sid, slot), dsv); err != nil {
		ds.releaseSlot(slot, b)
		return err
	}

	b.setData(slot, data)

	ds.mu.Lock()
	ds.slotOwner[slot] = b
	ds.lru.PushFront(b)
	ds.mu.Unlock()
	return nil
}

// reserveSlot pops a free slot, or evicts the coldest non-locked block if
// none remain (spec §4.5 "Eviction: per-data-set LRU evicts the coldest
// CacheBlock; a block in state Locked is never evicted").
func (ds *dataSet) reserveSlot(forBlock *CacheBlock) (slot uint32, victim *CacheBlock) {
	ds.mu.Lock()
	if len(ds.freeSlots) > 0 {
		slot = ds.freeSlots[len(ds.freeSlots)-1]
		ds.freeSlots = ds.freeSlots[:len(ds.freeSlots)-1]
		ds.mu.Unlock()
		return slot, nil
	}

	for e := ds.lru.Back(); e != nil; e = e.Prev() {
		cand := e.Value.(*CacheBlock)
		if cand == forBlock || cand.isLocked() {
			continue
		}
		ds.lru.Remove(e)
		delete(ds.blocks, blockKey{cand.fid, cand.blockIdx})
		slot = cand.slot
		delete(ds.slotOwner, slot)
		ds.mu.Unlock()
		return slot, cand
	}
	ds.mu.Unlock()
	// Every slot locked: report noSlot, and admit fails the fill with an
	// error instead of overwriting a slot another block owns.
	return noSlot, nil
}

func (ds *dataSet) releaseSlot(slot uint32, forBlock *CacheBlock) {
	ds.mu.Lock()
	delete(ds.slotOwner, slot)
	ds.freeSlots = append(ds.freeSlots, slot)
	ds.mu.Unlock()
}

// read copies the resident block's bytes out of the data-set file.
func (ds *dataSet) read(b *CacheBlock) ([]byte, error) {
	if d := b.readData(); d != nil {
		return d, nil
	}
	buf := make([]byte, ds.blockSize)
	n, err := ds.file.ReadAt(buf, int64(b.slot)*ds.blockSize)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// evictFile drops every resident block belonging to fid, per spec §4.5
// "Deletion of a file erases all keys prefixed by its fid."
func (ds *dataSet) evictFile(fid uint64) {
	ds.mu.Lock()
	var toFree []uint32
	for k, b := range ds.blocks {
		if k.fid != fid {
			continue
		}
		delete(ds.blocks, k)
		if b.slot != noSlot {
			toFree = append(toFree, b.slot)
			delete(ds.slotOwner, b.slot)
		}
		b.invalidate()
	}
	for e := ds.lru.Front(); e != nil; {
		next := e.Next()
		if e.Value.(*CacheBlock).fid == fid {
			ds.lru.Remove(e)
		}
		e = next
	}
	ds.freeSlots = append(ds.freeSlots, toFree...)
	ds.mu.Unlock()

	prefix := make([]byte, len(prefixDS)+4)
	copy(prefix, prefixDS)
	binary.BigEndian.PutUint32(prefix[len(prefixDS):], ds.sid)
	ds.meta.scanPrefix(prefix, func(key, value []byte) bool {
		gotFid, _, _, ok := decodeDSValue(value)
		if ok && gotFid == fid {
			ds.meta.delete(append([]byte(nil), key...))
		}
		return true
	})
}

func (ds *dataSet) touch(b *CacheBlock) {
	ds.mu.Lock()
	for e := ds.lru.Front(); e != nil; e = e.Next() {
		if e.Value.(*CacheBlock) == b {
			ds.lru.MoveToFront(e)
			break
		}
	}
	ds.mu.Unlock()
}

func (ds *dataSet) close() error { return ds.file.Close() }
