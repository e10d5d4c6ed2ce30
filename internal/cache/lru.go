// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package cache implements the server-wide, in-memory block cache and table
// cache of spec §4.4/§5 (component C4, shared across every engine on the
// server). It is a sharded LRU sized in bytes; entries are not
// reference-counted, and eviction removes a block regardless of readers. Same
// role as the teacher's own internal/cache package (referenced by name from
// CyberFlameGO-pebble-1/metrics.go's CacheMetrics = cache.Metrics alias).
package cache

import (
	"container/list"
	"sync"
)

const shardCount = 16

// Metrics mirrors the fields the teacher's own cache.Metrics exposes,
// consumed by tserver's Query operation (spec §6).
type Metrics struct {
	Count int64
	Size  int64
	Hits  int64
	Misses int64
}

// Key identifies a cached block: (file number, block offset).
type Key struct {
	FileNum uint64
	Offset  uint64
}

type entry struct {
	key   Key
	value []byte
	elem  *list.Element
}

type shard struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	ll       *list.List
	items    map[Key]*entry
	hits     int64
	misses   int64
}

// Cache is a capacity-bounded, sharded LRU of decompressed block bytes.
type Cache struct {
	shards [shardCount]*shard
}

// New creates a Cache with the given total capacity in bytes, split evenly
// across shards to reduce lock contention between concurrently reading
// engines (spec §5 "Table-cache and block-cache are internally synchronised
// sharded LRUs").
func New(capacityBytes int64) *Cache {
	c := &Cache{}
	per := capacityBytes / shardCount
	if per < 1 {
		per = 1
	}
	for i := range c.shards {
		c.shards[i] = &shard{capacity: per, ll: list.New(), items: make(map[Key]*entry)}
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	h := k.FileNum*1099511628211 ^ k.Offset
	return c.shards[h%uint64(shardCount)]
}

// Get returns the cached block, if present, bumping its recency.
func (c *Cache) Get(k Key) ([]byte, bool) {
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[k]
	if !ok {
		s.misses++
		return nil, false
	}
	s.hits++
	s.ll.MoveToFront(e.elem)
	return e.value, true
}

// Set inserts or replaces a block, evicting the coldest entries in this
// shard until the shard is back under capacity in bytes. Eviction consults
// no reference count.
func (c *Cache) Set(k Key, value []byte) {
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[k]; ok {
		s.size -= int64(len(old.value))
		s.ll.Remove(old.elem)
		delete(s.items, k)
	}
	e := &entry{key: k, value: value}
	e.elem = s.ll.PushFront(e)
	s.items[k] = e
	s.size += int64(len(value))

	for s.size > s.capacity && s.ll.Len() > 0 {
		back := s.ll.Back()
		victim := back.Value.(*entry)
		s.ll.Remove(back)
		delete(s.items, victim.key)
		s.size -= int64(len(victim.value))
	}
}

// EvictFile drops every cached block belonging to fileNum, used when an
// SSTable is deleted (spec §8 property 5, applied here to the in-memory
// cache as well as the persistent one).
func (c *Cache) EvictFile(fileNum uint64) {
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if k.FileNum == fileNum {
				s.ll.Remove(e.elem)
				delete(s.items, k)
				s.size -= int64(len(e.value))
			}
		}
		s.mu.Unlock()
	}
}

// AsBlockCache adapts c to sstable.BlockCache's (fileNum, offset)-keyed
// shape, letting a *Cache be handed to a sstable.Reader without sstable
// importing this package back.
func (c *Cache) AsBlockCache() *blockCacheAdapter { return &blockCacheAdapter{c: c} }

type blockCacheAdapter struct{ c *Cache }

func (a *blockCacheAdapter) Get(fileNum, offset uint64) ([]byte, bool) {
	return a.c.Get(Key{FileNum: fileNum, Offset: offset})
}

func (a *blockCacheAdapter) Set(fileNum, offset uint64, value []byte) {
	a.c.Set(Key{FileNum: fileNum, Offset: offset}, value)
}

// Metrics aggregates per-shard counters for reporting.
func (c *Cache) Metrics() Metrics {
	var m Metrics
	for _, s := range c.shards {
		s.mu.Lock()
		m.Count += int64(len(s.items))
		m.Size += s.size
		m.Hits += s.hits
		m.Misses += s.misses
		s.mu.Unlock()
	}
	return m
}
