// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cache

import (
	"sync"

	"github.com/teratab/tabletserver/sstable"
	"github.com/teratab/tabletserver/vfs"
)

// TableCache caches opened sstable.Reader handles (index + filter resident)
// keyed by file number, shared across every engine on the server (spec §4.4
// "A TableCache keyed by file number caches opened Table handles").
type TableCache struct {
	mu    sync.Mutex
	open  map[uint64]*sstable.Reader
	limit int
	order []uint64

	// blocks, if set via WithBlockCache, is threaded into every reader this
	// table cache opens so data/index/meta blocks are served from the
	// shared in-memory block cache (spec §4.4, component C4) instead of
	// re-reading the file on every lookup.
	blocks sstable.BlockCache
}

// NewTableCache creates a TableCache admitting up to limit open readers.
func NewTableCache(limit int) *TableCache {
	return &TableCache{open: make(map[uint64]*sstable.Reader), limit: limit}
}

// WithBlockCache attaches the server-wide block cache; every reader opened
// after this call routes its block reads through it.
func (tc *TableCache) WithBlockCache(c *Cache) *TableCache {
	tc.blocks = c.AsBlockCache()
	return tc
}

// Get returns a cached reader for fileNum, opening path via fs on miss.
func (tc *TableCache) Get(fs vfs.FS, path string, fileNum uint64, ropts sstable.ReaderOptions) (*sstable.Reader, error) {
	tc.mu.Lock()
	if r, ok := tc.open[fileNum]; ok {
		tc.mu.Unlock()
		return r, nil
	}
	blocks := tc.blocks
	tc.mu.Unlock()

	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	if blocks != nil {
		ropts.Cache = blocks
		ropts.FileNum = fileNum
	}
	r, err := sstable.NewReader(f, ropts)
	if err != nil {
		return nil, err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if existing, ok := tc.open[fileNum]; ok {
		return existing, nil
	}
	tc.open[fileNum] = r
	tc.order = append(tc.order, fileNum)
	if tc.limit > 0 && len(tc.order) > tc.limit {
		evict := tc.order[0]
		tc.order = tc.order[1:]
		delete(tc.open, evict)
	}
	return r, nil
}

// Evict drops fileNum from the cache (used on file deletion, spec §8
// property 5).
func (tc *TableCache) Evict(fileNum uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.open, fileNum)
	for i, n := range tc.order {
		if n == fileNum {
			tc.order = append(tc.order[:i], tc.order[i+1:]...)
			break
		}
	}
}
