// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/teratab/tabletserver/vfs"
)

// Cache is the persistent (SSD) block cache of spec §4.5, component C2: a
// content-addressed cache of fixed-size blocks from remote SSTables,
// partitioned across NumDataSets data sets and backed by an embedded
// metadata LSM engine, surviving process restart.
type Cache struct {
	opts Options
	fs   vfs.FS

	meta     *metaStore
	datasets []*dataSet
	lockKeys *LockKeyMap

	fidMu        sync.Mutex
	fidNext      uint64
	fidRemaining uint64

	deletedMu sync.Mutex
	deleted   map[uint64]int // fid -> GC cycles remaining on the grace list

	stopCh chan struct{}
	wg     sync.WaitGroup

	metrics Metrics
}

// Metrics exposes the counters SPEC_FULL.md's tserver Query operation
// surfaces for the persistent cache (hit rate, DFS fallback rate).
type Metrics struct {
	mu           sync.Mutex
	DFSReads     int64
	CacheReads   int64
	CacheFills   int64
	Degrades     int64
	FileIDsGranted int64
}

func (m *Metrics) addDFSRead()   { m.mu.Lock(); m.DFSReads++; m.mu.Unlock() }
func (m *Metrics) addCacheRead() { m.mu.Lock(); m.CacheReads++; m.mu.Unlock() }
func (m *Metrics) addCacheFill() { m.mu.Lock(); m.CacheFills++; m.mu.Unlock() }
func (m *Metrics) addDegrade()   { m.mu.Lock(); m.Degrades++; m.mu.Unlock() }

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{DFSReads: m.DFSReads, CacheReads: m.CacheReads, CacheFills: m.CacheFills, Degrades: m.Degrades,
		FileIDsGranted: m.FileIDsGranted}
}

// Open opens (or creates) a persistent cache rooted at opts.Dir: the
// metadata engine, every data-set file, and runs the startup repair pass
// for interrupted cache-fill writes before returning.
func Open(opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	if err := opts.FS.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, err
	}

	if err := repairInterruptedWrites(opts.FS, opts.Dir); err != nil {
		return nil, err
	}

	lock, err := acquireInitLoadLock(opts.FS, opts.Dir)
	if err != nil {
		return nil, err
	}
	defer lock.Close()

	meta, err := openMetaStore(opts.FS, opts.Dir)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		opts:     opts,
		fs:       opts.FS,
		meta:     meta,
		lockKeys: NewLockKeyMap(),
		deleted:  make(map[uint64]int),
		stopCh:   make(chan struct{}),
	}

	for sid := 0; sid < opts.NumDataSets; sid++ {
		path := opts.FS.PathJoin(opts.Dir, dataSetFileName(sid))
		ds, err := openDataSet(uint32(sid), opts.FS, path, opts.DataSetSize, opts.BlockSize, meta)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.datasets = append(c.datasets, ds)
	}

	c.wg.Add(1)
	go c.gcLoop()

	return c, nil
}

func dataSetFileName(sid int) string {
	var b strings.Builder
	b.WriteString("dataset-")
	b.WriteString(itoa(sid))
	b.WriteString(".ds")
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Close stops the background GC loop and closes every data set and the
// metadata store.
func (c *Cache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	for _, ds := range c.datasets {
		ds.close()
	}
	if c.meta != nil {
		return c.meta.close()
	}
	return nil
}

// dataSetFor selects the data set a given (fid, blockIdx) hashes to, per
// spec §4.5 "Key hashing selects the data-set."
func (c *Cache) dataSetFor(fid uint64, blockIdx uint32) *dataSet {
	h := xxhash.Sum64(encodeUint64(fid^uint64(blockIdx)))
	return c.datasets[h%uint64(len(c.datasets))]
}

// FileID returns the persistent cache's id for path, allocating a fresh one
// (in a batch of Options.FIDBatchNum) on first use.
func (c *Cache) FileID(path string) (uint64, error) {
	if fid, ok, err := c.lookupFileID(path); err != nil {
		return 0, err
	} else if ok {
		return fid, nil
	}

	var fid uint64
	err := c.lockKeys.Do("fname:"+path, func() error {
		if existing, ok, err := c.lookupFileID(path); err != nil {
			return err
		} else if ok {
			fid = existing
			return nil
		}
		allocated, err := c.allocateFileID(path)
		if err != nil {
			return err
		}
		fid = allocated
		c.metrics.mu.Lock()
		c.metrics.FileIDsGranted++
		c.metrics.mu.Unlock()
		return nil
	})
	return fid, err
}

// DeleteFile erases every persistent-cache key for fid, immediately if the
// file is not referenced by any live tablet (the common case, e.g. after a
// non-trivial compaction's DeleteObsoleteFiles), or defers one full GC
// cycle if the caller reports the file is still on the engine's delayed-gc
// list (spec §4.5 "if the file is still on a delayed-gc list, eviction is
// deferred one full GC cycle").
func (c *Cache) DeleteFile(fid uint64, stillOnDelayedGCList bool) {
	if stillOnDelayedGCList {
		c.deletedMu.Lock()
		c.deleted[fid] = c.opts.DeletionGraceCycles
		c.deletedMu.Unlock()
		return
	}
	for _, ds := range c.datasets {
		ds.evictFile(fid)
	}
}

// gcLoop advances the deletion grace list once per gcInterval, evicting any
// file whose countdown has reached zero (spec §3 "A persistent-cache key is
// resident only if ... it is on a one-cycle deletion grace list").
func (c *Cache) gcLoop() {
	defer c.wg.Done()
	t := time.NewTicker(gcInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.gcTick()
		}
	}
}

func (c *Cache) gcTick() {
	var ready []uint64
	c.deletedMu.Lock()
	for fid, remaining := range c.deleted {
		remaining--
		if remaining <= 0 {
			ready = append(ready, fid)
			delete(c.deleted, fid)
		} else {
			c.deleted[fid] = remaining
		}
	}
	c.deletedMu.Unlock()

	for _, fid := range ready {
		for _, ds := range c.datasets {
			ds.evictFile(fid)
		}
	}
}

// Metrics returns the cache's counters, consumed by tserver's Query
// operation.
func (c *Cache) Metrics() Metrics { return c.metrics.Snapshot() }
