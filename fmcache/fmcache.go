// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package fmcache implements the Flash Mirror Cache of spec §4.6 (component
// C3): a simpler alternative to pcache that mirrors whole SSTables to local
// SSD, selectable per server deployment.
package fmcache

import (
	"container/heap"
	"io"
	"sync"
	"time"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

// Options configures a Cache.
type Options struct {
	// MirrorDir is the local directory whole-file mirrors are copied into.
	MirrorDir string
	LocalFS   vfs.FS
	RemoteFS  vfs.FS

	// CopyConcurrency bounds how many mirror copies run at once.
	CopyConcurrency int

	// BasePriority and MinPriority bound the exponential decay applied to a
	// failed copy's retry priority (spec §4.6 "rescheduled with
	// exponentially decaying priority").
	BasePriority float64
	MinPriority  float64

	Logger base.Logger
}

func (o Options) withDefaults() Options {
	if o.CopyConcurrency <= 0 {
		o.CopyConcurrency = 4
	}
	if o.BasePriority <= 0 {
		o.BasePriority = 1.0
	}
	if o.MinPriority <= 0 {
		o.MinPriority = 0.01
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	return o
}

// mirrorState tracks one remote file's local-mirror lifecycle.
type mirrorState struct {
	remotePath string
	localPath  string
	size       int64
	ready      bool
	priority   float64
	attempts   int
}

// Cache is the whole-file mirror cache of spec §4.6.
type Cache struct {
	opts Options

	mu      sync.Mutex
	mirrors map[string]*mirrorState

	queue   copyQueue
	queueMu sync.Mutex
	wake    chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open starts CopyConcurrency background copy workers and returns a Cache
// ready to serve reads against opts.MirrorDir.
func Open(opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	if err := opts.LocalFS.MkdirAll(opts.MirrorDir, 0755); err != nil {
		return nil, err
	}
	c := &Cache{
		opts:    opts,
		mirrors: make(map[string]*mirrorState),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&c.queue)
	for i := 0; i < opts.CopyConcurrency; i++ {
		c.wg.Add(1)
		go c.copyWorker()
	}
	return c, nil
}

// Close stops the background copy workers.
func (c *Cache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// OnOpen registers remotePath for a background mirror copy, per spec §4.6
// "on each SSTable open, spawn a prioritised background copy of the remote
// file to a local mirror path."
func (c *Cache) OnOpen(remotePath string, size int64) {
	local := c.localPath(remotePath)

	c.mu.Lock()
	if _, ok := c.mirrors[remotePath]; ok {
		c.mu.Unlock()
		return
	}
	ms := &mirrorState{remotePath: remotePath, localPath: local, size: size, priority: c.opts.BasePriority}
	c.mirrors[remotePath] = ms
	c.mu.Unlock()

	c.enqueue(ms)
}

func (c *Cache) localPath(remotePath string) string {
	return c.opts.LocalFS.PathJoin(c.opts.MirrorDir, c.opts.LocalFS.PathBase(remotePath))
}

func (c *Cache) enqueue(ms *mirrorState) {
	c.queueMu.Lock()
	heap.Push(&c.queue, &queueItem{ms: ms, priority: ms.priority})
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Cache) copyWorker() {
	defer c.wg.Done()
	for {
		item := c.dequeue()
		if item == nil {
			select {
			case <-c.stopCh:
				return
			case <-c.wake:
				continue
			case <-time.After(time.Second):
				continue
			}
		}
		c.runCopy(item.ms)
	}
}

func (c *Cache) dequeue() *queueItem {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&c.queue).(*queueItem)
}

func (c *Cache) runCopy(ms *mirrorState) {
	err := c.copyOnce(ms)
	c.mu.Lock()
	if err == nil {
		ms.ready = true
		ms.attempts = 0
		c.mu.Unlock()
		return
	}
	ms.attempts++
	ms.priority /= 2
	if ms.priority < c.opts.MinPriority {
		ms.priority = c.opts.MinPriority
	}
	c.mu.Unlock()
	c.opts.Logger.Errorf("fmcache: copy %s failed (attempt %d): %v", ms.remotePath, ms.attempts, err)
	c.enqueue(ms)
}

func (c *Cache) copyOnce(ms *mirrorState) error {
	src, err := c.opts.RemoteFS.Open(ms.remotePath, vfs.SequentialReads)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := ms.localPath + ".tmp"
	dst, err := c.opts.LocalFS.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		c.opts.LocalFS.Remove(tmp)
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		c.opts.LocalFS.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return c.opts.LocalFS.Rename(tmp, ms.localPath)
}

// Read serves [offset, offset+n) from the local mirror only when its size
// matches the remote file exactly (spec §4.6 "reads are served from the
// mirror only when size matches exactly"), otherwise reports a cache miss
// so the caller falls back to a direct remote read.
func (c *Cache) Read(remotePath string, remoteSize, offset, n int64) ([]byte, bool, error) {
	c.mu.Lock()
	ms, ok := c.mirrors[remotePath]
	c.mu.Unlock()
	if !ok || !ms.ready {
		return nil, false, nil
	}

	fi, err := c.opts.LocalFS.Stat(ms.localPath)
	if err != nil || fi.Size() != remoteSize {
		return nil, false, nil
	}

	f, err := c.opts.LocalFS.Open(ms.localPath)
	if err != nil {
		return nil, false, nil
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && read == 0 {
		return nil, false, err
	}
	return buf[:read], true, nil
}

// OnDelete removes the local mirror, per spec §4.6 "On file delete, the
// mirror is deleted."
func (c *Cache) OnDelete(remotePath string) {
	c.mu.Lock()
	ms, ok := c.mirrors[remotePath]
	delete(c.mirrors, remotePath)
	c.mu.Unlock()
	if ok {
		c.opts.LocalFS.Remove(ms.localPath)
	}
}
