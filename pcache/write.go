// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import "sync"

// CacheThroughWriter wraps the append-only write of a newly created SSTable
// so that full blocks are mirrored into the persistent cache asynchronously
// as they are produced, per spec §4.5 "Write algorithm (cache-through for
// newly written SSTables)": the file writer appends to DFS synchronously;
// full blocks are queued and flushed to the SSD cache asynchronously
// through the same FillCache path as a read miss.
type CacheThroughWriter struct {
	cache *Cache
	path  string
	fid   uint64

	buf    []byte
	offset int64

	wg sync.WaitGroup
}

// NewCacheThroughWriter opens (granting, if needed, a fresh file id for)
// path and returns a writer that mirrors full blocks as they arrive.
func NewCacheThroughWriter(c *Cache, path string) (*CacheThroughWriter, error) {
	fid, err := c.FileID(path)
	if err != nil {
		return nil, err
	}
	return &CacheThroughWriter{cache: c, path: path, fid: fid}, nil
}

// Write accepts bytes already durably appended to DFS by the caller and
// queues every full block boundary crossed for an asynchronous cache fill.
func (w *CacheThroughWriter) Write(p []byte) {
	w.buf = append(w.buf, p...)
	bs := w.cache.opts.BlockSize
	for int64(len(w.buf)) >= bs {
		block := w.buf[:bs]
		w.buf = w.buf[bs:]
		w.enqueueFill(w.offset, block)
		w.offset += bs
	}
}

func (w *CacheThroughWriter) enqueueFill(offset int64, data []byte) {
	blockIdx := uint32(offset / w.cache.opts.BlockSize)
	cp := append([]byte(nil), data...)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ds := w.cache.dataSetFor(w.fid, blockIdx)
		b := ds.lookupOrCreate(w.fid, blockIdx)
		b.lock()
		defer b.unlock()
		if b.isValid() {
			return
		}
		if err := ds.admit(b, cp); err != nil {
			b.setError(err)
			return
		}
		w.cache.metrics.addCacheFill()
	}()
}

// Close waits for every queued fill to finish; any remaining partial final
// block (smaller than BlockSize) is left unfilled, matching the spec's
// block-aligned cache unit — a later whole-block read will simply miss and
// fill normally.
func (w *CacheThroughWriter) Close() {
	w.wg.Wait()
}
