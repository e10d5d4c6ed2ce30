// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"golang.org/x/sync/errgroup"
)

// FetchFunc reads [offset, offset+length) directly from the backing DFS
// file; the cache calls it on a miss or to degrade a whole request when a
// cache operation fails.
type FetchFunc func(offset, length int64) ([]byte, error)

type blockPlan struct {
	idx    uint32
	off    int64
	length int64
	block  *CacheBlock
}

// Read implements spec §4.5's read algorithm for a ranged read
// [offset, offset+n) of the remote SSTable at path: split into block-
// aligned blocks, partition by state, dispatch valid blocks to SSD reads
// and miss blocks to DFS + cache-fill, wait on in-flight blocks, and
// assemble the result. Any per-block error degrades the whole request to a
// direct DFS read.
func (c *Cache) Read(path string, offset, n int64, fetch FetchFunc) ([]byte, error) {
	fid, err := c.FileID(path)
	if err != nil {
		return c.degrade(offset, n, fetch)
	}

	plans := c.planBlocks(fid, offset, n)

	var valid, miss, locked []blockPlan
	for _, p := range plans {
		switch classifyBlock(p.block) {
		case blockValid:
			valid = append(valid, p)
		case blockLocked:
			locked = append(locked, p)
		default:
			miss = append(miss, p)
		}
	}

	out := make([][]byte, len(plans))
	idxOf := make(map[uint32]int, len(plans))
	for i, p := range plans {
		idxOf[p.idx] = i
	}

	g := new(errgroup.Group)

	for _, p := range valid {
		p := p
		g.Go(func() error {
			ds := c.dataSetFor(fid, p.idx)
			data, err := ds.read(p.block)
			if err != nil {
				return err
			}
			ds.touch(p.block)
			c.metrics.addCacheRead()
			out[idxOf[p.idx]] = data
			return nil
		})
	}

	for _, p := range locked {
		p := p
		g.Go(func() error {
			ok, ferr := p.block.waitFilled()
			if ferr != nil || !ok {
				data, err := fetch(p.off, p.length)
				if err != nil {
					return err
				}
				out[idxOf[p.idx]] = data
				return nil
			}
			ds := c.dataSetFor(fid, p.idx)
			data, err := ds.read(p.block)
			if err != nil {
				return err
			}
			c.metrics.addCacheRead()
			out[idxOf[p.idx]] = data
			return nil
		})
	}

	for _, p := range miss {
		p := p
		g.Go(func() error {
			data, err := fetch(p.off, p.length)
			c.metrics.addDFSRead()
			if err != nil {
				p.block.setError(err)
				p.block.unlock()
				return err
			}
			ds := c.dataSetFor(fid, p.idx)
			if admitErr := ds.admit(p.block, data); admitErr != nil {
				p.block.setError(admitErr)
				p.block.unlock()
				out[idxOf[p.idx]] = data
				return nil
			}
			c.metrics.addCacheFill()
			p.block.unlock()
			out[idxOf[p.idx]] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return c.degrade(offset, n, fetch)
	}

	return assemble(out, offset, n, c.opts.BlockSize, plans), nil
}

type blockClass int

const (
	blockValid blockClass = iota
	blockLocked
	blockMiss
)

// classifyBlock inspects state once and, for a miss, atomically claims the
// Locked bit so no second caller also treats it as a miss (spec §4.5 "then
// partition into three lists").
func classifyBlock(b *CacheBlock) blockClass {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.state.has(stateLocked):
		return blockLocked
	case b.state.has(stateValid):
		return blockValid
	default:
		b.state |= stateLocked
		return blockMiss
	}
}

// planBlocks computes the block-aligned plan for [offset, offset+n).
func (c *Cache) planBlocks(fid uint64, offset, n int64) []blockPlan {
	bs := c.opts.BlockSize
	first := offset / bs
	last := (offset + n - 1) / bs
	plans := make([]blockPlan, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		ds := c.dataSetFor(fid, uint32(idx))
		b := ds.lookupOrCreate(fid, uint32(idx))
		plans = append(plans, blockPlan{idx: uint32(idx), off: idx * bs, length: bs, block: b})
	}
	return plans
}

// assemble stitches the per-block buffers into the caller's requested
// [offset, offset+n) window.
func assemble(blocks [][]byte, offset, n, blockSize int64, plans []blockPlan) []byte {
	out := make([]byte, 0, n)
	want := offset
	end := offset + n
	for i, p := range plans {
		blkStart := p.off
		blkEnd := p.off + int64(len(blocks[i]))
		lo := want
		if lo < blkStart {
			lo = blkStart
		}
		hi := end
		if hi > blkEnd {
			hi = blkEnd
		}
		if lo >= hi {
			continue
		}
		out = append(out, blocks[i][lo-blkStart:hi-blkStart]...)
		want = hi
		_ = blockSize
	}
	return out
}

// degrade performs a direct DFS read bypassing the cache entirely, per spec
// §4.5 "on any block error, degrade to direct DFS read for the whole
// request."
func (c *Cache) degrade(offset, n int64, fetch FetchFunc) ([]byte, error) {
	c.metrics.addDegrade()
	return fetch(offset, n)
}
