// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"github.com/teratab/tabletserver/internal/base"
)

// BlockCache is the shared, decompressed-block cache a Reader consults
// before going to disk, implemented by internal/cache.Cache. Defined here
// as an interface, rather than imported directly, because internal/cache
// already depends on this package for its TableCache.
type BlockCache interface {
	Get(fileNum, offset uint64) ([]byte, bool)
	Set(fileNum, offset uint64, value []byte)
}

// ReaderOptions carries the shared block cache to read/fill (spec §4.4,
// component C4). The reader does not consult Compression: each block's
// trailer records the codec it was written with.
type ReaderOptions struct {
	Compression CompressionType

	// Cache and FileNum, if Cache is non-nil, route every data/index/meta
	// block read for this table through the shared in-memory block cache
	// before falling back to the file.
	Cache   BlockCache
	FileNum uint64
}

// Reader opens an immutable table for point lookups and iteration. A Reader
// may be used concurrently by multiple goroutines (spec §4.4 "A reader can
// be used concurrently"); NewIter returns an independent iterator per
// caller.
type Reader struct {
	file   File
	size   int64
	opts   ReaderOptions
	footer footer

	index     []byte // decoded index block
	metaIndex []byte // decoded meta-index block
}

// NewReader opens and validates file's footer, loading the (small) index
// and meta-index blocks eagerly, matching the teacher's own reader which
// "eagerly loads the footer, metaindex block ... because the data ... is
// needed on every read."
func NewReader(file File, opts ReaderOptions) (*Reader, error) {
	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < footerLen {
		return nil, errCorruption
	}
	buf := make([]byte, footerLen)
	if _, err := file.ReadAt(buf, size-footerLen); err != nil {
		return nil, err
	}
	ft, err := decodeFooter(buf)
	if err != nil {
		return nil, err
	}
	r := &Reader{file: file, size: size, opts: opts, footer: ft}
	if r.index, err = r.readBlock(ft.indexHandle); err != nil {
		return nil, err
	}
	if r.metaIndex, err = r.readBlock(ft.metaIndexHandle); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) readBlock(h BlockHandle) ([]byte, error) {
	if r.opts.Cache != nil {
		if data, ok := r.opts.Cache.Get(r.opts.FileNum, h.Offset); ok {
			return data, nil
		}
	}

	buf := make([]byte, h.Length+blockTrailerLen)
	if _, err := r.file.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	data, kind, err := verifyAndStripTrailer(buf)
	if err != nil {
		return nil, err
	}
	data, err = decompressBlock(kind, data)
	if err != nil {
		return nil, err
	}

	if r.opts.Cache != nil {
		r.opts.Cache.Set(r.opts.FileNum, h.Offset, data)
	}
	return data, nil
}

// filterFor returns the Bloom filter bitmap covering dataHandle, or nil if
// no filter was built for this table.
func (r *Reader) filterFor(dataHandle BlockHandle) []byte {
	it := newBlockIter(r.metaIndex)
	target := encodeHandle(dataHandle)
	for it.next() {
		if string(it.key.UserKey) == string(target) {
			fh, _, err := decodeBlockHandle(it.val)
			if err != nil {
				return nil
			}
			data, err := r.readBlock(fh)
			if err != nil {
				return nil
			}
			return data
		}
	}
	return nil
}

// dataBlockHandles returns the index entries in order: (lastKey, handle).
func (r *Reader) dataBlockHandles() ([]base.InternalKey, []BlockHandle, error) {
	it := newBlockIter(r.index)
	var keys []base.InternalKey
	var handles []BlockHandle
	for it.next() {
		h, _, err := decodeBlockHandle(it.val)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, it.key)
		handles = append(handles, h)
	}
	if it.Error() != nil {
		return nil, nil, it.Error()
	}
	return keys, handles, nil
}

// Get returns the value for the highest-sequence entry of userKey with
// sequence <= snapshot, following spec §3's "highest-sequence entry ...
// with sequence <= snapshot" read rule at the single-table level.
func (r *Reader) Get(cmp base.Compare, userKey []byte, snapshot base.SeqNum) (value []byte, kind base.InternalKeyKind, seq base.SeqNum, found bool, err error) {
	keys, handles, err := r.dataBlockHandles()
	if err != nil {
		return nil, 0, 0, false, err
	}
	idx := searchBlock(cmp, keys, userKey)
	if idx >= len(handles) {
		return nil, 0, 0, false, nil
	}

	var bestVal []byte
	var bestKind base.InternalKeyKind
	bestSeq := base.SeqNum(0)
	haveBest := false
	// The versions of userKey can straddle data blocks: keep reading while
	// a block ends on userKey and no visible version has been found yet.
	for ; idx < len(handles) && !haveBest; idx++ {
		if filter := r.filterFor(handles[idx]); filter != nil && !BloomMayContain(filter, userKey) {
			break
		}

		data, err := r.readBlock(handles[idx])
		if err != nil {
			return nil, 0, 0, false, err
		}
		it := newBlockIter(data)
		for it.next() {
			if cmp(it.key.UserKey, userKey) != 0 {
				continue
			}
			if it.key.Seq > snapshot {
				continue
			}
			if !haveBest || it.key.Seq > bestSeq {
				bestVal = append([]byte(nil), it.val...)
				bestKind = it.key.Kind
				bestSeq = it.key.Seq
				haveBest = true
			}
		}
		if it.Error() != nil {
			return nil, 0, 0, false, it.Error()
		}
		if cmp(keys[idx].UserKey, userKey) != 0 {
			break
		}
	}
	return bestVal, bestKind, bestSeq, haveBest, nil
}

// searchBlock returns the index of the first data block whose last key is
// >= userKey (binary search, spec §4.1 "at levels >= 1, one file is located
// by binary search"; the same principle applies within a table's index).
func searchBlock(cmp base.Compare, lastKeys []base.InternalKey, userKey []byte) int {
	lo, hi := 0, len(lastKeys)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(lastKeys[mid].UserKey, userKey) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Iterator walks every internal key of the table in order; used by scans
// and by compaction's merging iterator (spec §4.1 "Scan").
type Iterator struct {
	r       *Reader
	cmp     base.Compare
	handles []BlockHandle
	blockNo int
	cur     *blockIter
	err     error
}

func (r *Reader) NewIterator(cmp base.Compare) (*Iterator, error) {
	_, handles, err := r.dataBlockHandles()
	if err != nil {
		return nil, err
	}
	return &Iterator{r: r, cmp: cmp, handles: handles, blockNo: -1}, nil
}

func (it *Iterator) loadBlock(n int) bool {
	data, err := it.r.readBlock(it.handles[n])
	if err != nil {
		it.err = err
		return false
	}
	it.cur = newBlockIter(data)
	return true
}

// First positions the iterator at the smallest key.
func (it *Iterator) First() bool {
	it.blockNo = 0
	return it.advanceUntilValid()
}

func (it *Iterator) advanceUntilValid() bool {
	for it.blockNo < len(it.handles) {
		if it.cur == nil {
			if !it.loadBlock(it.blockNo) {
				return false
			}
		}
		if it.cur.next() {
			return true
		}
		if it.cur.Error() != nil {
			it.err = it.cur.Error()
			return false
		}
		it.blockNo++
		it.cur = nil
	}
	return false
}

// Next advances to the next key in order.
func (it *Iterator) Next() bool {
	if it.cur != nil && it.cur.next() {
		return true
	}
	if it.cur != nil && it.cur.Error() != nil {
		it.err = it.cur.Error()
		return false
	}
	it.blockNo++
	it.cur = nil
	return it.advanceUntilValid()
}

func (it *Iterator) Key() base.InternalKey { return it.cur.key }
func (it *Iterator) Value() []byte         { return it.cur.val }
func (it *Iterator) Error() error          { return it.err }
