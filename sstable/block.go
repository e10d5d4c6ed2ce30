// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"github.com/teratab/tabletserver/internal/base"
)

// blockEntry is one internal-key/value pair as encoded within a data block:
//
//	varint(len(userKey)) userKey trailer(8 bytes) varint(len(value)) value
//
// Blocks are small (default 4 KiB, matching the persistent cache's logical
// block size from spec §4.5) so full key-prefix compression is not worth
// the added complexity the teacher's own block format carries for much
// larger RocksDB-style blocks; every entry is self-contained.
type blockWriter struct {
	buf     []byte
	entries int
}

func (w *blockWriter) add(key base.InternalKey, value []byte) {
	w.buf = appendUvarint(w.buf, uint64(len(key.UserKey)))
	w.buf = append(w.buf, key.UserKey...)
	w.buf = base.EncodeTrailer(w.buf, key.Seq, key.Kind)
	w.buf = appendUvarint(w.buf, uint64(len(value)))
	w.buf = append(w.buf, value...)
	w.entries++
}

func (w *blockWriter) size() int { return len(w.buf) }

func (w *blockWriter) finish() []byte { return w.buf }

func (w *blockWriter) reset() {
	w.buf = w.buf[:0]
	w.entries = 0
}

// blockIter walks the entries of a decoded (decompressed) data block in
// order.
type blockIter struct {
	data []byte
	off  int
	key  base.InternalKey
	val  []byte
	err  error
}

func newBlockIter(data []byte) *blockIter {
	return &blockIter{data: data}
}

// next decodes the entry at the current offset; returns false at end of
// block or on decode error (check Error()).
func (it *blockIter) next() bool {
	if it.off >= len(it.data) {
		return false
	}
	klen, rest, err := readUvarint(it.data[it.off:])
	if err != nil {
		it.err = err
		return false
	}
	if uint64(len(rest)) < klen+8 {
		it.err = errCorruption
		return false
	}
	userKey := rest[:klen]
	seq, kind, _ := base.DecodeTrailer(rest[:klen+8])
	rest = rest[klen+8:]
	vlen, rest, err := readUvarint(rest)
	if err != nil {
		it.err = err
		return false
	}
	if uint64(len(rest)) < vlen {
		it.err = errCorruption
		return false
	}
	it.key = base.InternalKey{UserKey: userKey, Seq: seq, Kind: kind}
	it.val = rest[:vlen]
	it.off = len(it.data) - len(rest) + int(vlen)
	return true
}

func (it *blockIter) Error() error { return it.err }
