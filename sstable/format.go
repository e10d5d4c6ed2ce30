// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package sstable implements the immutable sorted key/value file format of
// spec §4.4 (component C4): data blocks, an index block, a Bloom-filter
// meta-index block, and a fixed footer, modeled directly on the teacher's
// own sstable package (darshanime-pebble/sstable/table.go).
//
// File layout:
//
//	[data block 0]
//	[data block 1]
//	...
//	[data block N-1]
//	[filter block]       (one Bloom filter per data block, optional)
//	[meta-index block]   (data-block handle -> filter-block handle)
//	[index block]        (last internal key of each data block -> offset/len)
//	[footer]             (fixed size, holds the index and meta-index handles)
package sstable

import (
	"encoding/binary"

	"github.com/DataDog/zstd"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
)

// CompressionType selects the per-block codec, a per-locality-group schema
// option (spec §3 "per-family options ... compression").
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
)

func compressBlock(kind CompressionType, data []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionZstd:
		return zstd.Compress(nil, data)
	default:
		return nil, errors.Newf("sstable: unknown compression type %d", kind)
	}
}

func decompressBlock(kind CompressionType, data []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionZstd:
		return zstd.Decompress(nil, data)
	default:
		return nil, errors.Newf("sstable: unknown compression type %d", kind)
	}
}

// blockTrailerLen is the 1-byte compression-type tag plus the 8-byte
// xxhash64 checksum appended after every on-disk block.
const blockTrailerLen = 1 + 8

func appendBlockTrailer(compressed []byte, kind CompressionType) []byte {
	out := append(compressed, byte(kind))
	h := xxhash.Sum64(out)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], h)
	return append(out, tmp[:]...)
}

func verifyAndStripTrailer(buf []byte) (data []byte, kind CompressionType, err error) {
	if len(buf) < blockTrailerLen {
		return nil, 0, errors.Mark(errors.New("sstable: truncated block"), errCorruption)
	}
	n := len(buf) - 8
	want := binary.LittleEndian.Uint64(buf[n:])
	got := xxhash.Sum64(buf[:n])
	if want != got {
		return nil, 0, errors.Mark(errors.Newf("sstable: checksum mismatch (block corrupt)"), errCorruption)
	}
	kind = CompressionType(buf[n-1])
	return buf[:n-1], kind, nil
}

// BlockHandle locates a block within the file: byte offset and length
// (excluding the trailer).
type BlockHandle struct {
	Offset, Length uint64
}

func (h BlockHandle) encode(buf []byte) []byte {
	buf = appendUvarint(buf, h.Offset)
	buf = appendUvarint(buf, h.Length)
	return buf
}

func decodeBlockHandle(buf []byte) (BlockHandle, []byte, error) {
	off, rest, err := readUvarint(buf)
	if err != nil {
		return BlockHandle{}, nil, err
	}
	length, rest, err := readUvarint(rest)
	if err != nil {
		return BlockHandle{}, nil, err
	}
	return BlockHandle{Offset: off, Length: length}, rest, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, errors.Mark(errors.New("sstable: invalid varint"), errCorruption)
	}
	return v, buf[n:], nil
}
