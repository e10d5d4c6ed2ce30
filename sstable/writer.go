// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

// WriterOptions configures a new table, mirroring the per-locality-group
// schema options of spec §3 (compression, Bloom filter on/off) plus the
// block size knob shared with the persistent cache (spec §4.5).
type WriterOptions struct {
	Compression  CompressionType
	BlockSize    int
	FilterPolicy bool
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	return o
}

// Writer builds one immutable sstable file. Keys must be added in strictly
// increasing internal-key order (spec §3 "Internal key" comparator).
type Writer struct {
	file File
	opts WriterOptions

	dataBlock  blockWriter
	filter     BloomFilterWriter
	indexBlock blockWriter // keyed by last key of each data block

	offset    uint64
	smallest  base.InternalKey
	largest   base.InternalKey
	haveFirst bool
	entries   int

	pendingIndexKey  base.InternalKey
	pendingHaveIndex bool

	metaFilterEntries []filterEntry
	closed            bool
}

type filterEntry struct {
	handle BlockHandle
	filter []byte
}

// File is the narrow vfs.File surface the writer needs.
type File = vfs.File

// NewWriter creates a Writer over file.
func NewWriter(file File, opts WriterOptions) *Writer {
	return &Writer{file: file, opts: opts.withDefaults()}
}

// Add appends a key/value pair; keys must arrive in ascending internal-key
// order (ties broken by descending sequence per spec §3).
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if !w.haveFirst {
		w.smallest = key.Clone()
		w.haveFirst = true
	}
	w.largest = key.Clone()
	w.entries++

	w.dataBlock.add(key, value)
	w.filter.Add(key.UserKey)
	w.pendingIndexKey = key
	w.pendingHaveIndex = true

	if w.dataBlock.size() >= w.opts.BlockSize {
		return w.flushDataBlock()
	}
	return nil
}

func (w *Writer) flushDataBlock() error {
	if w.dataBlock.entries == 0 {
		return nil
	}
	handle, err := w.writeBlock(w.dataBlock.finish())
	if err != nil {
		return err
	}
	if w.opts.FilterPolicy {
		w.metaFilterEntries = append(w.metaFilterEntries, filterEntry{handle: handle, filter: w.filter.Finish()})
	}
	w.indexBlock.add(w.pendingIndexKey, encodeHandle(handle))
	w.dataBlock.reset()
	w.filter = BloomFilterWriter{}
	w.pendingHaveIndex = false
	return nil
}

func encodeHandle(h BlockHandle) []byte { return h.encode(nil) }

func (w *Writer) writeBlock(data []byte) (BlockHandle, error) {
	compressed, err := compressBlock(w.opts.Compression, data)
	if err != nil {
		return BlockHandle{}, err
	}
	withTrailer := appendBlockTrailer(compressed, w.opts.Compression)
	if _, err := w.file.Write(withTrailer); err != nil {
		return BlockHandle{}, err
	}
	h := BlockHandle{Offset: w.offset, Length: uint64(len(withTrailer)) - blockTrailerLen}
	w.offset += uint64(len(withTrailer))
	return h, nil
}

// Properties summarizes a finished table, the subset of spec §3's SSTable
// entity fields the writer itself can compute.
type Properties struct {
	SmallestKey base.InternalKey
	LargestKey  base.InternalKey
	Entries     int
	Size        uint64
}

// Close flushes any buffered block, writes the meta-index and index blocks
// and the footer, and returns the table's properties.
func (w *Writer) Close() (Properties, error) {
	if w.closed {
		return Properties{}, nil
	}
	w.closed = true
	if err := w.flushDataBlock(); err != nil {
		return Properties{}, err
	}

	var metaIndex blockWriter
	for _, fe := range w.metaFilterEntries {
		filterHandle, err := w.writeBlock(fe.filter)
		if err != nil {
			return Properties{}, err
		}
		metaIndex.add(base.MakeInternalKey(encodeHandle(fe.handle), 0, base.InternalKeyKindValue), encodeHandle(filterHandle))
	}
	metaIndexHandle, err := w.writeBlock(metaIndex.finish())
	if err != nil {
		return Properties{}, err
	}

	indexHandle, err := w.writeBlock(w.indexBlock.finish())
	if err != nil {
		return Properties{}, err
	}

	ft := footer{metaIndexHandle: metaIndexHandle, indexHandle: indexHandle}
	if _, err := w.file.Write(ft.encode()); err != nil {
		return Properties{}, err
	}
	if err := w.file.Sync(); err != nil {
		return Properties{}, err
	}

	return Properties{
		SmallestKey: w.smallest,
		LargestKey:  w.largest,
		Entries:     w.entries,
		Size:        w.offset + footerLen,
	}, w.file.Close()
}
