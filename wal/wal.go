// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package wal implements the append-only, crash-safe write-ahead log of
// spec §4.3 (component C6): a 32 KiB physical block framing so a partial
// tail record left by a crash is detectable and truncatable, with a CRC32
// checksum per record.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

const (
	blockSize  = 32 * 1024
	headerSize = 4 /* crc */ + 2 /* length */ + 1 /* type */
)

type recordType uint8

const (
	fullType recordType = iota + 1
	firstType
	middleType
	lastType
)

// Writer appends records to one WAL segment, framing them into blockSize
// physical blocks the way LevelDB/pebble's record format does, so a reader
// can always tell a genuine trailing partial record (crash mid-write) from
// corruption.
type Writer struct {
	f             vfs.File
	blockOffset   int
	syncEvery     time.Duration
	bytesSinceSync int
	syncThreshold int
	lastSync      time.Time
}

// WriterOptions configures flush/sync cadence (spec §4.3 "Writer-side flush
// is periodic (interval + size threshold) to bound durability window").
type WriterOptions struct {
	SyncInterval  time.Duration
	SyncThreshold int
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.SyncInterval <= 0 {
		o.SyncInterval = 1 * time.Second
	}
	if o.SyncThreshold <= 0 {
		o.SyncThreshold = 1 << 20
	}
	return o
}

// NewWriter opens a writer appending to f (assumed empty or positioned at
// its logical end already).
func NewWriter(f vfs.File, opts WriterOptions) *Writer {
	opts = opts.withDefaults()
	return &Writer{f: f, syncEvery: opts.SyncInterval, syncThreshold: opts.SyncThreshold, lastSync: time.Now()}
}

// AddRecord appends one logically atomic record (a batch of mutations at
// one sequence number), splitting across physical blocks as needed.
func (w *Writer) AddRecord(data []byte) error {
	total := len(data)
	first := true
	for len(data) > 0 || first {
		leftover := blockSize - w.blockOffset
		if leftover < headerSize {
			if leftover > 0 {
				if _, err := w.f.Write(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOffset = 0
			leftover = blockSize
		}

		avail := leftover - headerSize
		n := len(data)
		if n > avail {
			n = avail
		}

		var typ recordType
		switch {
		case first && n == len(data):
			typ = fullType
		case first:
			typ = firstType
		case n == len(data):
			typ = lastType
		default:
			typ = middleType
		}

		if err := w.writePhysicalRecord(typ, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		first = false
		if n == 0 && len(data) == 0 {
			break
		}
	}
	w.bytesSinceSync += total
	return w.maybeSync()
}

func (w *Writer) writePhysicalRecord(typ recordType, payload []byte) error {
	var header [headerSize]byte
	crc := crc32.ChecksumIEEE(append([]byte{byte(typ)}, payload...))
	binary.LittleEndian.PutUint32(header[0:4], crc)
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(payload)))
	header[6] = byte(typ)
	if _, err := w.f.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(payload); err != nil {
		return err
	}
	w.blockOffset += headerSize + len(payload)
	return nil
}

func (w *Writer) maybeSync() error {
	if w.bytesSinceSync >= w.syncThreshold || time.Since(w.lastSync) >= w.syncEvery {
		return w.Sync()
	}
	return nil
}

// Sync fsyncs the underlying file, bounding the durability window (spec
// §4.3). WriteOptions at the engine layer may also request an explicit Sync
// per write (fsync policy governed by write-options, spec §4.1 step 2).
func (w *Writer) Sync() error {
	w.bytesSinceSync = 0
	w.lastSync = time.Now()
	return w.f.Sync()
}

// Reader replays records from a WAL segment in order, detecting and
// truncating a partial tail record rather than treating it as corruption.
type Reader struct {
	data []byte
	off  int
}

// NewReaderFromBytes builds a Reader over an already-read segment (callers
// typically read the whole, bounded-size WAL segment into memory before
// replay, matching spec §4.1 Recovery step 3).
func NewReaderFromBytes(data []byte) *Reader { return &Reader{data: data} }

// Next returns the next logically complete record, or nil and an error for
// which IsEOF reports true at a clean end or a detected partial tail.
func (r *Reader) Next() ([]byte, error) {
	var buf []byte
	for {
		if rem := blockSize - r.off%blockSize; rem < headerSize {
			// Skip the zero padding the writer leaves when a block's tail is
			// too short to hold a record header.
			r.off += rem
		}
		if r.off+headerSize > len(r.data) {
			// Either a clean end, or a record whose later fragments were
			// never written: the partial tail is discarded.
			return nil, errEOF
		}
		header := r.data[r.off : r.off+headerSize]
		crc := binary.LittleEndian.Uint32(header[0:4])
		length := int(binary.LittleEndian.Uint16(header[4:6]))
		typ := recordType(header[6])
		r.off += headerSize
		if r.off+length > len(r.data) {
			// Partial tail: the writer crashed mid-append. Treat as a clean
			// end of log rather than corruption (spec §4.3: "a partial tail
			// record at crash is detectable and truncatable").
			return nil, errEOF
		}
		payload := r.data[r.off : r.off+length]
		r.off += length

		got := crc32.ChecksumIEEE(append([]byte{byte(typ)}, payload...))
		if got != crc {
			return nil, errors.Mark(errors.New("wal: checksum mismatch"), base.ErrCorruption)
		}

		switch typ {
		case fullType:
			return payload, nil
		case firstType:
			buf = append([]byte(nil), payload...)
		case middleType:
			buf = append(buf, payload...)
		case lastType:
			buf = append(buf, payload...)
			return buf, nil
		default:
			return nil, errors.Mark(errors.Newf("wal: unknown record type %d", typ), base.ErrCorruption)
		}
	}
}

var errEOF = errors.New("wal: EOF")

// IsEOF reports whether err signals a clean (or crash-truncated) end of log.
func IsEOF(err error) bool { return errors.Is(err, errEOF) }
