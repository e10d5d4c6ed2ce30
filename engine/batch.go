// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"encoding/binary"

	"github.com/teratab/tabletserver/internal/base"
)

// Record is one mutation within a Batch.
type Record struct {
	Kind  base.InternalKeyKind
	Key   []byte
	Value []byte
}

// Batch is the unit of atomicity for Write: every record in it is stamped
// with consecutive sequence numbers starting at the sequence assigned to
// the batch as a whole (spec §4.1 step 1 "sequence is stamped into each
// record").
type Batch []Record

func putUvarint(buf []byte, x uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

func putLenPrefixed(buf, s []byte) []byte {
	buf = putUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// encodeBatch serializes seq plus every record, for both the WAL record
// payload and (after flush) the source of a memtable insert replay.
func encodeBatch(seq base.SeqNum, b Batch) []byte {
	buf := putUvarint(nil, uint64(seq))
	buf = putUvarint(buf, uint64(len(b)))
	for _, r := range b {
		buf = append(buf, byte(r.Kind))
		buf = putLenPrefixed(buf, r.Key)
		if r.Kind == base.InternalKeyKindValue {
			buf = putLenPrefixed(buf, r.Value)
		}
	}
	return buf
}

type batchDecoder struct{ b []byte }

func (d *batchDecoder) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(d.b)
	if n <= 0 {
		return 0, false
	}
	d.b = d.b[n:]
	return v, true
}

func (d *batchDecoder) lenPrefixed() ([]byte, bool) {
	n, ok := d.uvarint()
	if !ok || uint64(len(d.b)) < n {
		return nil, false
	}
	s := d.b[:n]
	d.b = d.b[n:]
	return s, true
}

// decodeBatch parses the payload produced by encodeBatch.
func decodeBatch(data []byte) (base.SeqNum, Batch, error) {
	d := &batchDecoder{b: data}
	seq, ok := d.uvarint()
	if !ok {
		return 0, nil, base.CorruptionErrorf("engine: truncated batch header")
	}
	count, ok := d.uvarint()
	if !ok {
		return 0, nil, base.CorruptionErrorf("engine: truncated batch count")
	}
	recs := make(Batch, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(d.b) == 0 {
			return 0, nil, base.CorruptionErrorf("engine: truncated batch record")
		}
		kind := base.InternalKeyKind(d.b[0])
		d.b = d.b[1:]
		key, ok := d.lenPrefixed()
		if !ok {
			return 0, nil, base.CorruptionErrorf("engine: truncated batch key")
		}
		var value []byte
		if kind == base.InternalKeyKindValue {
			value, ok = d.lenPrefixed()
			if !ok {
				return 0, nil, base.CorruptionErrorf("engine: truncated batch value")
			}
		}
		recs = append(recs, Record{Kind: kind, Key: key, Value: value})
	}
	return base.SeqNum(seq), recs, nil
}
