// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import "encoding/binary"

// encodeCellKey builds the engine user-key for one cell version: row key,
// qualifier, and an inverted 8-byte timestamp, so that ascending byte order
// (the engine's only comparator) yields ascending row/qualifier order and,
// within one qualifier, DESCENDING timestamp order — mirroring spec §3's
// "InternalKey ... sequence descending (newer wins)" one layer up, at the
// cell-timestamp granularity the tablet layer owns. The column family is
// not part of the key: each family lives in its own locality-group engine
// (spec §3 "Schema": "locality groups (each a named set of column
// families)"), so the engine never needs to distinguish families itself.
func encodeCellKey(rowKey, qualifier []byte, ts int64) []byte {
	buf := make([]byte, 0, 10+len(rowKey)+len(qualifier)+8)
	buf = appendUvarintBytes(buf, rowKey)
	buf = appendUvarintBytes(buf, qualifier)
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], ^uint64(ts))
	return append(buf, tb[:]...)
}

func appendUvarintBytes(buf, s []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	buf = append(buf, tmp[:n]...)
	return append(buf, s...)
}

// decodeCellKey splits an engine user-key produced by encodeCellKey back
// into its row key, qualifier, and timestamp.
func decodeCellKey(key []byte) (rowKey, qualifier []byte, ts int64, ok bool) {
	row, rest, ok := readUvarintBytes(key)
	if !ok {
		return nil, nil, 0, false
	}
	qual, rest, ok := readUvarintBytes(rest)
	if !ok {
		return nil, nil, 0, false
	}
	if len(rest) != 8 {
		return nil, nil, 0, false
	}
	inv := binary.BigEndian.Uint64(rest)
	return row, qual, int64(^inv), true
}

func readUvarintBytes(buf []byte) (s, rest []byte, ok bool) {
	n, k := binary.Uvarint(buf)
	if k <= 0 || uint64(len(buf)-k) < n {
		return nil, nil, false
	}
	return buf[k : k+int(n)], buf[k+int(n):], true
}

// rowLowerBound returns the smallest possible encoded key for rowKey,
// usable as a scan/delete start bound.
func rowLowerBound(rowKey []byte) []byte {
	return appendUvarintBytes(nil, rowKey)
}

// rowUpperBound returns the smallest encoded key strictly greater than any
// key belonging to rowKey, usable as a scan/delete end bound.
func rowUpperBound(rowKey []byte) []byte {
	buf := appendUvarintBytes(nil, rowKey)
	return append(buf, 0xff)
}
