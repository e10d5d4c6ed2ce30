// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCellKeyRoundTrip(t *testing.T) {
	key := encodeCellKey([]byte("row1"), []byte("family\x00col"), 12345)
	row, qual, ts, ok := decodeCellKey(key)
	require.True(t, ok)
	require.Equal(t, []byte("row1"), row)
	require.Equal(t, []byte("family\x00col"), qual)
	require.Equal(t, int64(12345), ts)
}

func TestEncodeCellKeyTimestampOrderDescending(t *testing.T) {
	older := encodeCellKey([]byte("row1"), []byte("col"), 100)
	newer := encodeCellKey([]byte("row1"), []byte("col"), 200)
	require.Less(t, bytes.Compare(newer, older), 0, "newer timestamp must sort first")
}

func TestEncodeCellKeyRowOrderAscending(t *testing.T) {
	keys := [][]byte{
		encodeCellKey([]byte("row3"), []byte("col"), 1),
		encodeCellKey([]byte("row1"), []byte("col"), 1),
		encodeCellKey([]byte("row2"), []byte("col"), 1),
	}
	sorted := append([][]byte(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	row1, _, _, _ := decodeCellKey(sorted[0])
	row2, _, _, _ := decodeCellKey(sorted[1])
	row3, _, _, _ := decodeCellKey(sorted[2])
	require.Equal(t, "row1", string(row1))
	require.Equal(t, "row2", string(row2))
	require.Equal(t, "row3", string(row3))
}

func TestSplitFamilyQualifier(t *testing.T) {
	combined := familyQualifierKey("cf1", []byte("qual"))
	family, qualifier := splitFamilyQualifier(combined)
	require.Equal(t, "cf1", family)
	require.Equal(t, []byte("qual"), qualifier)
}

func TestRowBounds(t *testing.T) {
	lo := rowLowerBound([]byte("row1"))
	hi := rowUpperBound([]byte("row1"))
	key := encodeCellKey([]byte("row1"), []byte("col"), 1)
	require.True(t, bytes.Compare(lo, key) <= 0)
	require.True(t, bytes.Compare(key, hi) < 0)

	next := rowLowerBound([]byte("row2"))
	require.True(t, bytes.Compare(hi, next) <= 0)
}
