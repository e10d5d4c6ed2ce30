// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalCompareOrdering(t *testing.T) {
	a := MakeInternalKey([]byte("row1"), 20, InternalKeyKindValue)
	b := MakeInternalKey([]byte("row1"), 10, InternalKeyKindValue)
	c := MakeInternalKey([]byte("row2"), 5, InternalKeyKindValue)

	require.Less(t, InternalCompare(DefaultCompare, a, b), 0, "higher seq sorts first")
	require.Less(t, InternalCompare(DefaultCompare, b, c), 0, "smaller user key sorts first")
	require.Equal(t, 0, InternalCompare(DefaultCompare, a, a))
}

func TestTrailerRoundTrip(t *testing.T) {
	buf := EncodeTrailer(nil, 42, InternalKeyKindDelete)
	seq, kind, rest := DecodeTrailer(buf)
	require.Equal(t, SeqNum(42), seq)
	require.Equal(t, InternalKeyKindDelete, kind)
	require.Empty(t, rest)
}

func TestStatusFromError(t *testing.T) {
	require.Equal(t, StatusKeyNotInRange, StatusFromError(ErrKeyNotInRange))
	require.Equal(t, StatusOK, StatusFromError(nil))
	require.Equal(t, StatusIOError, StatusFromError(ErrIOError))
}
