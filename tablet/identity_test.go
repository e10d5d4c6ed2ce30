// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityInRange(t *testing.T) {
	id := Identity{TableName: "t", KeyStart: []byte("b"), KeyEnd: []byte("d")}
	require.False(t, id.InRange([]byte("a")))
	require.True(t, id.InRange([]byte("b")))
	require.True(t, id.InRange([]byte("c")))
	require.False(t, id.InRange([]byte("d")))
}

func TestIdentityInRangeUnboundedEnd(t *testing.T) {
	id := Identity{TableName: "t", KeyStart: []byte("b")}
	require.True(t, id.InRange([]byte("zzzzzz")))
	require.False(t, id.InRange([]byte("a")))
}

func TestIdentityOverlaps(t *testing.T) {
	id := Identity{TableName: "t", KeyStart: []byte("b"), KeyEnd: []byte("d")}

	require.True(t, id.Overlaps([]byte("a"), []byte("c")))
	require.True(t, id.Overlaps([]byte("c"), []byte("e")))
	require.True(t, id.Overlaps([]byte("b"), []byte("d")))
	require.False(t, id.Overlaps([]byte("d"), []byte("e")))
	require.False(t, id.Overlaps([]byte("0"), []byte("b")))
}

func TestIdentityOverlapsUnboundedSides(t *testing.T) {
	id := Identity{TableName: "t", KeyStart: []byte("b"), KeyEnd: []byte("d")}
	require.True(t, id.Overlaps([]byte("c"), nil))
	require.True(t, id.Overlaps(nil, []byte("c")))

	unbounded := Identity{TableName: "t", KeyStart: []byte("b")}
	require.True(t, unbounded.Overlaps([]byte("z"), nil))
	require.False(t, unbounded.Overlaps([]byte("a"), []byte("b")))
}

func TestIdentityDirNameStable(t *testing.T) {
	id := Identity{TableName: "mytable", KeyStart: []byte("row1")}
	require.Equal(t, id.DirName(), id.DirName())
	require.Contains(t, id.DirName(), "mytable-")
}
