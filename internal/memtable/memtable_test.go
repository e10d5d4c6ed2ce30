// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package memtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teratab/tabletserver/internal/base"
)

func TestSingleAddGetSnapshot(t *testing.T) {
	m := NewSingle(base.DefaultCompare)
	require.NoError(t, m.Add(10, base.InternalKeyKindValue, []byte("row1"), []byte("v1")))
	require.NoError(t, m.Add(20, base.InternalKeyKindValue, []byte("row1"), []byte("v2")))

	val, _, _, found := m.Get([]byte("row1"), 15)
	require.True(t, found)
	require.Equal(t, "v1", string(val))

	val, _, _, found = m.Get([]byte("row1"), 25)
	require.True(t, found)
	require.Equal(t, "v2", string(val))
}

func TestSingleDeleteShadowsValue(t *testing.T) {
	m := NewSingle(base.DefaultCompare)
	require.NoError(t, m.Add(5, base.InternalKeyKindValue, []byte("k"), []byte("v")))
	require.NoError(t, m.Add(7, base.InternalKeyKindDelete, []byte("k"), nil))

	_, kind, _, found := m.Get([]byte("k"), base.MaxSeqNum)
	require.True(t, found)
	require.Equal(t, base.InternalKeyKindDelete, kind)
}

func TestSingleBeingFlushedRejectsAdd(t *testing.T) {
	m := NewSingle(base.DefaultCompare)
	m.SetBeingFlushed(true)
	require.Error(t, m.Add(1, base.InternalKeyKindValue, []byte("k"), []byte("v")))
}

func TestShardedOrderedIteration(t *testing.T) {
	m := NewSharded(base.DefaultCompare, 8)
	for i := 0; i < 200; i++ {
		require.NoError(t, m.Add(base.SeqNum(i+1), base.InternalKeyKindValue,
			[]byte(fmt.Sprintf("k%04d", i)), []byte("v")))
	}
	it := m.NewIterator()
	count := 0
	var prev []byte
	for ; it.Valid(); it.Next() {
		if prev != nil {
			require.LessOrEqual(t, string(prev), string(it.Key().UserKey))
		}
		prev = append([]byte(nil), it.Key().UserKey...)
		count++
	}
	require.Equal(t, 200, count)
}
