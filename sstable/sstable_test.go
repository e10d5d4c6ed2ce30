// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

func buildTable(t *testing.T, fs vfs.FS, name string, n int, opts WriterOptions) Properties {
	f, err := fs.Create(name)
	require.NoError(t, err)
	w := NewWriter(f, opts)
	for i := 0; i < n; i++ {
		key := base.MakeInternalKey([]byte(fmt.Sprintf("key-%05d", i)), base.SeqNum(i+1), base.InternalKeyKindValue)
		require.NoError(t, w.Add(key, []byte(fmt.Sprintf("value-%d", i))))
	}
	props, err := w.Close()
	require.NoError(t, err)
	return props
}

func TestWriterReaderRoundTrip(t *testing.T) {
	for _, compression := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd} {
		t.Run(fmt.Sprint(compression), func(t *testing.T) {
			fs := vfs.NewMemFS()
			opts := WriterOptions{Compression: compression, BlockSize: 256, FilterPolicy: true}
			buildTable(t, fs, "/000001.sst", 500, opts)

			f, err := fs.Open("/000001.sst")
			require.NoError(t, err)
			r, err := NewReader(f, ReaderOptions{Compression: compression})
			require.NoError(t, err)

			val, kind, _, found, err := r.Get(base.DefaultCompare, []byte("key-00250"), base.MaxSeqNum)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, base.InternalKeyKindValue, kind)
			require.Equal(t, "value-250", string(val))

			_, _, _, found, err = r.Get(base.DefaultCompare, []byte("key-99999"), base.MaxSeqNum)
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestReaderIteratorOrder(t *testing.T) {
	fs := vfs.NewMemFS()
	buildTable(t, fs, "/000002.sst", 100, WriterOptions{BlockSize: 512})
	f, err := fs.Open("/000002.sst")
	require.NoError(t, err)
	r, err := NewReader(f, ReaderOptions{})
	require.NoError(t, err)

	it, err := r.NewIterator(base.DefaultCompare)
	require.NoError(t, err)
	count := 0
	var prev []byte
	for ok := it.First(); ok; ok = it.Next() {
		if prev != nil {
			require.LessOrEqual(t, string(prev), string(it.Key().UserKey))
		}
		prev = append([]byte(nil), it.Key().UserKey...)
		count++
	}
	require.NoError(t, it.Error())
	require.Equal(t, 100, count)
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("k%d", i)))
	}
	filter := NewBloomFilter(keys, bloomBitsPerKey)
	for _, k := range keys {
		require.True(t, BloomMayContain(filter, k))
	}
}
