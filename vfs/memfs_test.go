// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package vfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemFSReadWrite(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("/a/b.sst")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := fs.Open("/a/b.sst")
	require.NoError(t, err)
	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestMemFSListAndRemove(t *testing.T) {
	fs := NewMemFS()
	for _, name := range []string{"/t/000001.sst", "/t/000002.sst"} {
		f, err := fs.Create(name)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	names, err := fs.List("/t")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"000001.sst", "000002.sst"}, names)

	require.NoError(t, fs.Remove("/t/000001.sst"))
	names, err = fs.List("/t")
	require.NoError(t, err)
	require.Equal(t, []string{"000002.sst"}, names)
}

func TestMemFSPreallocate(t *testing.T) {
	fs := NewMemFS()
	f, err := fs.Create("/ds/0.data")
	require.NoError(t, err)
	require.NoError(t, f.Preallocate(0, 4096))
	fi, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(4096), fi.Size())
}
