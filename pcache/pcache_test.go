// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teratab/tabletserver/vfs"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Options{
		Dir:         "/pcache",
		FS:          vfs.NewMemFS(),
		NumDataSets: 2,
		DataSetSize: 1 << 16,
		BlockSize:   256,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFileIDAllocatesOnceAndIsStable(t *testing.T) {
	c := openTestCache(t)

	fid1, err := c.FileID("/remote/a.sst")
	require.NoError(t, err)
	fid2, err := c.FileID("/remote/a.sst")
	require.NoError(t, err)
	require.Equal(t, fid1, fid2)

	fid3, err := c.FileID("/remote/b.sst")
	require.NoError(t, err)
	require.NotEqual(t, fid1, fid3)
}

func TestReadFillsCacheThenServesFromCache(t *testing.T) {
	c := openTestCache(t)

	remote := bytes.Repeat([]byte("x"), 256)
	for i := range remote {
		remote[i] = byte('a' + i%26)
	}

	fetches := 0
	fetch := func(off, n int64) ([]byte, error) {
		fetches++
		return remote[off : off+n], nil
	}

	got, err := c.Read("/remote/a.sst", 0, 256, fetch)
	require.NoError(t, err)
	require.Equal(t, remote, got)
	require.Equal(t, 1, fetches)

	got2, err := c.Read("/remote/a.sst", 0, 256, fetch)
	require.NoError(t, err)
	require.Equal(t, remote, got2)
	require.Equal(t, 1, fetches, "second read should be served from the cache, not DFS")
}

func TestReadDegradesOnFetchError(t *testing.T) {
	c := openTestCache(t)

	_, err := c.Read("/remote/missing.sst", 0, 256, func(off, n int64) ([]byte, error) {
		return nil, errFetchFailed
	})
	require.Error(t, err)
}

var errFetchFailed = &fetchErr{}

type fetchErr struct{}

func (*fetchErr) Error() string { return "fetch failed" }

func TestDeleteFileImmediateVsDeferred(t *testing.T) {
	c := openTestCache(t)
	remote := bytes.Repeat([]byte{1}, 256)
	fetch := func(off, n int64) ([]byte, error) { return remote[off : off+n], nil }

	_, err := c.Read("/remote/c.sst", 0, 256, fetch)
	require.NoError(t, err)

	c.DeleteFile(mustFileID(t, c, "/remote/c.sst"), false)
	// Immediate delete: a subsequent read must re-fetch from DFS.
	fetches := 0
	_, err = c.Read("/remote/c.sst", 0, 256, func(off, n int64) ([]byte, error) {
		fetches++
		return remote[off : off+n], nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, fetches)

	// Deferred delete: the file stays on the grace list, so its blocks are
	// still served from the cache until the next GC cycle.
	c.DeleteFile(mustFileID(t, c, "/remote/c.sst"), true)
	_, err = c.Read("/remote/c.sst", 0, 256, func(off, n int64) ([]byte, error) {
		fetches++
		return remote[off : off+n], nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, fetches)
}

func mustFileID(t *testing.T, c *Cache, path string) uint64 {
	t.Helper()
	fid, err := c.FileID(path)
	require.NoError(t, err)
	return fid
}
