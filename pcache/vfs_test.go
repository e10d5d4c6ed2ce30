// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teratab/tabletserver/vfs"
)

func TestWrapFSCacheThroughWriteThenRead(t *testing.T) {
	remote := vfs.NewMemFS()
	c, err := Open(Options{
		Dir:         "/pcache",
		FS:          vfs.NewMemFS(),
		NumDataSets: 2,
		DataSetSize: 1 << 16,
		BlockSize:   256,
	})
	require.NoError(t, err)
	defer c.Close()

	wrapped := c.WrapFS(remote)

	data := bytes.Repeat([]byte{7}, 256)
	wf, err := wrapped.Create("/remote/a.sst")
	require.NoError(t, err)
	_, err = wf.Write(data)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	// wf.Close has already waited for the cache-through fills; after a short
	// pause, corrupt the remote copy so a served read can only have come
	// from the cache, not the backing file.
	time.Sleep(50 * time.Millisecond)
	corrupted, err := remote.Create("/remote/a.sst")
	require.NoError(t, err)
	_, err = corrupted.Write(bytes.Repeat([]byte{0}, 256))
	require.NoError(t, err)
	require.NoError(t, corrupted.Close())

	rf, err := wrapped.Open("/remote/a.sst")
	require.NoError(t, err)
	defer rf.Close()

	buf := make([]byte, 256)
	n, err := rf.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, data, buf[:n])
}
