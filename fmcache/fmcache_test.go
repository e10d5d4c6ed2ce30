// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package fmcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teratab/tabletserver/vfs"
)

func writeRemoteFile(t *testing.T, fs vfs.FS, name string, data []byte) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(fs.PathDir(name), 0755))
	f, err := fs.Create(name)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestOnOpenMirrorsAndReadServesFromMirror(t *testing.T) {
	remoteFS := vfs.NewMemFS()
	localFS := vfs.NewMemFS()

	data := []byte("hello flash mirror cache")
	writeRemoteFile(t, remoteFS, "/remote/a.sst", data)

	c, err := Open(Options{
		MirrorDir: "/mirror",
		LocalFS:   localFS,
		RemoteFS:  remoteFS,
	})
	require.NoError(t, err)
	defer c.Close()

	c.OnOpen("/remote/a.sst", int64(len(data)))

	var got []byte
	var ok bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, ok, err = c.Read("/remote/a.sst", int64(len(data)), 0, int64(len(data)))
		require.NoError(t, err)
		if ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, ok, "mirror copy did not complete in time")
	require.Equal(t, data, got)
}

func TestReadMissesBeforeMirrorReady(t *testing.T) {
	remoteFS := vfs.NewMemFS()
	localFS := vfs.NewMemFS()
	c, err := Open(Options{MirrorDir: "/mirror", LocalFS: localFS, RemoteFS: remoteFS})
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Read("/remote/never-opened.sst", 10, 0, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOnDeleteRemovesMirror(t *testing.T) {
	remoteFS := vfs.NewMemFS()
	localFS := vfs.NewMemFS()
	data := []byte("bytes")
	writeRemoteFile(t, remoteFS, "/remote/b.sst", data)

	c, err := Open(Options{MirrorDir: "/mirror", LocalFS: localFS, RemoteFS: remoteFS})
	require.NoError(t, err)
	defer c.Close()

	c.OnOpen("/remote/b.sst", int64(len(data)))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := c.Read("/remote/b.sst", int64(len(data)), 0, int64(len(data))); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.OnDelete("/remote/b.sst")
	_, ok, err := c.Read("/remote/b.sst", int64(len(data)), 0, int64(len(data)))
	require.NoError(t, err)
	require.False(t, ok)
}
