// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package fmcache

import (
	"io"
	"os"

	"github.com/teratab/tabletserver/vfs"
)

// WrapFS returns an FS whose Open registers remote durable files for a
// background whole-file mirror copy and serves reads from the local
// mirror once it is ready (spec §4.6), falling back to the wrapped
// remote FS for writes, directory operations, and cache misses.
func (c *Cache) WrapFS(remote vfs.FS) vfs.FS {
	return &mirroredFS{c: c, remote: remote}
}

type mirroredFS struct {
	c      *Cache
	remote vfs.FS
}

func (f *mirroredFS) Create(name string) (vfs.File, error) { return f.remote.Create(name) }

func (f *mirroredFS) Open(name string, opts ...vfs.OpenOption) (vfs.File, error) {
	rf, err := f.remote.Open(name, opts...)
	if err != nil {
		return nil, err
	}
	fi, err := rf.Stat()
	if err != nil {
		rf.Close()
		return nil, err
	}
	f.c.OnOpen(name, fi.Size())
	return &mirroredFile{File: rf, c: f.c, path: name, size: fi.Size()}, nil
}

func (f *mirroredFS) OpenDir(name string) (vfs.File, error) { return f.remote.OpenDir(name) }

func (f *mirroredFS) Remove(name string) error {
	f.c.OnDelete(name)
	return f.remote.Remove(name)
}

func (f *mirroredFS) RemoveAll(name string) error { return f.remote.RemoveAll(name) }
func (f *mirroredFS) Rename(oldname, newname string) error {
	return f.remote.Rename(oldname, newname)
}
func (f *mirroredFS) MkdirAll(dir string, perm os.FileMode) error {
	return f.remote.MkdirAll(dir, perm)
}
func (f *mirroredFS) Lock(name string) (io.Closer, error)   { return f.remote.Lock(name) }
func (f *mirroredFS) List(dir string) ([]string, error)     { return f.remote.List(dir) }
func (f *mirroredFS) Stat(name string) (os.FileInfo, error) { return f.remote.Stat(name) }
func (f *mirroredFS) PathBase(path string) string           { return f.remote.PathBase(path) }
func (f *mirroredFS) PathJoin(elem ...string) string        { return f.remote.PathJoin(elem...) }
func (f *mirroredFS) PathDir(path string) string            { return f.remote.PathDir(path) }

// mirroredFile serves ReadAt from the local mirror when ready, falling
// back to the wrapped remote file on a miss.
type mirroredFile struct {
	vfs.File
	c    *Cache
	path string
	size int64
}

func (f *mirroredFile) ReadAt(p []byte, off int64) (int, error) {
	if data, ok, err := f.c.Read(f.path, f.size, off, int64(len(p))); err == nil && ok {
		copy(p, data)
		if int64(len(data)) < int64(len(p)) {
			return len(data), io.EOF
		}
		return len(data), nil
	}
	return f.File.ReadAt(p, off)
}
