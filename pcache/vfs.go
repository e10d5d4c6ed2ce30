// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"io"
	"os"

	"github.com/teratab/tabletserver/vfs"
)

// WrapFS returns an FS that reads durable files in remote through this
// cache (spec §4.5's block-level read path); Create mirrors each full block
// written into the cache and Remove evicts the file's blocks, while
// directory operations and everything else pass straight through.
func (c *Cache) WrapFS(remote vfs.FS) vfs.FS {
	return &cachedFS{c: c, remote: remote}
}

type cachedFS struct {
	c      *Cache
	remote vfs.FS
}

// Create opens name on the wrapped remote FS and mirrors every full block
// written to it into the persistent cache as it is produced, per spec
// §4.5's cache-through write algorithm.
func (f *cachedFS) Create(name string) (vfs.File, error) {
	rf, err := f.remote.Create(name)
	if err != nil {
		return nil, err
	}
	ctw, err := NewCacheThroughWriter(f.c, name)
	if err != nil {
		// Cache-through fill is an optimization; a file id allocation
		// failure must not block the write itself.
		return rf, nil
	}
	return &cachedWriteFile{File: rf, ctw: ctw}, nil
}

func (f *cachedFS) Open(name string, opts ...vfs.OpenOption) (vfs.File, error) {
	rf, err := f.remote.Open(name, opts...)
	if err != nil {
		return nil, err
	}
	fi, err := rf.Stat()
	if err != nil {
		rf.Close()
		return nil, err
	}
	return &cachedFile{File: rf, c: f.c, path: name, size: fi.Size()}, nil
}

func (f *cachedFS) OpenDir(name string) (vfs.File, error) { return f.remote.OpenDir(name) }

func (f *cachedFS) Remove(name string) error {
	fid, err := f.c.FileID(name)
	if err == nil {
		f.c.DeleteFile(fid, false)
	}
	return f.remote.Remove(name)
}

func (f *cachedFS) RemoveAll(name string) error { return f.remote.RemoveAll(name) }
func (f *cachedFS) Rename(oldname, newname string) error {
	return f.remote.Rename(oldname, newname)
}
func (f *cachedFS) MkdirAll(dir string, perm os.FileMode) error {
	return f.remote.MkdirAll(dir, perm)
}
func (f *cachedFS) Lock(name string) (io.Closer, error)   { return f.remote.Lock(name) }
func (f *cachedFS) List(dir string) ([]string, error)     { return f.remote.List(dir) }
func (f *cachedFS) Stat(name string) (os.FileInfo, error) { return f.remote.Stat(name) }
func (f *cachedFS) PathBase(path string) string           { return f.remote.PathBase(path) }
func (f *cachedFS) PathJoin(elem ...string) string        { return f.remote.PathJoin(elem...) }
func (f *cachedFS) PathDir(path string) string             { return f.remote.PathDir(path) }

// cachedFile serves ReadAt through the persistent block cache, falling
// back to the wrapped remote file on a miss or a degrade (spec §4.5).
// Every other operation (writes, Sync, Preallocate) passes straight
// through, since the cache only ever serves already-durable reads.
type cachedFile struct {
	vfs.File
	c    *Cache
	path string
	size int64
}

func (f *cachedFile) ReadAt(p []byte, off int64) (int, error) {
	n := int64(len(p))
	if off+n > f.size {
		n = f.size - off
	}
	if n <= 0 {
		return 0, io.EOF
	}
	data, err := f.c.Read(f.path, off, n, func(o, l int64) ([]byte, error) {
		buf := make([]byte, l)
		rn, rerr := f.File.ReadAt(buf, o)
		if rerr != nil && rerr != io.EOF {
			return nil, rerr
		}
		return buf[:rn], nil
	})
	if err != nil {
		return 0, err
	}
	copy(p, data)
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return len(data), nil
}

func (f *cachedFile) Read(p []byte) (int, error) { return f.File.Read(p) }

// cachedWriteFile mirrors Write calls into the cache through a
// CacheThroughWriter and waits for every queued fill to finish before the
// underlying file is closed.
type cachedWriteFile struct {
	vfs.File
	ctw *CacheThroughWriter
}

func (f *cachedWriteFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	if err != nil {
		return n, err
	}
	f.ctw.Write(p[:n])
	return n, nil
}

func (f *cachedWriteFile) Close() error {
	f.ctw.Close()
	return f.File.Close()
}
