// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package vfs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Default is the local-OS filesystem, used as a fallback when no remote DFS
// is configured and as the backing store that remote FS wrappers delegate
// plain directory/rename operations to.
var Default FS = defaultFS{}

type defaultFS struct{}

type osFile struct{ *os.File }

func (f osFile) Preallocate(offset, length int64) error {
	// Best-effort: the standard library has no portable preallocate; a
	// Truncate to the high-water mark is sufficient for our purposes (the
	// data-set files in pcache only need the space reserved, not zeroed by a
	// specific syscall).
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if want := offset + length; fi.Size() < want {
		return f.Truncate(want)
	}
	return nil
}

func (defaultFS) Create(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (defaultFS) Open(name string, opts ...OpenOption) (File, error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (defaultFS) OpenDir(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (defaultFS) Remove(name string) error    { return os.Remove(name) }
func (defaultFS) RemoveAll(name string) error { return os.RemoveAll(name) }
func (defaultFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}
func (defaultFS) MkdirAll(dir string, perm os.FileMode) error { return os.MkdirAll(dir, perm) }

func (defaultFS) Lock(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := flock(f); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "vfs: lock %q", name)
	}
	return f, nil
}

func (defaultFS) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (defaultFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (defaultFS) PathBase(path string) string      { return filepath.Base(path) }
func (defaultFS) PathJoin(elem ...string) string   { return filepath.Join(elem...) }
func (defaultFS) PathDir(path string) string       { return filepath.Dir(path) }
