// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package vfs abstracts file operations over a remote distributed
// filesystem, with the local OS filesystem as the fallback/default
// implementation (spec §4, component C1).
package vfs

import (
	"io"
	"os"
)

// File is the subset of file operations the engine needs: sequential,
// random-access, and append-only access all go through the same interface,
// the way the teacher's cloud/aws.CloudFile wraps a plain os.File.
type File interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.Closer

	Stat() (os.FileInfo, error)
	Sync() error
	// Preallocate hints the filesystem to reserve [offset, offset+length),
	// used by the persistent cache to size data-set files up front.
	Preallocate(offset, length int64) error
}

// OpenOption configures a call to FS.Open.
type OpenOption interface{ apply(*openOptions) }

type openOptions struct {
	sequential bool
}

type sequentialOption struct{}

func (sequentialOption) apply(o *openOptions) { o.sequential = true }

// SequentialReads hints that the file will be read front-to-back once, as
// compaction input files are.
var SequentialReads OpenOption = sequentialOption{}

// FS abstracts a filesystem: local, remote, or a test double. Every
// directory under which the engine stores WAL/SSTable/MANIFEST files is
// accessed exclusively through an FS, so the remote DFS is a drop-in
// replacement for local disk (spec §4 C1: "the local OS as a fallback").
type FS interface {
	Create(name string) (File, error)
	Open(name string, opts ...OpenOption) (File, error)
	OpenDir(name string) (File, error)
	Remove(name string) error
	RemoveAll(name string) error
	Rename(oldname, newname string) error
	MkdirAll(dir string, perm os.FileMode) error
	Lock(name string) (io.Closer, error)
	List(dir string) ([]string, error)
	Stat(name string) (os.FileInfo, error)

	PathBase(path string) string
	PathJoin(elem ...string) string
	PathDir(path string) string
}
