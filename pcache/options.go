// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package pcache implements the Persistent Block Cache of spec §4.5
// (component C2): a content-addressed SSD cache of fixed-size blocks read
// from remote SSTables, partitioned into data sets each with its own
// 2Q-style in-memory index, backed by a metadata store that is itself a
// small embedded LSM engine (spec §4.5 "Metadata store ... (C7 reused)").
package pcache

import (
	"time"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

// Options configures a Cache.
type Options struct {
	// Dir holds the data-set files and the embedded metadata engine's
	// directory.
	Dir string
	FS  vfs.FS

	// NumDataSets is N, the number of data-set files the cache space is
	// partitioned into (spec §4.5 "Data sets").
	NumDataSets int
	// DataSetSize is the preallocated capacity in bytes of each data-set
	// file.
	DataSetSize int64
	// BlockSize is the fixed logical cache-block size, default 4 KiB.
	BlockSize int64

	// FIDBatchNum is the batch size file ids are granted in from the
	// FID# counter (spec §4.5 "monotonic ids granted in batches of
	// fid_batch_num").
	FIDBatchNum uint64

	// DeletionGraceCycles is the number of full GC cycles a file's cache
	// entries survive after DeleteFile before being force-evicted (spec §3
	// "a persistent-cache key is resident only if ... it is on a one-cycle
	// deletion grace list").
	DeletionGraceCycles int

	ReadPoolSize int
	DFSPoolSize  int

	Logger base.Logger
}

func (o Options) withDefaults() Options {
	if o.NumDataSets <= 0 {
		o.NumDataSets = 4
	}
	if o.DataSetSize <= 0 {
		o.DataSetSize = 1 << 30
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.FIDBatchNum == 0 {
		o.FIDBatchNum = 1000
	}
	if o.DeletionGraceCycles <= 0 {
		o.DeletionGraceCycles = 1
	}
	if o.ReadPoolSize <= 0 {
		o.ReadPoolSize = 32
	}
	if o.DFSPoolSize <= 0 {
		o.DFSPoolSize = 16
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	return o
}

// gcInterval is how often the cache's background GC sweep runs, advancing
// the deletion grace-list countdown.
const gcInterval = 30 * time.Second
