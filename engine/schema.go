// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"time"

	"github.com/teratab/tabletserver/sstable"
)

// SchemaOptions is the subset of a locality group's schema (spec §3) an
// already-open Engine can reload in place: compression, Bloom filter
// on/off, version cap, TTL, and the compaction strategy factory (spec §4.1
// "Schema reload").
type SchemaOptions struct {
	Compression           sstable.CompressionType
	BloomFilterBitsPerKey bool
	MaxVersions           int
	TTL                   time.Duration
	Strategy              Strategy
}

// ApplySchema atomically swaps the reloadable schema knobs. Background jobs
// (flush, compaction) pick up the new values at their next iteration
// boundary; a compaction already in flight completes under the settings it
// started with, since each sub-compaction captures the strategy and writer
// options under e.mu when it starts rather than re-reading e.opts mid-run.
func (e *Engine) ApplySchema(s SchemaOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts.WriterOptions.Compression = s.Compression
	e.opts.WriterOptions.FilterPolicy = s.BloomFilterBitsPerKey
	e.opts.ReaderOptions.Compression = s.Compression
	e.opts.MaxVersions = s.MaxVersions
	e.opts.TTL = s.TTL
	if s.Strategy != nil {
		e.opts.Strategy = s.Strategy
	}
}
