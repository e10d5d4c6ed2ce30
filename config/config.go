// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package config implements the flag file of spec §6 "Config": every
// option is read from disk on startup and reloadable at runtime via
// CmdCtrl, via a github.com/spf13/pflag flag set rather than the stdlib
// flag package (matching the CLI toolkit the rest of this repo's
// cmd/tabletserver tool is built with).
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config holds every recognised option of spec §6 "Config" (abbreviated
// list in the spec; this is the concrete field-by-field rendition).
type Config struct {
	// Network / heartbeat.
	Port              int
	HeartbeatInterval time.Duration

	// Cache sizing (C2/C4).
	BlockCacheSize       int64
	TableCacheSize       int
	PersistentCacheSize  int64
	PersistentDataSetSize int64
	PersistentBlockSize  int64
	PersistentCacheOn    bool

	// Thread pools (C10).
	ControlThreads      int
	LightControlThreads int
	ReadThreads         int
	WriteThreads        int
	ScanThreads         int
	CompactThreads      int

	// DFS (C1).
	DFSReadThreadRatio float64

	// TCM (glibc/tcmalloc release tuning, spec §6 "TCM cache release
	// period/size"); Go has no direct analogue, so this tunes the
	// periodic debug.FreeOSMemory trim timer instead (see tserver/timers.go).
	TCMReleasePeriod time.Duration
	TCMReleaseSize   int64

	// Scan (C8).
	ScanPackSize int

	// Startup behavior.
	CleanCachePathsOnStart bool

	// Corruption tolerance (spec §4.1/§4.4 ignore-corruption knobs).
	IgnoreCorruptionInOpen       bool
	IgnoreCorruptionInCompaction bool
}

// Default returns the flag defaults; every value here must match the zero
// value pflag would report for an unset flag after FlagSet().
func Default() Config {
	return Config{
		Port:                  7600,
		HeartbeatInterval:     10 * time.Second,
		BlockCacheSize:        256 << 20,
		TableCacheSize:        4000,
		PersistentCacheSize:   4 << 30,
		PersistentDataSetSize: 1 << 30,
		PersistentBlockSize:   4096,
		PersistentCacheOn:     true,
		ControlThreads:        2,
		LightControlThreads:   4,
		ReadThreads:           16,
		WriteThreads:          8,
		ScanThreads:           4,
		CompactThreads:        4,
		DFSReadThreadRatio:    0.5,
		TCMReleasePeriod:      5 * time.Minute,
		TCMReleaseSize:        64 << 20,
		ScanPackSize:          1 << 20,
		CleanCachePathsOnStart: false,
	}
}

// FlagSet binds every Config field to a named flag on fs, seeded with c's
// current values as defaults. Used both for the initial startup parse and
// to build the flag set CmdCtrl reload re-parses against a fresh Config.
func (c *Config) FlagSet(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "RPC listen port")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "interval between master heartbeats")
	fs.Int64Var(&c.BlockCacheSize, "block-cache-size", c.BlockCacheSize, "in-memory block cache capacity, bytes")
	fs.IntVar(&c.TableCacheSize, "table-cache-size", c.TableCacheSize, "open sstable handle cache capacity, entries")
	fs.Int64Var(&c.PersistentCacheSize, "persistent-cache-size", c.PersistentCacheSize, "persistent block cache capacity, bytes")
	fs.Int64Var(&c.PersistentDataSetSize, "persistent-cache-dataset-size", c.PersistentDataSetSize, "persistent cache per-data-set file size, bytes")
	fs.Int64Var(&c.PersistentBlockSize, "persistent-cache-block-size", c.PersistentBlockSize, "persistent cache block size, bytes")
	fs.BoolVar(&c.PersistentCacheOn, "persistent-cache-on", c.PersistentCacheOn, "enable the persistent block cache (C2); off falls back to the flash mirror cache (C3)")
	fs.IntVar(&c.ControlThreads, "control-threads", c.ControlThreads, "control thread pool size")
	fs.IntVar(&c.LightControlThreads, "light-control-threads", c.LightControlThreads, "light-control thread pool size")
	fs.IntVar(&c.ReadThreads, "read-threads", c.ReadThreads, "read thread pool size")
	fs.IntVar(&c.WriteThreads, "write-threads", c.WriteThreads, "write thread pool size")
	fs.IntVar(&c.ScanThreads, "scan-threads", c.ScanThreads, "scan thread pool size")
	fs.IntVar(&c.CompactThreads, "compact-threads", c.CompactThreads, "compaction thread pool size")
	fs.Float64Var(&c.DFSReadThreadRatio, "dfs-read-thread-ratio", c.DFSReadThreadRatio, "fraction of the read pool allowed into DFS reads concurrently")
	fs.DurationVar(&c.TCMReleasePeriod, "tcm-release-period", c.TCMReleasePeriod, "period between idle-memory trim attempts")
	fs.Int64Var(&c.TCMReleaseSize, "tcm-release-size", c.TCMReleaseSize, "Go heap growth (runtime HeapSys), bytes, since last trim that triggers an idle-memory trim")
	fs.IntVar(&c.ScanPackSize, "scan-pack-size", c.ScanPackSize, "ScanTablet response page size, bytes")
	fs.BoolVar(&c.CleanCachePathsOnStart, "clean-cache-paths-on-start", c.CleanCachePathsOnStart, "wipe persistent/mirror cache directories on startup instead of recovering them")
	fs.BoolVar(&c.IgnoreCorruptionInOpen, "ignore-corruption-in-open", c.IgnoreCorruptionInOpen, "tolerate a corrupt MANIFEST/WAL tail at open instead of failing Load")
	fs.BoolVar(&c.IgnoreCorruptionInCompaction, "ignore-corruption-in-compaction", c.IgnoreCorruptionInCompaction, "tolerate a corrupt input sstable during compaction instead of aborting it")
}

// Parse builds a pflag.FlagSet seeded with Default(), parses args against
// it, and returns the resulting Config.
func Parse(args []string) (Config, error) {
	c := Default()
	fs := pflag.NewFlagSet("tabletserver", pflag.ContinueOnError)
	c.FlagSet(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return c, nil
}
