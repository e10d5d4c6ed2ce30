// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package engine implements the per-locality-group LSM engine of spec §4.1
// (component C7): write path, read path, scan, background compaction,
// snapshots/rollback, recovery, and split-key discovery. Grounded on the
// write/flush/compaction shape of ariesdevil-pebble/compaction.go and
// dialtr-pebble/db.go, generalized from pebble's byte-oriented keyspace to
// this spec's row/locality-group semantics.
package engine

import (
	"time"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/cache"
	"github.com/teratab/tabletserver/sstable"
	"github.com/teratab/tabletserver/vfs"
)

// Strategy is the pluggable compaction strategy of spec §4.1 step 4: it may
// coalesce counter-style atomic ops and expose TTL/delete-percentage
// statistics used by the picker.
type Strategy interface {
	// Drop reports whether the entry (the highest surviving sequence <=
	// smallestSnapshot for its user key) should be dropped entirely, e.g.
	// because it is expired under a TTL policy.
	Drop(key base.InternalKey, value []byte) bool
	// MergeAtomicOPs is given every same-user-key entry above
	// smallestSnapshot, newest first, and returns the (possibly merged)
	// replacement set to emit; the default strategy returns them unchanged.
	MergeAtomicOPs(entries []KeyValue) []KeyValue
	// CheckTag reports auxiliary statistics about a value for the picker
	// (e.g. "this is a delete tombstone"); used to compute
	// delete_tag_percent for the SSTable entity (spec §3).
	CheckTag(kind base.InternalKeyKind) (isDeleteTombstone bool)
}

// KeyValue pairs an internal key with its value, the unit the merge
// strategy and compaction iterator both operate on.
type KeyValue struct {
	Key   base.InternalKey
	Value []byte
}

// defaultStrategy never drops or merges; CheckTag reports based solely on
// InternalKeyKind. This is the strategy every engine gets unless a schema
// opts into something else via ApplySchema.
type defaultStrategy struct{}

func (defaultStrategy) Drop(base.InternalKey, []byte) bool { return false }
func (defaultStrategy) MergeAtomicOPs(entries []KeyValue) []KeyValue { return entries }
func (defaultStrategy) CheckTag(kind base.InternalKeyKind) bool {
	return kind == base.InternalKeyKindDelete
}

// DefaultStrategy is the strategy applied when a schema specifies none.
var DefaultStrategy Strategy = defaultStrategy{}

// Options configures an Engine. Fields mirror the knobs named throughout
// spec §4.1 and §6's "Config" section.
type Options struct {
	Comparator base.Compare

	FS  vfs.FS
	Dir string

	BlockCache *cache.Cache
	TableCache *cache.TableCache

	// MemTableSize is the write-buffer threshold (spec §4.1 step 4).
	MemTableSize int64
	// ShardedMemTableShards, if > 0, selects the sharded memtable variant
	// with this many shards (spec §4.2); 0 selects the single skip list.
	ShardedMemTableShards int

	// L0SlowdownTrigger / L0StopTrigger gate the stall/slowdown policy of
	// spec §4.1 "Stall/slowdown".
	L0SlowdownTrigger int
	L0StopTrigger     int
	// L0CompactionTrigger is the level-0 file count at or above which the
	// size-triggered picker's level-0 score reaches 1.0 (spec §4.1 "Level 0
	// uses file-count instead").
	L0CompactionTrigger int

	// BaseTargetFileSize and LevelMultiplier feed targetBytes(level), which
	// drives the size-triggered compaction score (spec §4.1 "Size-triggered").
	BaseTargetFileSize int64
	LevelMultiplier    int64

	MaxOutputFileSize        int64
	MaxGrandparentOverlapBytes int64

	SeekCompactionThreshold int64

	// DeleteTagCompactionThreshold scales the delete-tag score of a level
	// (spec §4.1 step 4's "delete-percentage statistics used by the picker"):
	// the fraction of entries Strategy.CheckTag flags, divided by this
	// threshold, so the score reaches 1.0 at the threshold, on the same scale
	// as an oversized level.
	DeleteTagCompactionThreshold float64

	Strategy Strategy

	WALSyncOptions struct {
		Interval  time.Duration
		Threshold int
	}

	Logger base.Logger

	// CompactionConcurrency bounds parallel sub-compaction workers (spec
	// §4.1 "Parallel sub-compactions").
	CompactionConcurrency int

	// CompactionScheduler runs a background compaction, decoupled from the
	// goroutine that picked it (spec §5 "background operations ... suspend
	// on their pool's work queue"). The zero value runs fn on a bare
	// goroutine; a server embedding this engine behind a real compaction
	// thread pool overrides it to route fn through that pool instead.
	CompactionScheduler func(fn func())

	IgnoreCorruptionInOpen      bool
	IgnoreCorruptionInCompaction bool

	// DisableBaseLevelDel turns off step 2's base-level deletion-tombstone
	// drop (spec §4.1 "dropped when drop_base_level_del is enabled and no
	// lower level contains the key"); the zero value keeps the default
	// drop_base_level_del-enabled behavior, matching spec semantics without
	// every caller having to opt in. A schema whose readers need deleted
	// rows to stay visible past smallestSnapshot (e.g. a lagging
	// backup/replica snapshot) sets this to disable the drop.
	DisableBaseLevelDel bool

	// MaxVersions and TTL are schema-reloadable caps set by ApplySchema;
	// nothing in the engine reads them (the tablet layer applies per-family
	// version caps from its own Schema). 0 means "no cap"/"no expiry".
	MaxVersions int
	TTL         time.Duration

	ReaderOptions sstable.ReaderOptions
	WriterOptions sstable.WriterOptions
}

func (o *Options) withDefaults() *Options {
	o2 := *o
	if o2.Comparator == nil {
		o2.Comparator = base.DefaultCompare
	}
	if o2.MemTableSize <= 0 {
		o2.MemTableSize = 4 << 20
	}
	if o2.L0SlowdownTrigger <= 0 {
		o2.L0SlowdownTrigger = 8
	}
	if o2.L0StopTrigger <= 0 {
		o2.L0StopTrigger = 12
	}
	if o2.L0CompactionTrigger <= 0 {
		o2.L0CompactionTrigger = 4
	}
	if o2.BaseTargetFileSize <= 0 {
		o2.BaseTargetFileSize = 2 << 20
	}
	if o2.LevelMultiplier <= 0 {
		o2.LevelMultiplier = 10
	}
	if o2.MaxOutputFileSize <= 0 {
		o2.MaxOutputFileSize = 2 << 20
	}
	if o2.MaxGrandparentOverlapBytes <= 0 {
		o2.MaxGrandparentOverlapBytes = 10 * o2.MaxOutputFileSize
	}
	if o2.SeekCompactionThreshold <= 0 {
		o2.SeekCompactionThreshold = 100
	}
	if o2.DeleteTagCompactionThreshold <= 0 {
		o2.DeleteTagCompactionThreshold = 0.5
	}
	if o2.Strategy == nil {
		o2.Strategy = DefaultStrategy
	}
	if o2.Logger == nil {
		o2.Logger = base.DefaultLogger
	}
	if o2.CompactionConcurrency <= 0 {
		o2.CompactionConcurrency = 2
	}
	if o2.CompactionScheduler == nil {
		o2.CompactionScheduler = func(fn func()) { go fn() }
	}
	return &o2
}

// targetBytes returns the size-triggered compaction denominator for level,
// growing geometrically: level 1 is BaseTargetFileSize, each deeper level is
// LevelMultiplier times the previous (spec §4.1 "level_bytes /
// target_bytes(level) yields a score").
func (o *Options) targetBytes(level int) int64 {
	t := o.BaseTargetFileSize
	for i := 1; i < level; i++ {
		t *= o.LevelMultiplier
	}
	return t
}
