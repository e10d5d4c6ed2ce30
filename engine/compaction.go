// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/sstable"
)

// manualCompaction is a caller-requested compaction over a key range, queued
// until the background compactor gets to it (spec §4.1 "Manual: a requested
// key range").
type manualCompaction struct {
	smallest, largest []byte
	done              chan error
}

// CompactRange blocks until a compaction covering [smallest, largest] has
// run (or failed).
func (e *Engine) CompactRange(smallest, largest []byte) error {
	mc := &manualCompaction{smallest: smallest, largest: largest, done: make(chan error, 1)}
	e.mu.Lock()
	e.manualQueue = append(e.manualQueue, mc)
	e.mu.Unlock()
	e.maybeScheduleCompaction()
	return <-mc.done
}

// pickedCompaction is the output of the picker: a level, its output level,
// the chosen input files at each, and the grandparent files used to bound
// output splitting (spec §4.1 step 5).
type pickedCompaction struct {
	version     *manifest.Version
	level       int
	outputLevel int
	inputs0     []*manifest.FileMetadata
	inputs1     []*manifest.FileMetadata
	grandparents []*manifest.FileMetadata
	manual      *manualCompaction
}

// maybeScheduleCompaction schedules a background compaction if the current
// version warrants one and none is already running, mirroring
// ariesdevil-pebble/compaction.go's maybeScheduleCompaction/compact pairing.
func (e *Engine) maybeScheduleCompaction() {
	e.mu.Lock()
	if e.compacting {
		e.mu.Unlock()
		return
	}
	v := e.vs.Current()
	var manual *manualCompaction
	if len(e.manualQueue) > 0 {
		manual = e.manualQueue[0]
	}
	pc := e.pickCompaction(v, manual)
	if pc == nil && manual != nil {
		// Nothing overlaps the requested range, so the manual compaction is complete.
		e.manualQueue = e.manualQueue[1:]
		manual.done <- nil
		e.mu.Unlock()
		e.maybeScheduleCompaction()
		return
	}
	if pc == nil {
		e.mu.Unlock()
		return
	}
	e.compacting = true
	e.mu.Unlock()

	e.opts.CompactionScheduler(func() { e.runCompaction(pc) })
}

// pickCompaction implements spec §4.1 "Compaction" picker: the head of the
// manual queue, when there is one, is served first; otherwise size-triggered
// (level 0 by file count, level >= 1 by level_bytes/target_bytes), falling
// back to seek-triggered. Caller holds e.mu.
func (e *Engine) pickCompaction(v *manifest.Version, manual *manualCompaction) *pickedCompaction {
	if manual != nil {
		return e.setupCompaction(v, e.manualLevel(v, manual), manual)
	}

	level := -1
	bestScore := 1.0
	for l := 0; l < manifest.NumLevels-1; l++ {
		var score float64
		if l == 0 {
			score = float64(v.NumFiles(0)) / float64(e.opts.L0CompactionTrigger)
		} else {
			score = float64(v.TotalBytes(l)) / float64(e.opts.targetBytes(l))
		}
		// A level heavy with CheckTag-flagged delete tombstones competes on
		// the same 1.0-trigger scale as a size-triggered level (spec §4.1
		// step 4's delete-percentage picker statistic).
		if dtScore := v.DeleteTagPercent(l) / e.opts.DeleteTagCompactionThreshold; dtScore > score {
			score = dtScore
		}
		if score >= bestScore {
			bestScore = score
			level = l
		}
	}
	if level == -1 {
		level = e.pickSeekCompaction(v)
	}
	if level == -1 {
		return nil
	}
	return e.setupCompaction(v, level, nil)
}

// manualLevel picks the shallowest level overlapping the manual range, so a
// manual compaction touches as little as possible.
func (e *Engine) manualLevel(v *manifest.Version, mc *manualCompaction) int {
	cmp := e.opts.Comparator
	for l := 0; l < manifest.NumLevels-1; l++ {
		if len(rangeOverlap(cmp, v.Files[l], mc.smallest, mc.largest)) > 0 {
			return l
		}
	}
	return 0
}

// pickSeekCompaction returns the level of a file that has been charged too
// many wasted seeks (spec §4.1 "Seek-triggered"), or -1 if none qualifies.
func (e *Engine) pickSeekCompaction(v *manifest.Version) int {
	for l := 0; l < manifest.NumLevels-1; l++ {
		for _, f := range v.Files[l] {
			if f.AllowedSeeks <= 0 {
				return l
			}
		}
	}
	return -1
}

// setupCompaction fills in inputs0/inputs1/grandparents for a compaction at
// level, growing inputs0 when it doesn't change the inputs1 file count,
// following ariesdevil-pebble/compaction.go's setupOtherInputs/grow.
func (e *Engine) setupCompaction(v *manifest.Version, level int, manual *manualCompaction) *pickedCompaction {
	cmp := e.opts.Comparator
	pc := &pickedCompaction{version: v, level: level, outputLevel: level + 1, manual: manual}

	switch {
	case manual != nil:
		pc.inputs0 = rangeOverlap(cmp, v.Files[level], manual.smallest, manual.largest)
	case level == 0:
		if len(v.Files[0]) == 0 {
			return nil
		}
		seed := v.Files[0][0]
		pc.inputs0 = rangeOverlap(cmp, v.Files[0], seed.Smallest.UserKey, seed.Largest.UserKey)
		for {
			sm, la := keyRange(cmp, pc.inputs0, nil)
			grown := rangeOverlap(cmp, v.Files[0], sm, la)
			if len(grown) == len(pc.inputs0) {
				break
			}
			pc.inputs0 = grown
		}
	default:
		if len(v.Files[level]) == 0 {
			return nil
		}
		pc.inputs0 = []*manifest.FileMetadata{v.Files[level][0]}
	}
	if len(pc.inputs0) == 0 {
		return nil
	}

	smallest, largest := keyRange(cmp, pc.inputs0, nil)
	pc.inputs1 = rangeOverlap(cmp, v.Files[pc.outputLevel], smallest, largest)

	smallest01, largest01 := keyRange(cmp, pc.inputs0, pc.inputs1)
	if grown := rangeOverlap(cmp, v.Files[level], smallest01, largest01); len(grown) > len(pc.inputs0) {
		if totalSize(grown)+totalSize(pc.inputs1) < uint64(25*e.opts.targetBytes(pc.outputLevel)) {
			sm1, la1 := keyRange(cmp, grown, nil)
			grown1 := rangeOverlap(cmp, v.Files[pc.outputLevel], sm1, la1)
			if len(grown1) == len(pc.inputs1) {
				pc.inputs0 = grown
				smallest01, largest01 = keyRange(cmp, pc.inputs0, pc.inputs1)
			}
		}
	}

	if pc.outputLevel+1 < manifest.NumLevels {
		pc.grandparents = rangeOverlap(cmp, v.Files[pc.outputLevel+1], smallest01, largest01)
	}
	return pc
}

// runCompaction executes pc, reschedules on success, and backs off
// exponentially (capped at 8s) on failure.
func (e *Engine) runCompaction(pc *pickedCompaction) {
	err := e.executeCompaction(pc)

	e.mu.Lock()
	if pc.manual != nil && len(e.manualQueue) > 0 && e.manualQueue[0] == pc.manual {
		e.manualQueue = e.manualQueue[1:]
	}
	e.compacting = false
	// Wake writers stalled in applyWriteStall so they re-check the L0 count.
	e.flushDone.Broadcast()
	e.mu.Unlock()

	if pc.manual != nil {
		pc.manual.done <- err
	}
	if err != nil {
		e.setBgError(err)
		e.scheduleCompactionRetry()
		return
	}
	e.mu.Lock()
	e.compactBackoff = 0
	e.mu.Unlock()
	e.maybeScheduleCompaction()
}

func (e *Engine) scheduleCompactionRetry() {
	e.mu.Lock()
	if e.compactBackoff == 0 {
		e.compactBackoff = 100 * time.Millisecond
	} else if e.compactBackoff < 8*time.Second {
		e.compactBackoff *= 2
		if e.compactBackoff > 8*time.Second {
			e.compactBackoff = 8 * time.Second
		}
	}
	d := e.compactBackoff
	e.mu.Unlock()
	time.AfterFunc(d, e.maybeScheduleCompaction)
}

// executeCompaction runs pc to completion: a trivial move when possible,
// otherwise a (possibly parallel) merge of inputs0/inputs1 into new
// outputLevel files, followed by one atomic VersionEdit.
func (e *Engine) executeCompaction(pc *pickedCompaction) error {
	if pc.manual == nil && len(pc.inputs0) == 1 && len(pc.inputs1) == 0 &&
		totalSize(pc.grandparents) <= uint64(10*e.opts.MaxOutputFileSize) {
		f := pc.inputs0[0]
		edit := &manifest.VersionEdit{
			DeletedFiles: []manifest.DeletedFileEntry{{Level: pc.level, FileNum: f.FileNum}},
			NewFiles:     []manifest.NewFileEntry{{Level: pc.outputLevel, Meta: f}},
		}
		if err := e.vs.LogAndApply(edit); err != nil {
			return err
		}
		e.deleteObsoleteFiles()
		return nil
	}

	bounds := e.splitBoundaries(pc)
	shardEdits := make([]*manifest.VersionEdit, len(bounds)+1)
	g := new(errgroup.Group)
	for i := range shardEdits {
		i := i
		var lo, hi []byte
		if i > 0 {
			lo = bounds[i-1]
		}
		if i < len(bounds) {
			hi = bounds[i]
		}
		g.Go(func() error {
			edit, err := e.compactSubrange(pc, lo, hi)
			if err != nil {
				return err
			}
			shardEdits[i] = edit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return e.applyCompactionEdits(pc, shardEdits)
}

// splitBoundaries chooses up to CompactionConcurrency-1 split keys from
// inputs1's file boundaries (spec §4.1 "Parallel sub-compactions": "a large
// compaction may be partitioned at boundary keys").
func (e *Engine) splitBoundaries(pc *pickedCompaction) [][]byte {
	n := e.opts.CompactionConcurrency
	if n <= 1 {
		return nil
	}
	src := pc.inputs1
	if len(src) == 0 {
		src = pc.inputs0
	}
	if len(src) < n {
		return nil
	}
	step := len(src) / n
	var bounds [][]byte
	for i := step; i < len(src) && len(bounds) < n-1; i += step {
		bounds = append(bounds, src[i].Smallest.UserKey)
	}
	return bounds
}

// compactSubrange merges pc's inputs restricted to (lo, hi] (nil bounds are
// open-ended), applying spec §4.1 steps 2-4, splitting output files on size
// or grandparent overlap (step 5), and returns only the new-file half of
// the eventual VersionEdit — final deletion/addition is combined by the
// caller across every shard into one atomic apply (step 6).
func (e *Engine) compactSubrange(pc *pickedCompaction, lo, hi []byte) (*manifest.VersionEdit, error) {
	cmp := e.opts.Comparator

	var iters []kvIter
	if pc.level == 0 {
		for _, f := range pc.inputs0 {
			r, err := e.opts.TableCache.Get(e.opts.FS, e.sstPath(f.FileNum), f.FileNum, e.opts.ReaderOptions)
			if err != nil {
				return nil, err
			}
			it, err := r.NewIterator(cmp)
			if err != nil {
				return nil, err
			}
			iters = append(iters, newSSTIterAdapter(it))
		}
	} else {
		iters = append(iters, newLevelIter(e, pc.inputs0))
	}
	if len(pc.inputs1) > 0 {
		iters = append(iters, newLevelIter(e, pc.inputs1))
	}
	mi := newMergingIter(cmp, iters)

	e.mu.Lock()
	smallestSnap := e.smallestSnapshot()
	rollbacks := e.rollbacksLocked()
	strategy := e.opts.Strategy
	wopts := e.opts.WriterOptions
	e.mu.Unlock()

	var newFiles []manifest.NewFileEntry
	var w *sstable.Writer
	var fileNum uint64
	var smallest, largest base.InternalKey
	var curSize int64
	var entries, deleteTagEntries int64

	closeCurrent := func() error {
		if w == nil {
			return nil
		}
		props, err := w.Close()
		if err != nil {
			return err
		}
		newFiles = append(newFiles, manifest.NewFileEntry{Level: pc.outputLevel, Meta: &manifest.FileMetadata{
			FileNum:          fileNum,
			Size:             uint64(props.Size),
			Smallest:         props.SmallestKey,
			Largest:          props.LargestKey,
			SmallestSeq:      props.SmallestKey.Seq,
			LargestSeq:       props.LargestKey.Seq,
			Entries:          entries,
			DeleteTagEntries: deleteTagEntries,
		}})
		w = nil
		return nil
	}

	writeEntry := func(key base.InternalKey, value []byte) error {
		if w == nil {
			fileNum = e.vs.NextFileNumber()
			f, err := e.opts.FS.Create(e.sstPath(fileNum))
			if err != nil {
				return err
			}
			w = sstable.NewWriter(f, wopts)
			smallest = key.Clone()
			curSize, entries, deleteTagEntries = 0, 0, 0
		}
		if err := w.Add(key, value); err != nil {
			return err
		}
		largest = key.Clone()
		curSize += int64(len(key.UserKey)) + int64(len(value)) + 16
		entries++
		if strategy.CheckTag(key.Kind) {
			deleteTagEntries++
		}

		if curSize >= e.opts.MaxOutputFileSize || e.grandparentOverlapExceeded(pc, smallest.UserKey, largest.UserKey) {
			return closeCurrent()
		}
		return nil
	}

	var lastUserKey []byte
	var haveLastUserKey, keptOneAtOrBelowSnapshot bool

	// runAboveSnap buffers the consecutive entries for the current user key
	// with sequence > smallestSnap, newest first (the merging iterator's
	// natural order); spec §4.1 step 4 hands this run to the compaction
	// strategy's MergeAtomicOPs before any of it is written out.
	var runAboveSnap []KeyValue

	flushRun := func() error {
		if len(runAboveSnap) == 0 {
			return nil
		}
		merged := strategy.MergeAtomicOPs(runAboveSnap)
		runAboveSnap = runAboveSnap[:0]
		for _, kv := range merged {
			if rollbackHides(rollbacks, kv.Key.Seq) || strategy.Drop(kv.Key, kv.Value) {
				continue
			}
			if err := writeEntry(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	}

	for ; mi.Valid(); mi.Next() {
		key := mi.Key()
		if lo != nil && cmp(key.UserKey, lo) <= 0 {
			continue
		}
		if hi != nil && cmp(key.UserKey, hi) > 0 {
			break
		}

		if !haveLastUserKey || cmp(key.UserKey, lastUserKey) != 0 {
			if err := flushRun(); err != nil {
				return nil, err
			}
			keptOneAtOrBelowSnapshot = false
			lastUserKey = append(lastUserKey[:0], key.UserKey...)
			haveLastUserKey = true
		}

		if key.Seq > smallestSnap {
			runAboveSnap = append(runAboveSnap, KeyValue{
				Key:   key.Clone(),
				Value: append([]byte(nil), mi.Value()...),
			})
			continue
		}

		if err := flushRun(); err != nil {
			return nil, err
		}
		// An entry inside a rollback window is erased on its own; the next
		// older version of the key stays eligible.
		if rollbackHides(rollbacks, key.Seq) {
			continue
		}
		if keptOneAtOrBelowSnapshot {
			continue
		}
		keptOneAtOrBelowSnapshot = true
		if key.Kind == base.InternalKeyKindDelete && !e.opts.DisableBaseLevelDel &&
			isBaseLevelForKey(pc.version, cmp, pc.outputLevel, key.UserKey) {
			continue
		}

		if strategy.Drop(key, mi.Value()) {
			continue
		}

		if err := writeEntry(key, mi.Value()); err != nil {
			return nil, err
		}
	}
	if err := mi.Error(); err != nil {
		return nil, err
	}
	if err := flushRun(); err != nil {
		return nil, err
	}
	if err := closeCurrent(); err != nil {
		return nil, err
	}

	return &manifest.VersionEdit{NewFiles: newFiles}, nil
}

func (e *Engine) grandparentOverlapExceeded(pc *pickedCompaction, smallest, largest []byte) bool {
	if len(pc.grandparents) == 0 {
		return false
	}
	overlap := rangeOverlap(e.opts.Comparator, pc.grandparents, smallest, largest)
	return totalSize(overlap) > uint64(e.opts.MaxGrandparentOverlapBytes)
}

// isBaseLevelForKey reports whether no level below outputLevel contains
// userKey, mirroring ariesdevil-pebble/compaction.go's isBaseLevelForUkey.
func isBaseLevelForKey(v *manifest.Version, cmp base.Compare, outputLevel int, userKey []byte) bool {
	for l := outputLevel + 1; l < manifest.NumLevels; l++ {
		for _, f := range v.Files[l] {
			if cmp(userKey, f.Smallest.UserKey) >= 0 && cmp(userKey, f.Largest.UserKey) <= 0 {
				return false
			}
		}
	}
	return true
}

// applyCompactionEdits merges every shard's new files with the single
// deletion set for pc's inputs into one atomic VersionEdit (spec §4.1 step
// 6, "final edit collects all outputs in one atomic apply").
func (e *Engine) applyCompactionEdits(pc *pickedCompaction, shardEdits []*manifest.VersionEdit) error {
	combined := &manifest.VersionEdit{}
	for _, f := range pc.inputs0 {
		combined.DeletedFiles = append(combined.DeletedFiles, manifest.DeletedFileEntry{Level: pc.level, FileNum: f.FileNum})
	}
	for _, f := range pc.inputs1 {
		combined.DeletedFiles = append(combined.DeletedFiles, manifest.DeletedFileEntry{Level: pc.outputLevel, FileNum: f.FileNum})
	}
	for _, se := range shardEdits {
		if se != nil {
			combined.NewFiles = append(combined.NewFiles, se.NewFiles...)
		}
	}
	if err := e.vs.LogAndApply(combined); err != nil {
		return err
	}
	e.deleteObsoleteFiles()
	return nil
}

// deleteObsoleteFiles removes *.sst files not present in the current
// version, evicting them from the table cache first, per
// ariesdevil-pebble/compaction.go's deleteObsoleteFiles.
func (e *Engine) deleteObsoleteFiles() {
	v := e.vs.Current()
	live := make(map[uint64]bool)
	for l := 0; l < manifest.NumLevels; l++ {
		for _, f := range v.Files[l] {
			live[f.FileNum] = true
		}
	}
	entries, err := e.opts.FS.List(e.opts.Dir)
	if err != nil {
		return
	}
	for _, name := range entries {
		if !strings.HasSuffix(name, ".sst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".sst"), 10, 64)
		if err != nil || live[n] {
			continue
		}
		e.opts.TableCache.Evict(n)
		if e.opts.BlockCache != nil {
			e.opts.BlockCache.EvictFile(n)
		}
		e.opts.FS.Remove(e.opts.FS.PathJoin(e.opts.Dir, name))
	}
}

// rangeOverlap returns every file in files whose user-key range intersects
// [smallest, largest]; files is assumed sorted and non-overlapping for
// level >= 1, but this also works unsorted (level 0).
func rangeOverlap(cmp base.Compare, files []*manifest.FileMetadata, smallest, largest []byte) []*manifest.FileMetadata {
	var out []*manifest.FileMetadata
	for _, f := range files {
		if f.Overlaps(cmp, smallest, largest) {
			out = append(out, f)
		}
	}
	return out
}

// keyRange returns the smallest/largest user keys spanned by a ∪ b.
func keyRange(cmp base.Compare, a, b []*manifest.FileMetadata) (smallest, largest []byte) {
	consider := func(f *manifest.FileMetadata) {
		if smallest == nil || cmp(f.Smallest.UserKey, smallest) < 0 {
			smallest = f.Smallest.UserKey
		}
		if largest == nil || cmp(f.Largest.UserKey, largest) > 0 {
			largest = f.Largest.UserKey
		}
	}
	for _, f := range a {
		consider(f)
	}
	for _, f := range b {
		consider(f)
	}
	return smallest, largest
}

func totalSize(files []*manifest.FileMetadata) uint64 {
	var n uint64
	for _, f := range files {
		n += f.Size
	}
	return n
}
