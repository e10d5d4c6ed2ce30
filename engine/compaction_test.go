// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/cache"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/sstable"
	"github.com/teratab/tabletserver/vfs"
)

// openCompactionTestEngine is openTestEngine plus a TableCache, which
// compactSubrange needs to open level-0 inputs through.
func openCompactionTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(&Options{FS: vfs.NewMemFS(), Dir: "/lg", TableCache: cache.NewTableCache(64)})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// writeTestSSTable writes kvs (already in ascending internal-key order) to
// a fresh file on e and registers it as a level-0 FileMetadata, bypassing
// the memtable/flush path so compactSubrange tests can hand it exact input.
func writeTestSSTable(t *testing.T, e *Engine, kvs []KeyValue) *manifest.FileMetadata {
	t.Helper()
	fileNum := e.vs.NextFileNumber()
	f, err := e.opts.FS.Create(e.sstPath(fileNum))
	require.NoError(t, err)
	w := sstable.NewWriter(f, e.opts.WriterOptions)
	for _, kv := range kvs {
		require.NoError(t, w.Add(kv.Key, kv.Value))
	}
	props, err := w.Close()
	require.NoError(t, err)
	return &manifest.FileMetadata{
		FileNum:     fileNum,
		Size:        uint64(props.Size),
		Smallest:    props.SmallestKey,
		Largest:     props.LargestKey,
		SmallestSeq: props.SmallestKey.Seq,
		LargestSeq:  props.LargestKey.Seq,
	}
}

// sumMergeStrategy merges every same-user-key run above the snapshot into a
// single entry carrying the sum of their values, simulating a counter-add
// atomic op; it never drops anything and tags deletes the default way.
type sumMergeStrategy struct{}

func (sumMergeStrategy) Drop(base.InternalKey, []byte) bool { return false }

func (sumMergeStrategy) MergeAtomicOPs(entries []KeyValue) []KeyValue {
	if len(entries) <= 1 {
		return entries
	}
	var sum byte
	for _, e := range entries {
		sum += e.Value[0]
	}
	merged := entries[0]
	merged.Value = []byte{sum}
	return []KeyValue{merged}
}

func (sumMergeStrategy) CheckTag(kind base.InternalKeyKind) bool {
	return kind == base.InternalKeyKindDelete
}

func readAllEntries(t *testing.T, e *Engine, f *manifest.FileMetadata) []KeyValue {
	t.Helper()
	r, err := e.opts.TableCache.Get(e.opts.FS, e.sstPath(f.FileNum), f.FileNum, e.opts.ReaderOptions)
	require.NoError(t, err)
	sstIt, err := r.NewIterator(e.opts.Comparator)
	require.NoError(t, err)
	it := newSSTIterAdapter(sstIt)
	var out []KeyValue
	for ; it.Valid(); it.Next() {
		out = append(out, KeyValue{Key: it.Key().Clone(), Value: append([]byte(nil), it.Value()...)})
	}
	require.NoError(t, it.Error())
	return out
}

func TestCompactSubrangeMergesAtomicOpsAboveSnapshot(t *testing.T) {
	e := openCompactionTestEngine(t)
	e.opts.Strategy = sumMergeStrategy{}

	e.GetSnapshot(1)
	defer e.ReleaseSnapshot(1)

	f := writeTestSSTable(t, e, []KeyValue{
		{Key: base.MakeInternalKey([]byte("row1"), 4, base.InternalKeyKindValue), Value: []byte{3}},
		{Key: base.MakeInternalKey([]byte("row1"), 3, base.InternalKeyKindValue), Value: []byte{2}},
		{Key: base.MakeInternalKey([]byte("row1"), 2, base.InternalKeyKindValue), Value: []byte{1}},
	})

	pc := &pickedCompaction{version: &manifest.Version{}, level: 0, outputLevel: 1, inputs0: []*manifest.FileMetadata{f}}
	edit, err := e.compactSubrange(pc, nil, nil)
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)

	out := readAllEntries(t, e, edit.NewFiles[0].Meta)
	require.Len(t, out, 1, "the three above-snapshot entries merge into one")
	require.EqualValues(t, 6, out[0].Value[0])
	require.Equal(t, base.SeqNum(4), out[0].Key.Seq, "MergeAtomicOPs's replacement keeps the entries[0] key it was given")
}

func TestCompactSubrangeLeavesAtOrBelowSnapshotEntriesUnmerged(t *testing.T) {
	e := openCompactionTestEngine(t)
	e.opts.Strategy = sumMergeStrategy{}

	e.GetSnapshot(5)
	defer e.ReleaseSnapshot(5)

	f := writeTestSSTable(t, e, []KeyValue{
		{Key: base.MakeInternalKey([]byte("row1"), 3, base.InternalKeyKindValue), Value: []byte{9}},
		{Key: base.MakeInternalKey([]byte("row1"), 2, base.InternalKeyKindValue), Value: []byte{8}},
	})

	pc := &pickedCompaction{version: &manifest.Version{}, level: 0, outputLevel: 1, inputs0: []*manifest.FileMetadata{f}}
	edit, err := e.compactSubrange(pc, nil, nil)
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)

	out := readAllEntries(t, e, edit.NewFiles[0].Meta)
	require.Len(t, out, 1, "only the newest at-or-below-snapshot entry survives, MergeAtomicOPs never sees it")
	require.EqualValues(t, 9, out[0].Value[0])
}

func TestCompactSubrangeDropsBaseLevelDeleteByDefault(t *testing.T) {
	e := openCompactionTestEngine(t)
	e.GetSnapshot(5)
	defer e.ReleaseSnapshot(5)

	f := writeTestSSTable(t, e, []KeyValue{
		{Key: base.MakeInternalKey([]byte("row1"), 2, base.InternalKeyKindDelete), Value: nil},
	})

	pc := &pickedCompaction{version: &manifest.Version{}, level: 0, outputLevel: 1, inputs0: []*manifest.FileMetadata{f}}
	edit, err := e.compactSubrange(pc, nil, nil)
	require.NoError(t, err)
	require.Empty(t, edit.NewFiles, "a base-level tombstone is dropped by default")
}

func TestCompactSubrangeKeepsBaseLevelDeleteWhenDisabled(t *testing.T) {
	e := openCompactionTestEngine(t)
	e.opts.DisableBaseLevelDel = true
	e.GetSnapshot(5)
	defer e.ReleaseSnapshot(5)

	f := writeTestSSTable(t, e, []KeyValue{
		{Key: base.MakeInternalKey([]byte("row1"), 2, base.InternalKeyKindDelete), Value: nil},
	})

	pc := &pickedCompaction{version: &manifest.Version{}, level: 0, outputLevel: 1, inputs0: []*manifest.FileMetadata{f}}
	edit, err := e.compactSubrange(pc, nil, nil)
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1, "DisableBaseLevelDel keeps the tombstone around")
}

func TestCompactSubrangeTracksDeleteTagEntries(t *testing.T) {
	e := openCompactionTestEngine(t)
	e.opts.DisableBaseLevelDel = true // keep the delete tombstone so it's counted below
	e.GetSnapshot(10)
	defer e.ReleaseSnapshot(10)

	f := writeTestSSTable(t, e, []KeyValue{
		{Key: base.MakeInternalKey([]byte("row1"), 2, base.InternalKeyKindValue), Value: []byte("v")},
		{Key: base.MakeInternalKey([]byte("row2"), 2, base.InternalKeyKindDelete), Value: nil},
	})

	pc := &pickedCompaction{version: &manifest.Version{}, level: 0, outputLevel: 1, inputs0: []*manifest.FileMetadata{f}}
	edit, err := e.compactSubrange(pc, nil, nil)
	require.NoError(t, err)
	require.Len(t, edit.NewFiles, 1)
	meta := edit.NewFiles[0].Meta
	require.EqualValues(t, 2, meta.Entries)
	require.EqualValues(t, 1, meta.DeleteTagEntries)
	require.InDelta(t, 0.5, meta.DeleteTagPercent(), 0.0001)
}

func TestPickCompactionTriggersOnDeleteTagPercent(t *testing.T) {
	e := openTestEngine(t)
	e.opts.DeleteTagCompactionThreshold = 0.5

	v := &manifest.Version{}
	v.Files[1] = []*manifest.FileMetadata{
		{FileNum: 1, Entries: 10, DeleteTagEntries: 8, AllowedSeeks: 100,
			Smallest: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindValue),
			Largest:  base.MakeInternalKey([]byte("z"), 1, base.InternalKeyKindValue)},
	}

	e.mu.Lock()
	pc := e.pickCompaction(v, nil)
	e.mu.Unlock()

	require.NotNil(t, pc)
	require.Equal(t, 1, pc.level, "delete-tag percentage above threshold outscores an otherwise-empty level")
}
