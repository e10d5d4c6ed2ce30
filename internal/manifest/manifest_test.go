// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

func TestVersionEditEncodeDecodeRoundTrip(t *testing.T) {
	edit := &VersionEdit{
		HasComparator: true,
		Comparator:    "bytewise",
		HasLogNumber:  true,
		LogNumber:     7,
		HasNextFile:   true,
		NextFileNumber: 42,
		HasLastSeq:    true,
		LastSequence:  base.SeqNum(99),
		CompactPointers: map[int][]byte{
			2: []byte("row500"),
		},
		DeletedFiles: []DeletedFileEntry{{Level: 0, FileNum: 3}},
		NewFiles: []NewFileEntry{{
			Level: 1,
			Meta: &FileMetadata{
				FileNum:          10,
				Size:             1024,
				Smallest:         base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindValue),
				Largest:          base.MakeInternalKey([]byte("z"), 2, base.InternalKeyKindDelete),
				SmallestSeq:      1,
				LargestSeq:       2,
				Entries:          4,
				DeleteTagEntries: 1,
			},
		}},
	}

	data := edit.Encode()
	var got VersionEdit
	require.NoError(t, got.Decode(data))

	require.Equal(t, edit.Comparator, got.Comparator)
	require.Equal(t, edit.LogNumber, got.LogNumber)
	require.Equal(t, edit.NextFileNumber, got.NextFileNumber)
	require.Equal(t, edit.LastSequence, got.LastSequence)
	require.Equal(t, []byte("row500"), got.CompactPointers[2])
	require.Len(t, got.DeletedFiles, 1)
	require.Equal(t, uint64(3), got.DeletedFiles[0].FileNum)
	require.Len(t, got.NewFiles, 1)
	require.Equal(t, uint64(10), got.NewFiles[0].Meta.FileNum)
	require.Equal(t, "a", string(got.NewFiles[0].Meta.Smallest.UserKey))
	require.Equal(t, "z", string(got.NewFiles[0].Meta.Largest.UserKey))
	require.Equal(t, int64(4), got.NewFiles[0].Meta.Entries)
	require.Equal(t, int64(1), got.NewFiles[0].Meta.DeleteTagEntries)
	require.InDelta(t, 0.25, got.NewFiles[0].Meta.DeleteTagPercent(), 0.0001)
}

func TestVersionDeleteTagPercentWeightsByEntries(t *testing.T) {
	v := newVersion()
	v.Files[1] = []*FileMetadata{
		{FileNum: 1, Entries: 10, DeleteTagEntries: 5},
		{FileNum: 2, Entries: 30, DeleteTagEntries: 3},
	}
	require.InDelta(t, 0.2, v.DeleteTagPercent(1), 0.0001)
	require.Equal(t, float64(0), v.DeleteTagPercent(2))
}

func TestVersionSetCreateRecoverRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("db", 0755))

	vs := NewVersionSet(VersionSetOptions{FS: fs, Dir: "db", Comparator: "bytewise"})
	require.NoError(t, vs.Create())

	meta := &FileMetadata{
		FileNum:     5,
		Size:        2048,
		Smallest:    base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindValue),
		Largest:     base.MakeInternalKey([]byte("m"), 1, base.InternalKeyKindValue),
		SmallestSeq: 1,
		LargestSeq:  1,
	}
	require.NoError(t, vs.LogAndApply(&VersionEdit{
		HasLogNumber: true,
		LogNumber:    1,
		HasLastSeq:   true,
		LastSequence: 1,
		NewFiles:     []NewFileEntry{{Level: 0, Meta: meta}},
	}))
	require.NoError(t, vs.Close())

	vs2 := NewVersionSet(VersionSetOptions{FS: fs, Dir: "db", Comparator: "bytewise"})
	require.NoError(t, vs2.Recover())
	require.Equal(t, base.SeqNum(1), vs2.LastSequence())
	require.Equal(t, uint64(1), vs2.LogNumber())
	require.Equal(t, 1, vs2.Current().NumFiles(0))
	require.Equal(t, uint64(5), vs2.Current().Files[0][0].FileNum)
}

func TestVersionSetDeletedFileDropsFromVersion(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.MkdirAll("db", 0755))

	vs := NewVersionSet(VersionSetOptions{FS: fs, Dir: "db"})
	require.NoError(t, vs.Create())

	meta := &FileMetadata{FileNum: 1, Size: 10,
		Smallest: base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindValue),
		Largest:  base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindValue)}
	require.NoError(t, vs.LogAndApply(&VersionEdit{
		HasLastSeq: true, LastSequence: 1,
		NewFiles: []NewFileEntry{{Level: 0, Meta: meta}},
	}))
	require.Equal(t, 1, vs.Current().NumFiles(0))

	require.NoError(t, vs.LogAndApply(&VersionEdit{
		HasLastSeq:   true,
		LastSequence: 1,
		DeletedFiles: []DeletedFileEntry{{Level: 0, FileNum: 1}},
	}))
	require.Equal(t, 0, vs.Current().NumFiles(0))
}

func TestVersionOverlappingBinarySearch(t *testing.T) {
	v := newVersion()
	v.Files[1] = []*FileMetadata{
		{FileNum: 1, Smallest: base.MakeInternalKey([]byte("a"), 1, 0), Largest: base.MakeInternalKey([]byte("c"), 1, 0)},
		{FileNum: 2, Smallest: base.MakeInternalKey([]byte("d"), 1, 0), Largest: base.MakeInternalKey([]byte("f"), 1, 0)},
	}
	found := v.Overlapping(base.DefaultCompare, 1, []byte("e"), []byte("e"))
	require.Len(t, found, 1)
	require.Equal(t, uint64(2), found[0].FileNum)
}
