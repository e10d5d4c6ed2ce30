// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package manifest

import (
	"encoding/binary"

	"github.com/teratab/tabletserver/internal/base"
)

// Tag identifiers for the MANIFEST record format. Tags below tagMaxKnown are
// understood by this build; tags at or above it carry a length-prefixed
// payload, which lets the decoder skip them so that a MANIFEST written by a
// newer build stays forward-readable. An unknown tag below tagMaxKnown is
// reported as corruption.
const (
	tagComparator = iota + 1
	tagLogNumber
	tagNextFileNumber
	tagLastSequence
	tagCompactPointer
	tagDeletedFile
	tagNewFile
	tagMaxKnown
)

// DeletedFileEntry identifies one file removed from a level.
type DeletedFileEntry struct {
	Level   int
	FileNum uint64
}

// NewFileEntry adds one file to a level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetadata
}

// VersionEdit describes one delta to a Version: files added/removed at each
// level plus bookkeeping fields (log number, next file number, last
// sequence, per-level compaction cursors). Applying a sequence of edits to
// an empty Version, in order, reconstructs the live-file set — this is
// exactly what Recover replays from the MANIFEST.
type VersionEdit struct {
	HasComparator  bool
	Comparator     string
	HasLogNumber   bool
	LogNumber      uint64
	HasNextFile    bool
	NextFileNumber uint64
	HasLastSeq     bool
	LastSequence   base.SeqNum

	CompactPointers map[int][]byte
	DeletedFiles    []DeletedFileEntry
	NewFiles        []NewFileEntry
}

func putUvarint(buf []byte, x uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], x)
	return append(buf, tmp[:n]...)
}

func putLenPrefixed(buf, s []byte) []byte {
	buf = putUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// Encode serializes the edit into one MANIFEST log record.
func (e *VersionEdit) Encode() []byte {
	var buf []byte
	if e.HasComparator {
		buf = putUvarint(buf, tagComparator)
		buf = putLenPrefixed(buf, []byte(e.Comparator))
	}
	if e.HasLogNumber {
		buf = putUvarint(buf, tagLogNumber)
		buf = putUvarint(buf, e.LogNumber)
	}
	if e.HasNextFile {
		buf = putUvarint(buf, tagNextFileNumber)
		buf = putUvarint(buf, e.NextFileNumber)
	}
	if e.HasLastSeq {
		buf = putUvarint(buf, tagLastSequence)
		buf = putUvarint(buf, uint64(e.LastSequence))
	}
	for level, key := range e.CompactPointers {
		buf = putUvarint(buf, tagCompactPointer)
		buf = putUvarint(buf, uint64(level))
		buf = putLenPrefixed(buf, key)
	}
	for _, d := range e.DeletedFiles {
		buf = putUvarint(buf, tagDeletedFile)
		buf = putUvarint(buf, uint64(d.Level))
		buf = putUvarint(buf, d.FileNum)
	}
	for _, nf := range e.NewFiles {
		buf = putUvarint(buf, tagNewFile)
		buf = putUvarint(buf, uint64(nf.Level))
		buf = putUvarint(buf, nf.Meta.FileNum)
		buf = putUvarint(buf, nf.Meta.Size)
		buf = putLenPrefixed(buf, nf.Meta.Smallest.UserKey)
		buf = putUvarint(buf, uint64(nf.Meta.Smallest.Seq))
		buf = putUvarint(buf, uint64(nf.Meta.Smallest.Kind))
		buf = putLenPrefixed(buf, nf.Meta.Largest.UserKey)
		buf = putUvarint(buf, uint64(nf.Meta.Largest.Seq))
		buf = putUvarint(buf, uint64(nf.Meta.Largest.Kind))
		buf = putUvarint(buf, uint64(nf.Meta.SmallestSeq))
		buf = putUvarint(buf, uint64(nf.Meta.LargestSeq))
		buf = putUvarint(buf, uint64(nf.Meta.Entries))
		buf = putUvarint(buf, uint64(nf.Meta.DeleteTagEntries))
	}
	return buf
}

type decodeReader struct {
	b []byte
}

func (r *decodeReader) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		return 0, false
	}
	r.b = r.b[n:]
	return v, true
}

func (r *decodeReader) lenPrefixed() ([]byte, bool) {
	n, ok := r.uvarint()
	if !ok || uint64(len(r.b)) < n {
		return nil, false
	}
	s := r.b[:n]
	r.b = r.b[n:]
	return s, true
}

// Decode parses one MANIFEST log record produced by Encode.
func (e *VersionEdit) Decode(data []byte) error {
	r := &decodeReader{b: data}
	for len(r.b) > 0 {
		tag, ok := r.uvarint()
		if !ok {
			return base.CorruptionErrorf("manifest: truncated tag")
		}
		switch tag {
		case tagComparator:
			s, ok := r.lenPrefixed()
			if !ok {
				return base.CorruptionErrorf("manifest: truncated comparator")
			}
			e.HasComparator = true
			e.Comparator = string(s)
		case tagLogNumber:
			v, ok := r.uvarint()
			if !ok {
				return base.CorruptionErrorf("manifest: truncated log number")
			}
			e.HasLogNumber = true
			e.LogNumber = v
		case tagNextFileNumber:
			v, ok := r.uvarint()
			if !ok {
				return base.CorruptionErrorf("manifest: truncated next file number")
			}
			e.HasNextFile = true
			e.NextFileNumber = v
		case tagLastSequence:
			v, ok := r.uvarint()
			if !ok {
				return base.CorruptionErrorf("manifest: truncated last sequence")
			}
			e.HasLastSeq = true
			e.LastSequence = base.SeqNum(v)
		case tagCompactPointer:
			level, ok1 := r.uvarint()
			key, ok2 := r.lenPrefixed()
			if !ok1 || !ok2 {
				return base.CorruptionErrorf("manifest: truncated compact pointer")
			}
			if e.CompactPointers == nil {
				e.CompactPointers = make(map[int][]byte)
			}
			e.CompactPointers[int(level)] = append([]byte(nil), key...)
		case tagDeletedFile:
			level, ok1 := r.uvarint()
			num, ok2 := r.uvarint()
			if !ok1 || !ok2 {
				return base.CorruptionErrorf("manifest: truncated deleted file")
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: int(level), FileNum: num})
		case tagNewFile:
			meta, level, err := decodeNewFile(r)
			if err != nil {
				return err
			}
			e.NewFiles = append(e.NewFiles, NewFileEntry{Level: level, Meta: meta})
		default:
			if tag >= tagMaxKnown {
				if _, ok := r.lenPrefixed(); !ok {
					return base.CorruptionErrorf("manifest: truncated payload of tag %d", tag)
				}
				continue
			}
			return base.CorruptionErrorf("manifest: unknown tag %d", tag)
		}
	}
	return nil
}

func decodeNewFile(r *decodeReader) (*FileMetadata, int, error) {
	level, ok := r.uvarint()
	if !ok {
		return nil, 0, base.CorruptionErrorf("manifest: truncated new-file level")
	}
	fileNum, ok := r.uvarint()
	if !ok {
		return nil, 0, base.CorruptionErrorf("manifest: truncated new-file number")
	}
	size, ok := r.uvarint()
	if !ok {
		return nil, 0, base.CorruptionErrorf("manifest: truncated new-file size")
	}
	smallestKey, ok := r.lenPrefixed()
	if !ok {
		return nil, 0, base.CorruptionErrorf("manifest: truncated smallest key")
	}
	smallestSeq, ok1 := r.uvarint()
	smallestKind, ok2 := r.uvarint()
	largestKey, ok3 := r.lenPrefixed()
	if !ok1 || !ok2 || !ok3 {
		return nil, 0, base.CorruptionErrorf("manifest: truncated smallest trailer")
	}
	largestSeq, ok4 := r.uvarint()
	largestKind, ok5 := r.uvarint()
	fileSmallestSeq, ok6 := r.uvarint()
	fileLargestSeq, ok7 := r.uvarint()
	if !ok4 || !ok5 || !ok6 || !ok7 {
		return nil, 0, base.CorruptionErrorf("manifest: truncated largest trailer")
	}
	entries, ok8 := r.uvarint()
	deleteTagEntries, ok9 := r.uvarint()
	if !ok8 || !ok9 {
		return nil, 0, base.CorruptionErrorf("manifest: truncated entry counts")
	}
	meta := &FileMetadata{
		FileNum: fileNum,
		Size:    size,
		Smallest: base.InternalKey{
			UserKey: append([]byte(nil), smallestKey...),
			Seq:     base.SeqNum(smallestSeq),
			Kind:    base.InternalKeyKind(smallestKind),
		},
		Largest: base.InternalKey{
			UserKey: append([]byte(nil), largestKey...),
			Seq:     base.SeqNum(largestSeq),
			Kind:    base.InternalKeyKind(largestKind),
		},
		SmallestSeq:      base.SeqNum(fileSmallestSeq),
		LargestSeq:       base.SeqNum(fileLargestSeq),
		Entries:          int64(entries),
		DeleteTagEntries: int64(deleteTagEntries),
	}
	return meta, int(level), nil
}
