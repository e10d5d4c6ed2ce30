// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package base holds primitives shared by every layer of the tablet server:
// the internal key format, the error taxonomy, and the logging interface.
package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SeqNum is the 64-bit monotonically increasing per-engine sequence number
// stamped onto every write (spec §3 "Internal key").
type SeqNum uint64

// MaxSeqNum is larger than any sequence number a writer may assign; used as
// the default read snapshot ("read everything").
const MaxSeqNum SeqNum = 1<<64 - 1

// InternalKeyKind distinguishes a value entry from a deletion tombstone.
type InternalKeyKind uint8

const (
	InternalKeyKindValue InternalKeyKind = iota
	InternalKeyKindDelete
	// InternalKeyKindMax is a sentinel used by range-limit keys: it compares
	// greater than any real kind for the same user key so that a seek for
	// "just past this key" lands correctly.
	InternalKeyKindMax InternalKeyKind = 255
)

func (k InternalKeyKind) String() string {
	switch k {
	case InternalKeyKindValue:
		return "SET"
	case InternalKeyKindDelete:
		return "DEL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// InternalKey is the unit of ordering throughout the engine: user key
// ascending, then sequence number descending (newer wins), per spec §3.
type InternalKey struct {
	UserKey []byte
	Seq     SeqNum
	Kind    InternalKeyKind
}

// MakeInternalKey builds an InternalKey for a live record.
func MakeInternalKey(userKey []byte, seq SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Seq: seq, Kind: kind}
}

// Clone returns a deep copy of the key (the user key bytes are copied).
func (k InternalKey) Clone() InternalKey {
	if k.UserKey == nil {
		return k
	}
	buf := make([]byte, len(k.UserKey))
	copy(buf, k.UserKey)
	return InternalKey{UserKey: buf, Seq: k.Seq, Kind: k.Kind}
}

// InternalCompare orders two internal keys: user key ascending, then sequence number
// descending, then kind descending (so a Delete at the same seq as a Value
// the committing writer never actually produces is still well ordered).
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if c := userCmp(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	if a.Seq != b.Seq {
		// Descending: newer (larger) sequence sorts first.
		if a.Seq > b.Seq {
			return -1
		}
		return 1
	}
	if a.Kind != b.Kind {
		if a.Kind > b.Kind {
			return -1
		}
		return 1
	}
	return 0
}

// Compare is a user-key comparator: negative if a < b, zero if equal,
// positive if a > b. The default is bytes.Compare; schemas may supply a
// custom comparator (spec MANIFEST "set comparator" tag).
type Compare func(a, b []byte) int

// DefaultCompare orders raw keys lexicographically.
func DefaultCompare(a, b []byte) int { return bytes.Compare(a, b) }

// Trailer packs (seq<<8 | kind) the way on-disk internal keys are encoded,
// mirroring the teacher's trailer packing referenced from ingest.go's
// InternalKey handling (IsExclusiveSentinel, SeqNum(), Kind()).
type Trailer uint64

func PackTrailer(seq SeqNum, kind InternalKeyKind) Trailer {
	return Trailer(uint64(seq)<<8 | uint64(kind))
}

func (t Trailer) SeqNum() SeqNum        { return SeqNum(uint64(t) >> 8) }
func (t Trailer) Kind() InternalKeyKind { return InternalKeyKind(uint64(t) & 0xff) }

// EncodeTrailer appends the 8-byte trailer to buf.
func EncodeTrailer(buf []byte, seq SeqNum, kind InternalKeyKind) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(PackTrailer(seq, kind)))
	return append(buf, tmp[:]...)
}

// DecodeTrailer reads the 8-byte trailer from the tail of buf.
func DecodeTrailer(buf []byte) (seq SeqNum, kind InternalKeyKind, rest []byte) {
	n := len(buf)
	t := Trailer(binary.LittleEndian.Uint64(buf[n-8:]))
	return t.SeqNum(), t.Kind(), buf[:n-8]
}

// Pretty renders a key for debug/error output without exposing raw bytes in
// a way that bypasses redaction; callers wrap this in redact.Safe where the
// key value itself is not sensitive (e.g. internal test output).
func (k InternalKey) Pretty() string {
	return fmt.Sprintf("%q#%d,%s", k.UserKey, k.Seq, k.Kind)
}
