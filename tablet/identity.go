// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"bytes"
	"encoding/hex"
	"time"
)

// Identity is a tablet's identity tuple, per spec §3 "Tablet identity":
// (table_name, key_start, key_end, create_time, version, parent_tablets[]).
// len(ParentTablets) is 0 (fresh), 1 (split child), or 2 (merge child).
type Identity struct {
	TableName  string
	KeyStart   []byte
	KeyEnd     []byte // nil/empty means "unbounded"
	CreateTime time.Time
	Version    uint64
	Parents    []Identity
}

// InRange reports whether key falls within [KeyStart, KeyEnd).
func (id Identity) InRange(key []byte) bool {
	if bytes.Compare(key, id.KeyStart) < 0 {
		return false
	}
	if len(id.KeyEnd) > 0 && bytes.Compare(key, id.KeyEnd) >= 0 {
		return false
	}
	return true
}

// Overlaps reports whether id's range intersects [start, end); empty bounds
// mean unbounded on that side, per spec §3 "key_end = "" means unbounded".
func (id Identity) Overlaps(start, end []byte) bool {
	// id starts at or after end: disjoint, unless end is unbounded.
	if len(end) > 0 && bytes.Compare(id.KeyStart, end) >= 0 {
		return false
	}
	// id ends at or before start: disjoint, unless id is unbounded.
	if len(id.KeyEnd) > 0 && bytes.Compare(id.KeyEnd, start) <= 0 {
		return false
	}
	return true
}

// DirName returns the unique on-disk directory component for this tablet,
// embedding the table name and a hex-encoded key_start so concurrently
// loaded tablets of the same table never collide (spec §3 "SSTable entity"
// file paths embed "table/tablet/lg/file_number.sst").
func (id Identity) DirName() string {
	return id.TableName + "-" + hex.EncodeToString(id.KeyStart)
}
