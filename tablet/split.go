// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"bytes"
	"sort"
	"time"

	"github.com/teratab/tabletserver/internal/base"
)

// splitRatio is the target fraction of the tablet's data that should land
// in the lower child, per spec §6 "ComputeSplitKey(table, range) -> split
// key". A tablet usually holds several locality groups of unequal size, so
// the row-level split key is the median of each locality group's own
// byte-weighted split point rather than any single group's answer.
const splitRatio = 0.5

// ComputeSplitKey answers spec §6's ComputeSplitKey: a row key strictly
// between the tablet's KeyStart and KeyEnd such that loading children
// [KeyStart, k) and [k, KeyEnd) partitions the tablet's keyspace exactly
// (spec §9 edge case 7). Returns base.ErrTableNotSupport if the tablet
// holds too little data to split meaningfully.
func (t *Tablet) ComputeSplitKey() ([]byte, error) {
	if t.State() != StateReady {
		return nil, base.ErrKeyNotInRange
	}

	var rowKeys [][]byte
	for _, e := range t.engines {
		splitKey, err := e.FindSplitKey(splitRatio)
		if err != nil {
			continue
		}
		row, _, _, ok := decodeCellKey(splitKey)
		if !ok {
			continue
		}
		rowKeys = append(rowKeys, row)
	}
	if len(rowKeys) == 0 {
		return nil, base.ErrTableNotSupport
	}

	sort.Slice(rowKeys, func(i, j int) bool { return bytes.Compare(rowKeys[i], rowKeys[j]) < 0 })
	median := rowKeys[len(rowKeys)/2]

	if bytes.Compare(median, t.Identity.KeyStart) <= 0 {
		return nil, base.ErrTableNotSupport
	}
	if len(t.Identity.KeyEnd) > 0 && bytes.Compare(median, t.Identity.KeyEnd) >= 0 {
		return nil, base.ErrTableNotSupport
	}
	return median, nil
}

// ChildIdentities builds the two child Identity values a split on
// splitKey produces: [KeyStart, splitKey) and [splitKey, KeyEnd), each
// recording this tablet as its sole parent (spec §3 "split child" has
// len(ParentTablets) == 1).
func (t *Tablet) ChildIdentities(splitKey []byte) (lower, upper Identity) {
	now := time.Now()
	parent := t.Identity
	lower = Identity{
		TableName:  parent.TableName,
		KeyStart:   parent.KeyStart,
		KeyEnd:     splitKey,
		CreateTime: now,
		Version:    parent.Version + 1,
		Parents:    []Identity{parent},
	}
	upper = Identity{
		TableName:  parent.TableName,
		KeyStart:   splitKey,
		KeyEnd:     parent.KeyEnd,
		CreateTime: now,
		Version:    parent.Version + 1,
		Parents:    []Identity{parent},
	}
	return lower, upper
}

// BeginSplit transitions the tablet into StateOnSplit, the point past
// which the tablet still serves reads but stops accepting structural
// changes to its key range (spec §3 "Lifecycle": "may enter ... kOnSplit").
func (t *Tablet) BeginSplit() {
	t.setState(StateOnSplit)
}

// FinishSplit marks the tablet as replaced by its children; the caller
// (tabletmgr) removes it from the live range map once every reference has
// drained.
func (t *Tablet) FinishSplit() {
	t.setState(StateSplited)
}
