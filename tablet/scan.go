// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"bytes"

	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/internal/base"
)

// ScanResult is one row's worth of ScanTablet output.
type ScanResult struct {
	RowKey []byte
	Cells  []Cell
}

// lgScanCursor tracks one locality group's open iterator during a merged
// row-by-row ScanTablet walk.
type lgScanCursor struct {
	name string
	it   *engine.ScanIterator
	done bool
}

// Scan answers spec §6's ScanTablet: rows in [start, end) in ascending row
// key order, paged at buffer_limit rows, restricted to families if
// non-empty. The returned nextStart, if non-nil, is the row key the caller
// should pass as start on the next page request.
func (t *Tablet) Scan(start, end []byte, families []string, snapshot base.SeqNum, limit int) ([]ScanResult, []byte, error) {
	if t.State() != StateReady {
		return nil, nil, base.ErrKeyNotInRange
	}
	if len(families) == 0 {
		families = t.allFamilies()
	}
	wanted := make(map[string]bool, len(families))
	lgNames := make(map[string]bool)
	for _, f := range families {
		wanted[f] = true
		if lg := t.localityGroupFor(f); lg != "" {
			lgNames[lg] = true
		}
	}

	engStart := clampStart(start, t.Identity.KeyStart)
	var engEnd []byte
	if len(end) > 0 {
		engEnd = rowLowerBound(end)
	}
	if len(t.Identity.KeyEnd) > 0 && (engEnd == nil || bytes.Compare(rowLowerBound(t.Identity.KeyEnd), engEnd) < 0) {
		engEnd = rowLowerBound(t.Identity.KeyEnd)
	}

	cursors := make([]*lgScanCursor, 0, len(lgNames))
	defer func() {
		for _, c := range cursors {
			c.it.Close()
		}
	}()
	for lgName := range lgNames {
		e, ok := t.engines[lgName]
		if !ok {
			continue
		}
		it, err := e.NewScanIterator(rowLowerBound(engStart), engEnd, snapshot)
		if err != nil {
			return nil, nil, err
		}
		cursors = append(cursors, &lgScanCursor{name: lgName, it: it})
	}

	var results []ScanResult
	var nextStart []byte
	for {
		rowKey, any := nextRowKey(cursors)
		if !any {
			break
		}
		if limit > 0 && len(results) >= limit {
			nextStart = append([]byte(nil), rowKey...)
			break
		}
		cells := collectRow(cursors, rowKey, wanted, t)
		if len(cells) > 0 {
			results = append(results, ScanResult{RowKey: rowKey, Cells: cells})
		}
	}
	for _, c := range cursors {
		if err := c.it.Error(); err != nil {
			return results, nextStart, err
		}
	}
	return results, nextStart, nil
}

// clampStart raises start up to the tablet's own KeyStart when start is
// empty or below it, since a caller may pass an unbounded "" start.
func clampStart(start, tabletStart []byte) []byte {
	if len(start) == 0 || bytes.Compare(start, tabletStart) < 0 {
		return tabletStart
	}
	return start
}

// nextRowKey returns the smallest row key any live cursor currently sits
// on, decoding lazily.
func nextRowKey(cursors []*lgScanCursor) ([]byte, bool) {
	var min []byte
	found := false
	for _, c := range cursors {
		if c.done || !c.it.Valid() {
			c.done = true
			continue
		}
		row, _, _, ok := decodeCellKey(c.it.Key())
		if !ok {
			c.it.Next()
			continue
		}
		if !found || bytes.Compare(row, min) < 0 {
			min = row
			found = true
		}
	}
	return min, found
}

// collectRow drains every cursor's entries belonging to rowKey into a Cell
// list, applying each family's MaxVersions cap.
func collectRow(cursors []*lgScanCursor, rowKey []byte, wanted map[string]bool, t *Tablet) []Cell {
	var cells []Cell
	versionCount := make(map[string]int)
	for _, c := range cursors {
		for !c.done && c.it.Valid() {
			row, qual, ts, ok := decodeCellKey(c.it.Key())
			if !ok || !bytes.Equal(row, rowKey) {
				break
			}
			family, qualifier := splitFamilyQualifier(qual)
			if !wanted[family] {
				c.it.Next()
				continue
			}
			cap := t.maxVersionsFor(family)
			vkey := family + "\x00" + string(qualifier)
			if cap > 0 && versionCount[vkey] >= cap {
				c.it.Next()
				continue
			}
			versionCount[vkey]++
			cells = append(cells, Cell{
				Family:    family,
				Qualifier: append([]byte(nil), qualifier...),
				Timestamp: ts,
				Value:     append([]byte(nil), c.it.Value()...),
			})
			c.it.Next()
		}
	}
	return cells
}
