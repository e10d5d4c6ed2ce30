// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"bytes"

	"github.com/teratab/tabletserver/internal/base"
)

// RowInfo is one row request within a ReadTablet call (spec §6
// "ReadTablet(row_info_list, ...)").
type RowInfo struct {
	RowKey   []byte
	Families []string // empty means "every family in the schema"
}

// RowResult is one row's worth of ReadTablet output.
type RowResult struct {
	RowKey []byte
	Cells  []Cell
	Err    error
}

// splitFamilyQualifier recovers the family name and true qualifier from the
// combined qualifier slot written by familyQualifierKey.
func splitFamilyQualifier(combined []byte) (family string, qualifier []byte) {
	i := bytes.IndexByte(combined, 0)
	if i < 0 {
		return string(combined), nil
	}
	return string(combined[:i]), combined[i+1:]
}

// Read answers spec §6's ReadTablet: a per-row result list plus a success
// count, snapshot-consistent at the given sequence number. Rows outside
// this tablet's range fail with kKeyNotInRange without touching any engine.
func (t *Tablet) Read(rows []RowInfo, snapshot base.SeqNum) ([]RowResult, int) {
	results := make([]RowResult, len(rows))
	success := 0
	if t.State() != StateReady {
		for i := range rows {
			results[i] = RowResult{RowKey: rows[i].RowKey, Err: base.ErrKeyNotInRange}
		}
		return results, 0
	}
	for i, r := range rows {
		cells, err := t.readRow(r.RowKey, r.Families, snapshot)
		results[i] = RowResult{RowKey: r.RowKey, Cells: cells, Err: err}
		if err == nil {
			success++
		}
	}
	return results, success
}

func (t *Tablet) readRow(rowKey []byte, families []string, snapshot base.SeqNum) ([]Cell, error) {
	if !t.Identity.InRange(rowKey) {
		return nil, base.ErrKeyNotInRange
	}
	if len(families) == 0 {
		families = t.allFamilies()
	}

	lgNames := make(map[string]bool)
	for _, f := range families {
		if lg := t.localityGroupFor(f); lg != "" {
			lgNames[lg] = true
		}
	}
	wanted := make(map[string]bool, len(families))
	for _, f := range families {
		wanted[f] = true
	}

	start := rowLowerBound(rowKey)
	end := rowUpperBound(rowKey)

	var cells []Cell
	for lgName := range lgNames {
		e, ok := t.engines[lgName]
		if !ok {
			continue
		}
		it, err := e.NewScanIterator(start, end, snapshot)
		if err != nil {
			return nil, err
		}
		versionCount := make(map[string]int)
		for it.Valid() {
			_, qual, ts, ok := decodeCellKey(it.Key())
			if !ok {
				it.Next()
				continue
			}
			family, qualifier := splitFamilyQualifier(qual)
			if !wanted[family] {
				it.Next()
				continue
			}
			cap := t.maxVersionsFor(family)
			vkey := family + "\x00" + string(qualifier)
			if cap > 0 && versionCount[vkey] >= cap {
				it.Next()
				continue
			}
			versionCount[vkey]++
			value := append([]byte(nil), it.Value()...)
			cells = append(cells, Cell{
				Family:    family,
				Qualifier: append([]byte(nil), qualifier...),
				Timestamp: ts,
				Value:     value,
			})
			it.Next()
		}
		err = it.Error()
		it.Close()
		if err != nil {
			return nil, err
		}
	}
	return cells, nil
}

func (t *Tablet) allFamilies() []string {
	var out []string
	for _, lg := range t.Schema.LocalityGroups {
		for _, f := range lg.Families {
			out = append(out, f.Name)
		}
	}
	return out
}

func (t *Tablet) maxVersionsFor(family string) int {
	for _, lg := range t.Schema.LocalityGroups {
		for _, f := range lg.Families {
			if f.Name == family {
				return f.MaxVersions
			}
		}
	}
	return 0
}
