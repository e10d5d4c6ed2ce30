// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package tabletmgr implements the Tablet Manager of spec §3/§4.7
// (component C9): an ordered mapping from (table_name, key_start) to the
// live Tablet owning that range, guarding against overlapping loads and
// handing out reference-counted handles to callers.
package tabletmgr

import (
	"sort"
	"sync"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/tablet"
)

// entry is one (table, key_start) -> Tablet slot. A slot exists from the
// moment Load begins (state kOnLoad) so a second concurrent Load on an
// overlapping range is rejected rather than racing.
type entry struct {
	id *tablet.Identity
	t  *tablet.Tablet
}

// tableRanges holds one table's tablets ordered by KeyStart, so
// GetTablet can binary-search and Add/Remove can detect overlap in
// O(log n).
type tableRanges struct {
	entries []*entry // sorted by id.KeyStart ascending
}

// Manager is the tablet manager of spec §4.7: "ordered mapping from
// (table_name, key_start) to Tablet." One Manager instance per tablet
// server process.
type Manager struct {
	mu     sync.RWMutex
	tables map[string]*tableRanges
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{tables: make(map[string]*tableRanges)}
}

// Add registers t under its own Identity, rejecting any range overlap
// with an already-registered tablet of the same table (spec §4.7: loading
// two tablets with overlapping ranges is refused, not merged).
func (m *Manager) Add(t *tablet.Tablet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := t.Identity
	tr, ok := m.tables[id.TableName]
	if !ok {
		tr = &tableRanges{}
		m.tables[id.TableName] = tr
	}

	i := sort.Search(len(tr.entries), func(i int) bool {
		return string(tr.entries[i].id.KeyStart) >= string(id.KeyStart)
	})
	if i < len(tr.entries) && tr.entries[i].id.Overlaps(id.KeyStart, id.KeyEnd) {
		return base.ErrIllegalAccess
	}
	if i > 0 && tr.entries[i-1].id.Overlaps(id.KeyStart, id.KeyEnd) {
		return base.ErrIllegalAccess
	}

	e := &entry{id: &id, t: t}
	tr.entries = append(tr.entries, nil)
	copy(tr.entries[i+1:], tr.entries[i:])
	tr.entries[i] = e
	return nil
}

// Remove unregisters the tablet owning key_start in table, e.g. once
// Unload or a completed split has retired it.
func (m *Manager) Remove(table string, keyStart []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.tables[table]
	if !ok {
		return
	}
	i := sort.Search(len(tr.entries), func(i int) bool {
		return string(tr.entries[i].id.KeyStart) >= string(keyStart)
	})
	if i < len(tr.entries) && string(tr.entries[i].id.KeyStart) == string(keyStart) {
		tr.entries = append(tr.entries[:i], tr.entries[i+1:]...)
	}
	if len(tr.entries) == 0 {
		delete(m.tables, table)
	}
}

// GetTablet returns a Ref'd handle to the tablet of table owning key, or
// base.ErrKeyNotInRange if this server holds no such tablet. The caller
// must DecRef the handle when done (spec §4.7).
func (m *Manager) GetTablet(table string, key []byte) (*tablet.Tablet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tr, ok := m.tables[table]
	if !ok {
		return nil, base.ErrKeyNotInRange
	}
	i := sort.Search(len(tr.entries), func(i int) bool {
		return string(tr.entries[i].id.KeyStart) > string(key)
	})
	if i == 0 {
		return nil, base.ErrKeyNotInRange
	}
	e := tr.entries[i-1]
	if !e.id.InRange(key) {
		return nil, base.ErrKeyNotInRange
	}
	e.t.Ref()
	return e.t, nil
}

// List returns every tablet identity currently registered, for the
// Query/heartbeat status report of spec §6.
func (m *Manager) List() []tablet.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []tablet.Identity
	for _, tr := range m.tables {
		for _, e := range tr.entries {
			out = append(out, *e.id)
		}
	}
	return out
}

// ForEach calls fn with every currently registered tablet, holding the
// manager's read lock for the duration so no concurrent Remove can tear one
// down mid-iteration. fn must not call back into the Manager.
func (m *Manager) ForEach(fn func(*tablet.Tablet)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tr := range m.tables {
		for _, e := range tr.entries {
			fn(e.t)
		}
	}
}

// Count returns the number of tablets currently loaded, for metrics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, tr := range m.tables {
		n += len(tr.entries)
	}
	return n
}
