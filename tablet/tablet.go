// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/cache"
	"github.com/teratab/tabletserver/vfs"
)

// Cell is one column version within a row mutation or read result, per
// spec §3 "Row": "(column-family, qualifier, timestamp, value)".
type Cell struct {
	Family    string
	Qualifier []byte
	Timestamp int64 // microseconds; 0 at write time means "assign server time"
	Value     []byte
	Delete    bool
}

// RowMutation is one row's worth of cell writes/deletes, the unit WriteTablet
// applies (spec §6 "WriteTablet(row_list, is_instant)").
type RowMutation struct {
	RowKey []byte
	Cells  []Cell
}

// Options configures a Tablet's engines.
type Options struct {
	FS         vfs.FS
	BaseDir    string
	BlockCache *cache.Cache
	TableCache *cache.TableCache
	Logger     base.Logger

	EngineDefaults engine.Options
}

// Tablet is the owner of a contiguous row-key range of one table; it holds
// one engine.Engine per locality group and the lifecycle state machine of
// spec §3 "Lifecycle" (component C8).
type Tablet struct {
	Identity Identity
	Schema   Schema

	opts Options

	mu      sync.Mutex
	state   State
	engines map[string]*engine.Engine // keyed by locality group name

	refcount int32
}

// Load opens (or creates, or inherits from Identity.Parents[0]) one engine
// per locality group in parallel, per SPEC_FULL.md's C8/C10 "per-LG open
// engines in parallel." On any locality-group failure not in
// ignoreErrLGs, every already-opened engine is closed and the tablet is
// left in StateNotInit so the caller (tabletmgr) removes it and reports a
// structured corruption message (spec §4.7 load pipeline).
func Load(id Identity, schema Schema, opts Options, ignoreErrLGs map[string]bool) (*Tablet, error) {
	if len(schema.LocalityGroups) == 0 {
		return nil, base.ErrIllegalAccess
	}

	t := &Tablet{
		Identity: id,
		Schema:   schema,
		opts:     opts,
		state:    StateOnLoad,
		engines:  make(map[string]*engine.Engine),
		refcount: 1,
	}

	type openResult struct {
		name string
		eng  *engine.Engine
		err  error
	}
	results := make(chan openResult, len(schema.LocalityGroups))
	for _, lg := range schema.LocalityGroups {
		lg := lg
		go func() {
			e, err := t.openLocalityGroup(lg)
			results <- openResult{name: lg.Name, eng: e, err: err}
		}()
	}

	var firstErr error
	for range schema.LocalityGroups {
		r := <-results
		if r.err != nil {
			if ignoreErrLGs[r.name] {
				opts.Logger.Errorf("tablet: ignoring load error for lg %s: %v", r.name, r.err)
				continue
			}
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		t.engines[r.name] = r.eng
	}

	if firstErr != nil {
		for _, e := range t.engines {
			e.Close()
		}
		t.state = StateNotInit
		return nil, firstErr
	}

	t.state = StateReady
	return t, nil
}

func (t *Tablet) localityGroupDir(name string) string {
	return t.opts.FS.PathJoin(t.opts.BaseDir, t.Identity.TableName, t.Identity.DirName(), name)
}

func (t *Tablet) openLocalityGroup(lg LocalityGroup) (*engine.Engine, error) {
	eopts := t.opts.EngineDefaults
	eopts.FS = t.opts.FS
	eopts.Dir = t.localityGroupDir(lg.Name)
	eopts.BlockCache = t.opts.BlockCache
	eopts.TableCache = t.opts.TableCache
	if lg.Strategy != nil {
		eopts.Strategy = lg.Strategy
	}
	return engine.Open(&eopts)
}

// Ref increments the tablet's reference count; every caller obtaining a
// handle from tabletmgr must eventually DecRef (spec §4.7 "the caller must
// DecRef").
func (t *Tablet) Ref() { atomic.AddInt32(&t.refcount, 1) }

// DecRef releases a reference, reporting whether this was the last one.
func (t *Tablet) DecRef() bool { return atomic.AddInt32(&t.refcount, -1) == 0 }

// State returns the tablet's current lifecycle state.
func (t *Tablet) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tablet) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Unload runs the two-phase stop-the-world teardown of spec §3/§9:
// StateUnLoading stops admitting new foreground operations; StateUnLoading2
// waits for in-flight operations to drain (approximated here by waiting
// out any reference beyond the manager's own) before closing every engine.
func (t *Tablet) Unload() error {
	t.setState(StateUnLoading)

	deadline := time.Now().Add(30 * time.Second)
	for atomic.LoadInt32(&t.refcount) > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	t.setState(StateUnLoading2)

	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, e := range t.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Mutate applies muts, returning a parallel per-row error vector (spec §6
// "WriteTablet(row_list, is_instant) -> per-row status vector"). Rows
// outside the tablet's range are reported kKeyNotInRange without touching
// any engine.
func (t *Tablet) Mutate(muts []RowMutation, instant bool) []error {
	errs := make([]error, len(muts))
	if t.State() != StateReady {
		for i := range errs {
			errs[i] = base.ErrKeyNotInRange
		}
		return errs
	}

	now := time.Now().UnixMicro()
	byLG := make(map[string]engine.Batch)
	rowLG := make([]map[string]bool, len(muts))

	for i, m := range muts {
		if !t.Identity.InRange(m.RowKey) {
			errs[i] = base.ErrKeyNotInRange
			continue
		}
		rowLG[i] = make(map[string]bool)
		for _, c := range m.Cells {
			ts := c.Timestamp
			if ts == 0 {
				ts = now
			}
			lg := t.localityGroupFor(c.Family)
			if lg == "" {
				errs[i] = base.ErrInvalidArgument
				continue
			}
			kind := base.InternalKeyKindValue
			if c.Delete {
				kind = base.InternalKeyKindDelete
			}
			key := encodeCellKey(m.RowKey, familyQualifierKey(c.Family, c.Qualifier), ts)
			byLG[lg] = append(byLG[lg], engine.Record{Kind: kind, Key: key, Value: c.Value})
			rowLG[i][lg] = true
		}
	}

	wopts := engine.WriteOptions{Sync: instant}
	for lgName, batch := range byLG {
		e, ok := t.engines[lgName]
		if !ok {
			continue
		}
		if err := e.Write(batch, wopts); err != nil {
			for i, lgs := range rowLG {
				if lgs[lgName] && errs[i] == nil {
					errs[i] = err
				}
			}
		}
	}
	return errs
}

// localityGroupFor returns the name of the locality group that owns
// family, or "" if no locality group declares it.
func (t *Tablet) localityGroupFor(family string) string {
	for _, lg := range t.Schema.LocalityGroups {
		for _, f := range lg.Families {
			if f.Name == family {
				return lg.Name
			}
		}
	}
	return ""
}

// familyQualifierKey packs family+qualifier into the qualifier slot of
// encodeCellKey, since a tablet's families live in disjoint engines but a
// locality group's engine may hold more than one family.
func familyQualifierKey(family string, qualifier []byte) []byte {
	buf := make([]byte, 0, len(family)+1+len(qualifier))
	buf = append(buf, family...)
	buf = append(buf, 0)
	return append(buf, qualifier...)
}

// ApplySchema reloads s in place across every already-open locality-group
// engine (spec §4.1 "Schema reload"), and adopts the new Schema for future
// Mutate/Read/Scan family routing.
func (t *Tablet) ApplySchema(s Schema) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Schema = s
	for _, lg := range s.LocalityGroups {
		if e, ok := t.engines[lg.Name]; ok {
			e.ApplySchema(localityGroupOptions(lg))
		}
	}
}
