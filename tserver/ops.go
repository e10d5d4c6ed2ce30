// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teratab/tabletserver/config"
	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/cache"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/tablet"
)

// LoadRequest is spec §6's LoadTablet(table, range, path, schema, parents,
// ignore_err_lgs, create_time, version, session).
type LoadRequest struct {
	Identity     tablet.Identity
	Schema       tablet.Schema
	IgnoreErrLGs map[string]bool
	Session      SessionID
}

// LoadTablet opens id's locality-group engines and registers it with the
// manager, per spec §4.7's load pipeline. Runs on the control pool (spec §6
// "thread pools ... control") since opening every locality group's engine
// is the heaviest control-plane operation this server performs.
func (c *Core) LoadTablet(req LoadRequest) error {
	if err := c.checkSession(req.Session); err != nil {
		return err
	}
	if len(req.Schema.LocalityGroups) == 0 {
		return base.ErrIllegalAccess
	}
	if existing, err := c.mgr.GetTablet(req.Identity.TableName, req.Identity.KeyStart); err == nil {
		existing.DecRef()
		return nil // already loading/ready: spec "returns early"
	}

	var err error
	c.controlPool.Run(func() {
		var t *tablet.Tablet
		t, err = tablet.Load(req.Identity, req.Schema, c.tabletOptions(), req.IgnoreErrLGs)
		if err != nil {
			c.bgErrors.report(req.Identity.DirName(), fmt.Sprintf(
				"phase=loading path=%s parents=%d: %v", req.Identity.DirName(), len(req.Identity.Parents), err))
			return
		}
		if addErr := c.mgr.Add(t); addErr != nil {
			t.Unload()
			err = addErr
		}
	})
	return err
}

// UnloadTablet answers spec §6's UnloadTablet(table, range, session), run
// on the control pool alongside LoadTablet.
func (c *Core) UnloadTablet(table string, keyStart []byte, session SessionID) error {
	if err := c.checkSession(session); err != nil {
		return err
	}
	t, err := c.mgr.GetTablet(table, keyStart)
	if err != nil {
		return err
	}
	defer t.DecRef()
	c.mgr.Remove(table, keyStart)
	var unloadErr error
	c.controlPool.Run(func() { unloadErr = t.Unload() })
	return unloadErr
}

// WriteTablet answers spec §6's WriteTablet(row_list, is_instant).
func (c *Core) WriteTablet(table string, muts []tablet.RowMutation, instant bool) []error {
	if len(muts) == 0 {
		return nil
	}
	t, err := c.mgr.GetTablet(table, muts[0].RowKey)
	if err != nil {
		errs := make([]error, len(muts))
		for i := range errs {
			errs[i] = err
		}
		return errs
	}
	defer t.DecRef()

	var errs []error
	c.writePool.Run(func() {
		_ = measure(c.metrics.WriteLatency, "write", func() error {
			errs = t.Mutate(muts, instant)
			return nil
		})
	})
	for _, e := range errs {
		c.metrics.WritesTotal.WithLabelValues(base.StatusFromError(e).String()).Inc()
	}
	return errs
}

// ReadRequest is spec §6's ReadTablet(row_info_list, client_timeout_ms,
// snapshot_id).
type ReadRequest struct {
	Table         string
	Rows          []tablet.RowInfo
	ClientTimeout time.Duration
	Snapshot      base.SeqNum
}

// ReadTablet answers spec §6's ReadTablet, fanning shards of rows_per_task
// rows out across the read pool (spec §4.7 "Read parallelism"), with the
// last shard running inline on the caller's goroutine. A client timeout
// short-circuits any shard not yet started into kRPCTimeout results.
func (c *Core) ReadTablet(req ReadRequest) ([]tablet.RowResult, int) {
	if len(req.Rows) == 0 {
		return nil, 0
	}
	t, err := c.mgr.GetTablet(req.Table, req.Rows[0].RowKey)
	if err != nil {
		results := make([]tablet.RowResult, len(req.Rows))
		for i, r := range req.Rows {
			results[i] = tablet.RowResult{RowKey: r.RowKey, Err: err}
		}
		return results, 0
	}
	defer t.DecRef()

	ctx := context.Background()
	var cancel context.CancelFunc
	if req.ClientTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.ClientTimeout)
		defer cancel()
	}

	const rowsPerTask = 64
	results := make([]tablet.RowResult, len(req.Rows))
	var success int32

	runShard := func(start, end int) {
		select {
		case <-ctx.Done():
			for i := start; i < end; i++ {
				results[i] = tablet.RowResult{RowKey: req.Rows[i].RowKey, Err: base.ErrRPCTimeout}
			}
			return
		default:
		}
		shardResults, shardSuccess := t.Read(req.Rows[start:end], req.Snapshot)
		copy(results[start:end], shardResults)
		atomic.AddInt32(&success, int32(shardSuccess))
	}

	_ = measure(c.metrics.ReadLatency, "read", func() error {
		numShards := (len(req.Rows) + rowsPerTask - 1) / rowsPerTask
		var wg sync.WaitGroup
		for i := 0; i < numShards; i++ {
			start := i * rowsPerTask
			end := start + rowsPerTask
			if end > len(req.Rows) {
				end = len(req.Rows)
			}
			if i == numShards-1 {
				// The last shard runs on the caller's own goroutine (spec
				// §4.7 "the last shard executes on the caller thread, earlier
				// shards on the read pool").
				runShard(start, end)
				continue
			}
			wg.Add(1)
			if !c.readPool.Submit(func() {
				defer wg.Done()
				runShard(start, end)
			}) {
				// Pool stopped: run inline rather than leaking the waiter.
				wg.Done()
				runShard(start, end)
			}
		}
		wg.Wait()
		return nil
	})
	for _, r := range results {
		c.metrics.ReadsTotal.WithLabelValues(base.StatusFromError(r.Err).String()).Inc()
	}
	return results, success
}

// ScanTablet answers spec §6's ScanTablet(table, start, end, filters,
// column_selection, buffer_limit, timeout); pagination state (nextStart)
// is handed back to the caller to drive follow-up calls.
func (c *Core) ScanTablet(table string, start, end []byte, families []string, bufferLimit int, snapshot base.SeqNum) ([]tablet.ScanResult, []byte, error) {
	t, err := c.mgr.GetTablet(table, start)
	if err != nil {
		return nil, nil, err
	}
	defer t.DecRef()

	c.metrics.ScansTotal.Inc()
	var results []tablet.ScanResult
	var next []byte
	c.scanPool.Run(func() {
		err = measure(c.metrics.ScanLatency, "scan", func() error {
			var scanErr error
			results, next, scanErr = t.Scan(start, end, families, snapshot, bufferLimit)
			return scanErr
		})
	})
	return results, next, err
}

// CompactTablet answers spec §6's CompactTablet(table, range, optional lg).
// lg selection per locality group isn't threaded through here since
// tablet.CompactRange already fans a manual compaction out across every
// locality group's engine; a future per-lg filter would plug in there.
func (c *Core) CompactTablet(table string, start, end []byte) error {
	t, err := c.mgr.GetTablet(table, start)
	if err != nil {
		return err
	}
	defer t.DecRef()
	c.metrics.CompactionsTotal.Inc()
	c.compactPool.Run(func() { err = t.CompactRange(start, end) })
	return err
}

// ComputeSplitKey answers spec §6's ComputeSplitKey(table, range), run on
// the light control pool (spec §6 "thread pools ... light control") since
// it only scans level summaries rather than touching any engine's files.
func (c *Core) ComputeSplitKey(table string, keyStart []byte) ([]byte, error) {
	t, err := c.mgr.GetTablet(table, keyStart)
	if err != nil {
		return nil, err
	}
	defer t.DecRef()
	var key []byte
	c.lightControlPool.Run(func() { key, err = t.ComputeSplitKey() })
	return key, err
}

// Update answers spec §6's Update(schema): applies a new schema in place,
// on the light control pool alongside the rest of the lightweight control
// surface.
func (c *Core) Update(table string, keyStart []byte, schema tablet.Schema) error {
	t, err := c.mgr.GetTablet(table, keyStart)
	if err != nil {
		return err
	}
	defer t.DecRef()
	c.lightControlPool.Run(func() { t.ApplySchema(schema) })
	return nil
}

// TabletMetrics is one tablet's identity plus its per-locality-group level
// sizes, the per-tablet shape of spec §6's Query result.
type TabletMetrics struct {
	Identity tablet.Identity
	Levels   map[string][manifest.NumLevels]engine.LevelMetrics
}

// QueryResult answers spec §6's Query(include-gc-query): system info,
// per-tablet metrics, and background errors.
type QueryResult struct {
	Status           Status
	Session          SessionID
	TabletCount      int
	Tablets          []TabletMetrics
	BackgroundErrors []bgErrorEntry
	ReadLatency      LatencySummary
	WriteLatency     LatencySummary
	ScanLatency      LatencySummary
	BlockCache       cache.Metrics
}

// Query answers spec §6's Query control operation, run on the light
// control pool so a burst of heartbeat polling never queues behind
// LoadTablet/UnloadTablet on the control pool.
func (c *Core) Query() QueryResult {
	var result QueryResult
	c.lightControlPool.Run(func() {
		var tablets []TabletMetrics
		c.mgr.ForEach(func(t *tablet.Tablet) {
			tablets = append(tablets, TabletMetrics{Identity: t.Identity, Levels: t.LevelMetrics()})
		})
		result = QueryResult{
			Status:           c.Status(),
			Session:          c.sess,
			TabletCount:      c.mgr.Count(),
			Tablets:          tablets,
			BackgroundErrors: c.bgErrors.Snapshot(),
			ReadLatency:      c.metrics.ReadLatency.snapshot(),
			WriteLatency:     c.metrics.WriteLatency.snapshot(),
			ScanLatency:      c.metrics.ScanLatency.snapshot(),
			BlockCache:       c.blockCache.Metrics(),
		}
	})
	return result
}

// CmdCtrl answers spec §6's CmdCtrl("reload config"): re-parses args
// against the flag file and swaps cfg in place. Of the swapped-in fields,
// the corruption-tolerance flags apply to tablets loaded afterwards and
// TCMReleaseSize to the next trim tick; pool sizes, cache capacities and the
// other fields read at Start are not re-applied. Run on the light control
// pool with the rest of the control-plane surface.
func (c *Core) CmdCtrl(args []string) error {
	var cfg config.Config
	var err error
	c.lightControlPool.Run(func() {
		cfg, err = config.Parse(args)
	})
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}
