// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// timerSet runs the background timers of spec §6: a TCM-release tick (the
// Go-runtime analogue of releasing cached malloc arenas back to the OS), a
// tablet-status refresher, and a level-size tick that does no work (Query
// reads per-tablet/per-level sizes from each tablet's engines on demand).
type timerSet struct {
	c       *Core
	stopCh  chan struct{}
	wg      sync.WaitGroup
	lastRSS uint64
}

func newTimerSet(c *Core) *timerSet {
	return &timerSet{c: c, stopCh: make(chan struct{})}
}

func (t *timerSet) start() {
	t.wg.Add(3)
	go t.runTCMReleaseLoop()
	go t.runTabletStatusLoop()
	go t.runLevelSizeLoop()
}

func (t *timerSet) stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// runTCMReleaseLoop periodically calls debug.FreeOSMemory once cumulative
// heap growth since the last trim passes config's TCMReleaseSize, the
// closest Go-runtime equivalent of the original's tcmalloc release-rate
// tuning (spec §6 "TCM cache release period/size").
func (t *timerSet) runTCMReleaseLoop() {
	defer t.wg.Done()
	period := t.c.cfg.TCMReleasePeriod
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if t.lastRSS == 0 || ms.HeapSys > t.lastRSS+uint64(t.c.cfg.TCMReleaseSize) {
				debug.FreeOSMemory()
				t.lastRSS = ms.HeapSys
			}
		}
	}
}

// runTabletStatusLoop refreshes the TabletsLoaded gauge, standing in for
// spec §6's periodic tablet-status refresh feeding the Query surface.
func (t *timerSet) runTabletStatusLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.c.metrics.TabletsLoaded.Set(float64(t.c.mgr.Count()))
		}
	}
}

// runLevelSizeLoop ticks every 30s and does nothing else. No level-size
// history is kept: Query pulls level sizes on demand from each tablet's
// engines, and cmd/tabletserver query --graph reads one engine directory
// offline; the loop only keeps the timer slot spec §6 names occupied.
func (t *timerSet) runLevelSizeLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
		}
	}
}
