// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import "github.com/teratab/tabletserver/internal/manifest"

// LevelMetrics is one level's file count and total size, the per-level
// shape of the metrics CyberFlameGO-pebble-1/metrics.go's LevelMetrics
// reports, trimmed to what tserver's Query and the `query --graph` debug
// view need.
type LevelMetrics struct {
	NumFiles         int
	Size             uint64
	DeleteTagPercent float64
}

// LevelMetrics snapshots the current Version's per-level file count and
// size, feeding tserver's Query (via the tablet) and the asciigraph debug
// view (spec §6 Query "per-tablet metrics").
func (e *Engine) LevelMetrics() [manifest.NumLevels]LevelMetrics {
	e.mu.Lock()
	v := e.vs.Current()
	e.mu.Unlock()

	var out [manifest.NumLevels]LevelMetrics
	for l := 0; l < manifest.NumLevels; l++ {
		out[l] = LevelMetrics{NumFiles: v.NumFiles(l), Size: v.TotalBytes(l), DeleteTagPercent: v.DeleteTagPercent(l)}
	}
	return out
}
