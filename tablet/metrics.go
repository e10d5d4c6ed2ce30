// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tablet

import (
	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/internal/manifest"
)

// LevelMetrics returns each locality group's current per-level file
// count/size, keyed by locality group name, for the Query control
// operation's per-tablet metrics (spec §6).
func (t *Tablet) LevelMetrics() map[string][manifest.NumLevels]engine.LevelMetrics {
	t.mu.Lock()
	engines := make(map[string]*engine.Engine, len(t.engines))
	for name, e := range t.engines {
		engines[name] = e
	}
	t.mu.Unlock()

	out := make(map[string][manifest.NumLevels]engine.LevelMetrics, len(engines))
	for name, e := range engines {
		out[name] = e.LevelMetrics()
	}
	return out
}
