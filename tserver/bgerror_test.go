// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBgErrorReporterBasic(t *testing.T) {
	r := newBgErrorReporter(1024)
	r.report("t1", "boom")
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "t1", snap[0].Tablet)
	require.Equal(t, "boom", snap[0].Message)
}

func TestBgErrorReporterEvictsOldestOverCap(t *testing.T) {
	r := newBgErrorReporter(10)
	r.report("t1", strings.Repeat("a", 6))
	r.report("t2", strings.Repeat("b", 6))
	r.report("t3", strings.Repeat("c", 6))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "t3", snap[0].Tablet)
}
