// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusBoxLoadStore(t *testing.T) {
	var b statusBox
	require.Equal(t, StatusNotInited, b.load())
	b.store(StatusIsRunning)
	require.Equal(t, StatusIsRunning, b.load())
}

func TestStatusBoxCAS(t *testing.T) {
	var b statusBox
	b.store(StatusIsIniting)

	require.False(t, b.cas(StatusNotInited, StatusIsRunning))
	require.Equal(t, StatusIsIniting, b.load())

	require.True(t, b.cas(StatusIsIniting, StatusIsRunning))
	require.Equal(t, StatusIsRunning, b.load())
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "kNotInited", StatusNotInited.String())
	require.Equal(t, "kIsIniting", StatusIsIniting.String())
	require.Equal(t, "kIsRunning", StatusIsRunning.String())
	require.Equal(t, "kIsReadonly", StatusIsReadonly.String())
}
