// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolSubmitRunsTasks(t *testing.T) {
	p := newPool("test", 4, 16)
	defer p.Stop()

	var n int32
	var done sync.WaitGroup
	const tasks = 50
	done.Add(tasks)
	for i := 0; i < tasks; i++ {
		require.True(t, p.Submit(func() {
			atomic.AddInt32(&n, 1)
			done.Done()
		}))
	}
	done.Wait()
	require.EqualValues(t, tasks, atomic.LoadInt32(&n))
}

func TestPoolStopRejectsFurtherSubmits(t *testing.T) {
	p := newPool("test", 2, 4)
	p.Stop()
	require.False(t, p.Submit(func() {}))
}

func TestPoolRunBlocksUntilTaskCompletes(t *testing.T) {
	p := newPool("test", 2, 4)
	defer p.Stop()

	var n int32
	p.Run(func() { atomic.AddInt32(&n, 1) })
	require.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestPoolRunFallsBackInlineWhenStopped(t *testing.T) {
	p := newPool("test", 2, 4)
	p.Stop()

	ran := false
	p.Run(func() { ran = true })
	require.True(t, ran)
}

func TestPoolTrySubmitDoesNotBlockWhenSaturated(t *testing.T) {
	p := newPool("test", 1, 1)
	block := make(chan struct{})
	defer func() {
		close(block)
		p.Stop()
	}()

	require.True(t, p.TrySubmit(func() { <-block }))
	// The single worker is now busy draining block, and the one queue slot
	// may or may not be occupied; TrySubmit must return immediately either way.
	_ = p.TrySubmit(func() {})
}
