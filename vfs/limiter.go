// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package vfs

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ReadLimiter caps the number of concurrent remote DFS reads in flight,
// strictly below the size of the read thread pool, so that local (SSD)
// reads through the persistent cache can never be starved by DFS latency
// (spec §5 "Shared resource policy").
type ReadLimiter struct {
	sem *semaphore.Weighted
}

// NewReadLimiter builds a limiter admitting at most max concurrent reads.
func NewReadLimiter(max int64) *ReadLimiter {
	return &ReadLimiter{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until a read slot is available or ctx is cancelled.
func (l *ReadLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a read slot to the pool.
func (l *ReadLimiter) Release() { l.sem.Release(1) }
