// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package fmcache

// queueItem is one entry in the copy-retry priority queue.
type queueItem struct {
	ms       *mirrorState
	priority float64
	index    int
}

// copyQueue is a max-heap on priority: higher priority copies first, so a
// freshly requested file jumps ahead of a file whose priority has decayed
// across several failed attempts (spec §4.6 "exponentially decaying
// priority").
type copyQueue []*queueItem

func (q copyQueue) Len() int { return len(q) }
func (q copyQueue) Less(i, j int) bool { return q[i].priority > q[j].priority }
func (q copyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *copyQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *copyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
