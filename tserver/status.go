// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package tserver implements the Tablet Server Core of spec §3/§6
// (component C10): the process-wide status machine, thread pools,
// background timers, and the control/data operations (LoadTablet,
// UnloadTablet, WriteTablet, ReadTablet, ScanTablet, CompactTablet,
// ComputeSplitKey, Update, Query, CmdCtrl) built over tabletmgr and tablet.
package tserver

import "sync/atomic"

// Status is the server-wide status machine of spec §3 "Status":
// NotInited -> IsIniting -> IsRunning, with IsReadonly reachable from
// IsRunning when a non-retriable storage failure forces a degraded mode.
type Status int32

const (
	StatusNotInited Status = iota
	StatusIsIniting
	StatusIsRunning
	StatusIsReadonly
)

func (s Status) String() string {
	switch s {
	case StatusNotInited:
		return "kNotInited"
	case StatusIsIniting:
		return "kIsIniting"
	case StatusIsRunning:
		return "kIsRunning"
	case StatusIsReadonly:
		return "kIsReadonly"
	default:
		return "kUnknown"
	}
}

type statusBox struct{ v int32 }

func (b *statusBox) load() Status       { return Status(atomic.LoadInt32(&b.v)) }
func (b *statusBox) store(s Status)     { atomic.StoreInt32(&b.v, int32(s)) }
func (b *statusBox) cas(old, new Status) bool {
	return atomic.CompareAndSwapInt32(&b.v, int32(old), int32(new))
}
