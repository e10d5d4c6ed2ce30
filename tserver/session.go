// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import "github.com/google/uuid"

// SessionID identifies one process lifetime of a tablet server to its
// coordinator (spec §3 "session id"); the coordinator hands this back on
// every control call and a mismatch makes LoadTablet/UnloadTablet fail
// with kIllegalAccess, guarding against a stale/zombie server acting on a
// tablet it no longer owns.
type SessionID string

// NewSessionID mints a fresh session id, generated once at process start.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
