// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package tablet implements the Tablet of spec §3/§4 (component C8): a set
// of per-locality-group LSM engines sharing a key range and schema, plus
// the lifecycle state machine that guards concurrent load/unload/split
// against foreground reads and writes.
package tablet

// State is the tablet lifecycle state of spec §3 "Lifecycle": "A tablet is
// created by Load (fresh or inheriting from parents), transitions
// kNotInit -> kOnLoad -> kReady, may enter kOnSplit/kUnLoading/kUnLoading2,
// and ends at kSplited or fully removed."
type State int

const (
	StateNotInit State = iota
	StateOnLoad
	StateReady
	StateOnSplit
	// StateUnLoading stops admitting new foreground operations (spec §9
	// open question on kUnLoading2, resolved per DESIGN.md: kUnLoading is
	// the "stop admitting" phase).
	StateUnLoading
	// StateUnLoading2 is the second stop-the-world phase: in-flight
	// foreground operations have been given a chance to drain and the
	// engines are being closed. Resolves the undocumented kUnLoading2 from
	// spec §9 as "wait out in-flight operations after kUnLoading has
	// stopped admitting new ones."
	StateUnLoading2
	StateSplited
)

func (s State) String() string {
	switch s {
	case StateNotInit:
		return "kNotInit"
	case StateOnLoad:
		return "kOnLoad"
	case StateReady:
		return "kReady"
	case StateOnSplit:
		return "kOnSplit"
	case StateUnLoading:
		return "kUnLoading"
	case StateUnLoading2:
		return "kUnLoading2"
	case StateSplited:
		return "kSplited"
	default:
		return "kUnknown"
	}
}
