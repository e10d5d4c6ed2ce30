// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Sentinel errors implementing the taxonomy of spec §7. Callers wrap these
// with errors.Wrapf/Mark so errors.Is continues to match the sentinel after
// context (table, key, path) has been attached.
var (
	// ErrKeyNotInRange: target tablet not on this server or key outside range.
	ErrKeyNotInRange = errors.New("tabletserver: key not in range")
	// ErrIllegalAccess: session-id mismatch or schema invalid at load.
	ErrIllegalAccess = errors.New("tabletserver: illegal access")
	// ErrIOError: generic DFS or local I/O failure.
	ErrIOError = errors.New("tabletserver: io error")
	// ErrIOPermissionDenied: non-retriable storage failure, triggers force-unload.
	ErrIOPermissionDenied = errors.New("tabletserver: io permission denied")
	// ErrTableNotSupport: split requested on an engine variant that cannot
	// produce a split key.
	ErrTableNotSupport = errors.New("tabletserver: table not support")
	// ErrRPCTimeout: client deadline elapsed before work completed.
	ErrRPCTimeout = errors.New("tabletserver: rpc timeout")
	// ErrTabletNodeIsBusy: read quota/inflight guard rejected the request.
	ErrTabletNodeIsBusy = errors.New("tabletserver: tablet node is busy")
	// ErrKeyNotExist: row absent or fully shadowed by tombstones/strategy drops.
	ErrKeyNotExist = errors.New("tabletserver: key not exist")
	// ErrInvalidArgument: malformed update/cmd request.
	ErrInvalidArgument = errors.New("tabletserver: invalid argument")
	// ErrCorruption: on-disk state (MANIFEST, SSTable, WAL) is not coherent.
	ErrCorruption = errors.New("tabletserver: corruption")
)

// CorruptionErrorf builds an ErrCorruption-marked error with redacted
// formatting, mirroring base.CorruptionErrorf referenced from the teacher's
// ingest.go.
func CorruptionErrorf(format redact.SafeString, args ...interface{}) error {
	return errors.Mark(errors.Newf(string(format), args...), ErrCorruption)
}

// IsCorruption reports whether err (or any error it wraps) is a corruption error.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }

// Status is the coarse per-call outcome returned alongside errors in the
// per-row status vectors of spec §6/§7. Each sentinel error above has its own
// Status except ErrCorruption, which StatusFromError reports as
// StatusIOError (its default for unmatched errors); kOK/kKeyNotExist is not
// itself an error path in the row-result vector.
type Status int

const (
	StatusOK Status = iota
	StatusKeyNotInRange
	StatusIllegalAccess
	StatusIOError
	StatusIOPermissionDenied
	StatusTableNotSupport
	StatusRPCTimeout
	StatusTabletNodeIsBusy
	StatusKeyNotExist
	StatusInvalidArgument
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusKeyNotInRange:
		return "kKeyNotInRange"
	case StatusIllegalAccess:
		return "kIllegalAccess"
	case StatusIOError:
		return "kIOError"
	case StatusIOPermissionDenied:
		return "kIOPermissionDenied"
	case StatusTableNotSupport:
		return "kTableNotSupport"
	case StatusRPCTimeout:
		return "kRPCTimeout"
	case StatusTabletNodeIsBusy:
		return "kTabletNodeIsBusy"
	case StatusKeyNotExist:
		return "kKeyNotExist"
	case StatusInvalidArgument:
		return "kInvalidArgument"
	default:
		return "kUnknown"
	}
}

// StatusFromError maps an error (possibly wrapped) to the taxonomy above.
// Errors not matching any sentinel map to StatusIOError, the most
// conservative generic failure.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrKeyNotInRange):
		return StatusKeyNotInRange
	case errors.Is(err, ErrIllegalAccess):
		return StatusIllegalAccess
	case errors.Is(err, ErrIOPermissionDenied):
		return StatusIOPermissionDenied
	case errors.Is(err, ErrTableNotSupport):
		return StatusTableNotSupport
	case errors.Is(err, ErrRPCTimeout):
		return StatusRPCTimeout
	case errors.Is(err, ErrTabletNodeIsBusy):
		return StatusTabletNodeIsBusy
	case errors.Is(err, ErrKeyNotExist):
		return StatusKeyNotExist
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrIOError):
		return StatusIOError
	default:
		return StatusIOError
	}
}
