// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

//go:build !windows

package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// flock takes an exclusive, non-blocking advisory lock on f, used for the
// persistent cache's __init_load_filelock new-db transaction marker (spec
// §4.1, §9 open question); the engine takes no directory lock.
func flock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
