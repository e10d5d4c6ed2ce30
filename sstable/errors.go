// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import "github.com/teratab/tabletserver/internal/base"

// errCorruption is the local alias for the shared corruption sentinel, kept
// unexported so errors.Is callers outside this package always go through
// base.IsCorruption rather than reaching into sstable internals.
var errCorruption = base.ErrCorruption
