// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tabletmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/tablet"
)

// fakeTablet builds a *tablet.Tablet carrying only the Identity fields the
// manager itself inspects (KeyStart/KeyEnd/TableName/Overlaps/InRange); it
// never touches disk so Ref/DecRef/Unload are not exercised here.
func fakeTablet(table string, start, end []byte) *tablet.Tablet {
	return &tablet.Tablet{
		Identity: tablet.Identity{TableName: table, KeyStart: start, KeyEnd: end},
	}
}

func TestManagerAddAndGetTablet(t *testing.T) {
	m := New()
	a := fakeTablet("t", []byte("a"), []byte("m"))
	b := fakeTablet("t", []byte("m"), []byte("z"))

	require.NoError(t, m.Add(a))
	require.NoError(t, m.Add(b))
	require.Equal(t, 2, m.Count())

	got, err := m.GetTablet("t", []byte("c"))
	require.NoError(t, err)
	require.Same(t, a, got)
	got.DecRef()

	got, err = m.GetTablet("t", []byte("x"))
	require.NoError(t, err)
	require.Same(t, b, got)
	got.DecRef()
}

func TestManagerGetTabletNotFound(t *testing.T) {
	m := New()
	_, err := m.GetTablet("missing", []byte("a"))
	require.ErrorIs(t, err, base.ErrKeyNotInRange)

	require.NoError(t, m.Add(fakeTablet("t", []byte("b"), []byte("d"))))
	_, err = m.GetTablet("t", []byte("a"))
	require.ErrorIs(t, err, base.ErrKeyNotInRange)
	_, err = m.GetTablet("t", []byte("d"))
	require.ErrorIs(t, err, base.ErrKeyNotInRange)
}

func TestManagerAddRejectsOverlap(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(fakeTablet("t", []byte("a"), []byte("m"))))

	err := m.Add(fakeTablet("t", []byte("f"), []byte("z")))
	require.ErrorIs(t, err, base.ErrIllegalAccess)

	err = m.Add(fakeTablet("t", []byte("m"), []byte("z")))
	require.NoError(t, err)
}

func TestManagerRemove(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(fakeTablet("t", []byte("a"), []byte("m"))))
	m.Remove("t", []byte("a"))
	require.Equal(t, 0, m.Count())

	_, err := m.GetTablet("t", []byte("b"))
	require.ErrorIs(t, err, base.ErrKeyNotInRange)
}

func TestManagerForEach(t *testing.T) {
	m := New()
	require.NoError(t, m.Add(fakeTablet("t1", []byte("a"), []byte("m"))))
	require.NoError(t, m.Add(fakeTablet("t2", []byte("a"), nil)))

	seen := 0
	m.ForEach(func(tb *tablet.Tablet) { seen++ })
	require.Equal(t, 2, seen)
}
