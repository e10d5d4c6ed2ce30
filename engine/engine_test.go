// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(&Options{FS: vfs.NewMemFS(), Dir: "/lg"})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func putBatch(key, value string) Batch {
	return Batch{{Kind: base.InternalKeyKindValue, Key: []byte(key), Value: []byte(value)}}
}

func deleteBatch(key string) Batch {
	return Batch{{Kind: base.InternalKeyKindDelete, Key: []byte(key)}}
}

func TestOpenCreatesFreshEngine(t *testing.T) {
	e := openTestEngine(t)
	require.NotNil(t, e.mem)
	require.False(t, e.ForceUnload())
}

func TestWriteThenGetVisible(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))

	val, err := e.Get([]byte("row1"), base.MaxSeqNum)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestGetMissingKeyReturnsErrKeyNotExist(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Get([]byte("nope"), base.MaxSeqNum)
	require.ErrorIs(t, err, base.ErrKeyNotExist)
}

func TestDeleteHidesOlderValue(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))
	require.NoError(t, e.Write(deleteBatch("row1"), WriteOptions{Sync: true}))

	_, err := e.Get([]byte("row1"), base.MaxSeqNum)
	require.ErrorIs(t, err, base.ErrKeyNotExist)
}

func TestGetRespectsSnapshot(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))
	e.mu.Lock()
	snapAfterV1 := e.vs.LastSequence()
	e.mu.Unlock()

	require.NoError(t, e.Write(putBatch("row1", "v2"), WriteOptions{Sync: true}))

	val, err := e.Get([]byte("row1"), snapAfterV1)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)

	val, err = e.Get([]byte("row1"), base.MaxSeqNum)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), val)
}

func TestRollbackHidesWindowOnGet(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))
	e.mu.Lock()
	seqV1 := e.vs.LastSequence()
	e.mu.Unlock()

	require.NoError(t, e.Write(putBatch("row1", "v2"), WriteOptions{Sync: true}))
	e.mu.Lock()
	seqV2 := e.vs.LastSequence()
	e.mu.Unlock()

	// Rollback(seqV1, seqV2) hides every sequence in (seqV1, seqV2], which
	// is exactly where v2 landed, so reads should fall back to v1 even at
	// a snapshot that would otherwise see v2.
	e.Rollback(seqV1, seqV2)

	val, err := e.Get([]byte("row1"), base.MaxSeqNum)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)

	val, err = e.Get([]byte("row1"), seqV2)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)

	// A read at exactly seqV1 never saw v2 in the first place; the rollback
	// window is irrelevant to it.
	val, err = e.Get([]byte("row1"), seqV1)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestRollbackDoesNotHideUnrelatedSequences(t *testing.T) {
	e := openTestEngine(t)

	// Sequence 1 goes to an unrelated row, so v1 lands at sequence 2.
	require.NoError(t, e.Write(putBatch("row0", "v0"), WriteOptions{Sync: true}))
	require.NoError(t, e.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))

	// A rollback window that ends before v1's sequence must not hide it.
	e.Rollback(0, 1)

	val, err := e.Get([]byte("row1"), base.MaxSeqNum)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestScanIteratorRespectsRollback(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))
	e.mu.Lock()
	seqV1 := e.vs.LastSequence()
	e.mu.Unlock()

	require.NoError(t, e.Write(putBatch("row1", "v2"), WriteOptions{Sync: true}))
	e.mu.Lock()
	seqV2 := e.vs.LastSequence()
	e.mu.Unlock()

	e.Rollback(seqV1, seqV2)

	it, err := e.NewScanIterator(nil, nil, base.MaxSeqNum)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Valid())
	require.Equal(t, []byte("row1"), it.Key())
	require.Equal(t, []byte("v1"), it.Value())
	it.Next()
	require.False(t, it.Valid())
}

func TestWriteEmptyBatchIsNoop(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Write(nil, WriteOptions{}))
}

func TestScanIteratorWalksInOrder(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row3", "c"), WriteOptions{}))
	require.NoError(t, e.Write(putBatch("row1", "a"), WriteOptions{}))
	require.NoError(t, e.Write(putBatch("row2", "b"), WriteOptions{}))

	it, err := e.NewScanIterator(nil, nil, base.MaxSeqNum)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	var values []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
		it.Next()
	}
	require.NoError(t, it.Error())
	require.Equal(t, []string{"row1", "row2", "row3"}, keys)
	require.Equal(t, []string{"a", "b", "c"}, values)
}

func TestScanIteratorRespectsEndBound(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "a"), WriteOptions{}))
	require.NoError(t, e.Write(putBatch("row2", "b"), WriteOptions{}))
	require.NoError(t, e.Write(putBatch("row3", "c"), WriteOptions{}))

	it, err := e.NewScanIterator([]byte("row1"), []byte("row3"), base.MaxSeqNum)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		it.Next()
	}
	require.Equal(t, []string{"row1", "row2"}, keys)
}

func TestScanIteratorSkipsDeletedKeys(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Write(putBatch("row1", "a"), WriteOptions{}))
	require.NoError(t, e.Write(putBatch("row2", "b"), WriteOptions{}))
	require.NoError(t, e.Write(deleteBatch("row1"), WriteOptions{}))

	it, err := e.NewScanIterator(nil, nil, base.MaxSeqNum)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		it.Next()
	}
	require.Equal(t, []string{"row2"}, keys)
}

func TestCloseIsIdempotent(t *testing.T) {
	e, err := Open(&Options{FS: vfs.NewMemFS(), Dir: "/lg"})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestReopenRecoversWrittenData(t *testing.T) {
	fs := vfs.NewMemFS()

	e1, err := Open(&Options{FS: fs, Dir: "/lg"})
	require.NoError(t, err)
	require.NoError(t, e1.Write(putBatch("row1", "v1"), WriteOptions{Sync: true}))
	require.NoError(t, e1.Close())

	e2, err := Open(&Options{FS: fs, Dir: "/lg"})
	require.NoError(t, err)
	defer e2.Close()

	val, err := e2.Get([]byte("row1"), base.MaxSeqNum)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}
