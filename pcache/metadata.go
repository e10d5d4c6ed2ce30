// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package pcache

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/vfs"
)

// Metadata key prefixes, per spec §6 "Persistent-cache metadata": FID# is
// the monotonic file-id counter, FNAME#<path> maps a remote SSTable path to
// its 64-bit file id, DS#<sid><slot> records one data-set slot's contents
// for crash recovery of the in-memory data-set index.
const (
	keyFIDCounter = "FID#"
	prefixFName   = "FNAME#"
	prefixDS      = "DS#"
)

func fnameKey(path string) []byte {
	return append([]byte(prefixFName), path...)
}

func dsKey(sid uint32, slot uint32) []byte {
	buf := make([]byte, len(prefixDS)+8)
	copy(buf, prefixDS)
	binary.BigEndian.PutUint32(buf[len(prefixDS):], sid)
	binary.BigEndian.PutUint32(buf[len(prefixDS)+4:], slot)
	return buf
}

func encodeDSValue(fid uint64, blockIdx uint32, state uint8) []byte {
	buf := make([]byte, 8+4+1)
	binary.LittleEndian.PutUint64(buf[0:8], fid)
	binary.LittleEndian.PutUint32(buf[8:12], blockIdx)
	buf[12] = state
	return buf
}

func decodeDSValue(buf []byte) (fid uint64, blockIdx uint32, state uint8, ok bool) {
	if len(buf) != 13 {
		return 0, 0, 0, false
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint32(buf[8:12]), buf[12], true
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(buf []byte) (uint64, bool) {
	if len(buf) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf), true
}

// metaStore wraps an embedded engine.Engine as the cache's metadata LSM,
// per spec §4.5 "A small embedded LSM engine (C7 reused) stores two key
// families".
type metaStore struct {
	eng *engine.Engine
}

func openMetaStore(fs vfs.FS, dir string) (*metaStore, error) {
	opts := &engine.Options{FS: fs, Dir: fs.PathJoin(dir, "meta")}
	eng, err := engine.Open(opts)
	if err != nil {
		return nil, err
	}
	return &metaStore{eng: eng}, nil
}

func (m *metaStore) get(key []byte) ([]byte, bool, error) {
	v, err := m.eng.Get(key, base.MaxSeqNum)
	if err != nil {
		if errors.Is(err, base.ErrKeyNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (m *metaStore) put(key, value []byte) error {
	return m.eng.Write(engine.Batch{{Kind: base.InternalKeyKindValue, Key: key, Value: value}}, engine.WriteOptions{Sync: true})
}

func (m *metaStore) delete(key []byte) error {
	return m.eng.Write(engine.Batch{{Kind: base.InternalKeyKindDelete, Key: key}}, engine.WriteOptions{Sync: false})
}

// scanPrefix invokes fn for every key with the given prefix, in ascending
// order, until fn returns false or the prefix is exhausted.
func (m *metaStore) scanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	end := prefixUpperBound(prefix)
	it, err := m.eng.NewScanIterator(prefix, end, base.MaxSeqNum)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Valid() {
		if !fn(it.Key(), it.Value()) {
			break
		}
		it.Next()
	}
	return it.Error()
}

// prefixUpperBound returns the smallest key strictly greater than every key
// with the given prefix, by incrementing the last non-0xff byte.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // all 0xff: unbounded
}

func (m *metaStore) close() error { return m.eng.Close() }

// allocateFileID grants a fresh file id for path, persisting both the FID#
// counter advance (granted in batches of batchNum, spec §4.5) and the
// FNAME#<path> mapping in one batch so a crash between the two can never
// leave an orphaned counter advance without a usable mapping, or vice
// versa.
func (c *Cache) allocateFileID(path string) (uint64, error) {
	c.fidMu.Lock()
	defer c.fidMu.Unlock()

	next, remaining := c.fidNext, c.fidRemaining
	var batch engine.Batch
	if remaining == 0 {
		cur, ok, err := c.meta.get([]byte(keyFIDCounter))
		if err != nil {
			return 0, err
		}
		var start uint64
		if ok {
			start, _ = decodeUint64(cur)
		}
		batch = append(batch, engine.Record{Kind: base.InternalKeyKindValue,
			Key: []byte(keyFIDCounter), Value: encodeUint64(start + c.opts.FIDBatchNum)})
		next, remaining = start, c.opts.FIDBatchNum
	}

	fid := next
	batch = append(batch, engine.Record{Kind: base.InternalKeyKindValue,
		Key: fnameKey(path), Value: encodeUint64(fid)})
	if err := c.meta.eng.Write(batch, engine.WriteOptions{Sync: true}); err != nil {
		return 0, err
	}
	c.fidNext, c.fidRemaining = next+1, remaining-1
	return fid, nil
}

// lookupFileID returns the file id already granted to path, if any.
func (c *Cache) lookupFileID(path string) (uint64, bool, error) {
	v, ok, err := c.meta.get(fnameKey(path))
	if err != nil || !ok {
		return 0, false, err
	}
	fid, ok := decodeUint64(v)
	return fid, ok, nil
}
