// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import "github.com/cespare/xxhash/v2"

// bloomBitsPerKey is tuned for roughly a 1% false-positive rate at the
// standard 10 bits/key, xxhash double-hashing scheme used throughout the
// LevelDB/pebble lineage.
const bloomBitsPerKey = 10

// BloomFilterWriter accumulates keys for one data block's filter, emitted
// into the meta-index per spec §4.4 ("a meta-index block (Bloom filter per
// data block)").
type BloomFilterWriter struct {
	keys [][]byte
}

func (b *BloomFilterWriter) Add(key []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	b.keys = append(b.keys, k)
}

// Finish builds the filter bitmap for the accumulated keys.
func (b *BloomFilterWriter) Finish() []byte {
	return NewBloomFilter(b.keys, bloomBitsPerKey)
}

// NewBloomFilter builds a bitmap sized for len(keys) entries at bitsPerKey
// density, double-hashing with xxhash the way RocksDB/pebble derive k
// independent probes from two hash values (Kirsch-Mitzenmacher).
func NewBloomFilter(keys [][]byte, bitsPerKey int) []byte {
	nBits := len(keys) * bitsPerKey
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	k := uint8(float64(bitsPerKey) * 0.69) // ln(2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	buf := make([]byte, nBytes+1)
	buf[nBytes] = k

	for _, key := range keys {
		h := bloomHash(key)
		delta := h>>17 | h<<15
		for i := uint8(0); i < k; i++ {
			bitpos := h % uint32(nBits)
			buf[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}
	return buf
}

// BloomMayContain reports whether key might be in the filter; false
// negatives never occur, false positives occur at roughly the configured
// rate.
func BloomMayContain(filter, key []byte) bool {
	if len(filter) < 1 {
		return true
	}
	n := len(filter) - 1
	k := filter[n]
	if k > 30 {
		// Reserved encoding; treat as "definitely contains" for forward
		// compatibility (matches LevelDB's own guard).
		return true
	}
	nBits := uint32(n * 8)
	h := bloomHash(key)
	delta := h>>17 | h<<15
	for i := uint8(0); i < k; i++ {
		bitpos := h % nBits
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

func bloomHash(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}
