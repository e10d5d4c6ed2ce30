// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// magic identifies a valid footer; checked on every open so a truncated or
// non-sstable file is rejected immediately (spec §8 property 3 "for any
// file listed in any Version after recovery, the file exists").
const magic = uint64(0xdb4775248b80fb57)

// footerLen is fixed size: two block handles (each up to 20 bytes when
// varint-encoded at max) padded to a constant size, plus an 8-byte magic.
const footerLen = 53

// footer is the last fixed-size record of every sstable file, holding the
// two handles a reader needs before it can interpret anything else: the
// meta-index (Bloom filters) and the top-level index block (spec §4.4).
type footer struct {
	metaIndexHandle BlockHandle
	indexHandle     BlockHandle
}

func (f footer) encode() []byte {
	buf := make([]byte, 0, footerLen)
	buf = f.metaIndexHandle.encode(buf)
	buf = f.indexHandle.encode(buf)
	for len(buf) < footerLen-8 {
		buf = append(buf, 0)
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], magic)
	buf = append(buf, tmp[:]...)
	return buf[:footerLen]
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != footerLen {
		return footer{}, errors.Mark(errors.New("sstable: invalid footer length"), errCorruption)
	}
	if got := binary.LittleEndian.Uint64(buf[footerLen-8:]); got != magic {
		return footer{}, errors.Mark(errors.New("sstable: bad magic number"), errCorruption)
	}
	mi, rest, err := decodeBlockHandle(buf)
	if err != nil {
		return footer{}, err
	}
	idx, _, err := decodeBlockHandle(rest)
	if err != nil {
		return footer{}, err
	}
	return footer{metaIndexHandle: mi, indexHandle: idx}, nil
}
