// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/wal"
)

// replayWALs implements spec §4.1 Recovery step 3: replay each .log file
// with number >= vs.LogNumber() into a recovery memtable in sequence order,
// flushing it to an SSTable if it grows past the write-buffer threshold, and
// commit a final VersionEdit recording the updated LastSequence/LogNumber.
func (e *Engine) replayWALs() error {
	nums, err := e.logFileNumbers()
	if err != nil {
		return err
	}

	e.mem = e.newMemTable()
	lastSeq := e.vs.LastSequence()

	for _, num := range nums {
		if num < e.vs.LogNumber() {
			continue
		}
		seq, err := e.replayOneWAL(num)
		if err != nil {
			if !e.opts.IgnoreCorruptionInOpen || !base.IsCorruption(err) {
				return err
			}
		}
		if seq > lastSeq {
			lastSeq = seq
		}
		if e.mem.ApproximateMemoryUsage() >= e.opts.MemTableSize {
			if err := e.flushRecoveredMemTable(); err != nil {
				return err
			}
		}
	}

	e.vs.SetLastSequence(lastSeq)
	if e.mem.ApproximateMemoryUsage() > 0 {
		if err := e.flushRecoveredMemTable(); err != nil {
			return err
		}
		e.mem = e.newMemTable()
	}

	lastNum := e.vs.LogNumber()
	if len(nums) > 0 && nums[len(nums)-1] > lastNum {
		lastNum = nums[len(nums)-1]
	}
	return e.vs.LogAndApply(&manifest.VersionEdit{
		HasLastSeq:   true,
		LastSequence: lastSeq,
		HasLogNumber: true,
		LogNumber:    lastNum,
	})
}

// replayOneWAL reads num's .log file record by record, applying each decoded
// batch to e.mem, and returns the highest sequence number observed.
func (e *Engine) replayOneWAL(num uint64) (base.SeqNum, error) {
	f, err := e.opts.FS.Open(e.walPath(num))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, fi.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, err
	}

	r := wal.NewReaderFromBytes(buf)
	var maxSeq base.SeqNum
	for {
		rec, err := r.Next()
		if err != nil {
			if wal.IsEOF(err) {
				break
			}
			return maxSeq, err
		}
		seq, batch, err := decodeBatch(rec)
		if err != nil {
			return maxSeq, err
		}
		for i, rr := range batch {
			if err := e.mem.Add(seq+base.SeqNum(i), rr.Kind, rr.Key, rr.Value); err != nil {
				return maxSeq, err
			}
		}
		end := seq + base.SeqNum(len(batch)) - 1
		if end > maxSeq {
			maxSeq = end
		}
	}
	return maxSeq, nil
}

func (e *Engine) flushRecoveredMemTable() error {
	fileNum := e.vs.NextFileNumber()
	meta, err := e.writeSSTableFromIterator(fileNum, e.mem.NewIterator())
	if err != nil {
		return err
	}
	if meta.Size == 0 {
		return nil
	}
	level := e.pickFlushLevel(meta)
	edit := &manifest.VersionEdit{
		NewFiles: []manifest.NewFileEntry{{Level: level, Meta: meta}},
	}
	if err := e.vs.LogAndApply(edit); err != nil {
		return err
	}
	e.mem = e.newMemTable()
	return nil
}

// logFileNumbers returns every *.log file number present in the engine
// directory, ascending.
func (e *Engine) logFileNumbers() ([]uint64, error) {
	entries, err := e.opts.FS.List(e.opts.Dir)
	if err != nil {
		return nil, err
	}
	var nums []uint64
	for _, name := range entries {
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}
