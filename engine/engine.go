// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/manifest"
	"github.com/teratab/tabletserver/internal/memtable"
	"github.com/teratab/tabletserver/vfs"
	"github.com/teratab/tabletserver/wal"
)

// Engine is one locality group's LSM store (spec §4.1, component C7).
type Engine struct {
	opts *Options

	vs *manifest.VersionSet

	// mu protects everything below: the mutable/immutable memtable pair,
	// the snapshots multiset, the rollback map, and bgError. Spec §5: "Per-
	// engine mutex protects the version set, snapshots multiset, pending-
	// outputs set, writer queue, and the is-writing-memtable condition."
	mu sync.Mutex

	mem         memtable.MemTable
	imm         memtable.MemTable
	immFlushing bool
	flushDone   *sync.Cond

	walFile vfs.File
	wal     *wal.Writer
	walNum  uint64

	snapshots []base.SeqNum // sorted ascending multiset
	rollbacks map[base.SeqNum]base.SeqNum

	bgError        error
	forceUnload    bool
	compactBackoff time.Duration
	compacting     bool
	manualQueue    []*manualCompaction

	// queueMu/queueHead/queueTail implement the single-writer-queue
	// discipline of spec §4.1 step 5.
	queueMu   sync.Mutex
	queueHead *writerNode
	queueTail *writerNode

	pendingOutputs map[uint64]bool

	closed int32
}

type writerNode struct {
	batch Batch
	seq   base.SeqNum
	sync  bool
	err   error
	done  chan struct{}
	next  *writerNode
}

// Open opens (or creates) an engine rooted at opts.Dir.
func Open(opts *Options) (*Engine, error) {
	opts = opts.withDefaults()
	e := &Engine{
		opts:           opts,
		rollbacks:      make(map[base.SeqNum]base.SeqNum),
		pendingOutputs: make(map[uint64]bool),
	}
	e.flushDone = sync.NewCond(&e.mu)

	e.vs = manifest.NewVersionSet(manifest.VersionSetOptions{FS: opts.FS, Dir: opts.Dir, Comparator: "bytewise"})

	exists, err := currentExists(opts.FS, opts.Dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := opts.FS.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, err
		}
		if err := e.vs.Create(); err != nil {
			return nil, err
		}
	} else {
		if err := e.vs.Recover(); err != nil {
			if !opts.IgnoreCorruptionInOpen || !base.IsCorruption(err) {
				return nil, err
			}
		}
		if err := e.replayWALs(); err != nil {
			return nil, err
		}
	}

	if e.mem == nil {
		e.mem = e.newMemTable()
	}
	if err := e.rollWAL(); err != nil {
		return nil, err
	}
	return e, nil
}

func currentExists(fs vfs.FS, dir string) (bool, error) {
	entries, err := fs.List(dir)
	if err != nil {
		return false, nil
	}
	for _, n := range entries {
		if n == "CURRENT" {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) newMemTable() memtable.MemTable {
	if e.opts.ShardedMemTableShards > 0 {
		return memtable.NewSharded(e.opts.Comparator, e.opts.ShardedMemTableShards)
	}
	return memtable.NewSingle(e.opts.Comparator)
}

func (e *Engine) walPath(num uint64) string {
	return e.opts.FS.PathJoin(e.opts.Dir, fmt.Sprintf("%06d.log", num))
}

func (e *Engine) sstPath(num uint64) string {
	return e.opts.FS.PathJoin(e.opts.Dir, fmt.Sprintf("%06d.sst", num))
}

func (e *Engine) rollWAL() error {
	num := e.vs.NextFileNumber()
	f, err := e.opts.FS.Create(e.walPath(num))
	if err != nil {
		return err
	}
	e.walFile = f
	e.wal = wal.NewWriter(f, wal.WriterOptions{
		SyncInterval:  e.opts.WALSyncOptions.Interval,
		SyncThreshold: e.opts.WALSyncOptions.Threshold,
	})
	e.walNum = num
	return e.vs.LogAndApply(&manifest.VersionEdit{HasLogNumber: true, LogNumber: num})
}

// WriteOptions controls per-write durability (spec §4.1 step 2 "fsync
// policy governed by write-options").
type WriteOptions struct {
	Sync bool
}

// Write applies batch atomically: every record gets a consecutive sequence
// number, is WAL-appended, then inserted into the mutable memtable, all
// under the single-writer-queue discipline (spec §4.1 steps 1-5).
func (e *Engine) Write(batch Batch, wopts WriteOptions) error {
	if len(batch) == 0 {
		return nil
	}
	if err := e.checkBgError(); err != nil {
		return err
	}
	e.applyWriteStall()

	n := &writerNode{batch: batch, sync: wopts.Sync, done: make(chan struct{})}

	e.queueMu.Lock()
	wasEmpty := e.queueHead == nil
	if wasEmpty {
		e.queueHead = n
	} else {
		e.queueTail.next = n
	}
	e.queueTail = n
	e.queueMu.Unlock()

	if !wasEmpty {
		<-n.done
		return n.err
	}

	cur := n
	for {
		cur.err = e.applyWriterNode(cur)
		close(cur.done)

		e.queueMu.Lock()
		if cur.next == nil {
			e.queueHead = nil
			e.queueTail = nil
			e.queueMu.Unlock()
			break
		}
		next := cur.next
		e.queueHead = next
		e.queueMu.Unlock()
		cur = next
	}
	return n.err
}

func (e *Engine) applyWriterNode(n *writerNode) error {
	e.mu.Lock()
	seq := e.vs.LastSequence() + 1
	e.vs.SetLastSequence(seq + base.SeqNum(len(n.batch)) - 1)
	e.mu.Unlock()
	n.seq = seq

	payload := encodeBatch(seq, n.batch)
	if err := e.wal.AddRecord(payload); err != nil {
		e.setBgError(err)
		return err
	}
	if n.sync {
		if err := e.wal.Sync(); err != nil {
			e.setBgError(err)
			return err
		}
	}

	e.mu.Lock()
	for i, r := range n.batch {
		if err := e.mem.Add(seq+base.SeqNum(i), r.Kind, r.Key, r.Value); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	needFlush := e.mem.ApproximateMemoryUsage() >= e.opts.MemTableSize
	e.mu.Unlock()

	if needFlush {
		e.maybeTriggerFlush()
	}
	return nil
}

// applyWriteStall implements spec §4.1 "Stall/slowdown": L0 file count >=
// slowdown_trigger delays the write ~1ms (once); >= stop_trigger blocks
// until compaction drains L0.
func (e *Engine) applyWriteStall() {
	for {
		e.mu.Lock()
		n0 := e.vs.Current().NumFiles(0)
		if n0 < e.opts.L0StopTrigger {
			if n0 >= e.opts.L0SlowdownTrigger {
				e.mu.Unlock()
				time.Sleep(time.Millisecond)
				return
			}
			e.mu.Unlock()
			return
		}
		e.flushDone.Wait()
		e.mu.Unlock()
	}
}

func (e *Engine) checkBgError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bgError
}

func (e *Engine) setBgError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bgError == nil {
		e.bgError = err
	}
	if base.StatusFromError(err) == base.StatusIOPermissionDenied {
		e.forceUnload = true
	}
}

// ForceUnload reports whether the engine has declared itself unrecoverable
// (spec §4.1 "Failure semantics": I/O-permission-denied marks force-unload).
func (e *Engine) ForceUnload() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forceUnload
}

// Close flushes no pending state (callers should Flush explicitly first if
// durability of the mutable memtable's unflushed data matters beyond the
// WAL) and releases file handles.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.walFile != nil {
		e.walFile.Close()
	}
	return e.vs.Close()
}
