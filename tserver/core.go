// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package tserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teratab/tabletserver/config"
	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/fmcache"
	"github.com/teratab/tabletserver/internal/base"
	"github.com/teratab/tabletserver/internal/cache"
	"github.com/teratab/tabletserver/pcache"
	"github.com/teratab/tabletserver/tablet"
	"github.com/teratab/tabletserver/tabletmgr"
	"github.com/teratab/tabletserver/vfs"
)

// Core is the Tablet Server Core of spec §3/§6 (component C10): the
// process-wide status machine, the tablet manager, the shared block/table
// caches, the thread pools, and the control/data RPC surface.
type Core struct {
	cfg    config.Config
	status statusBox
	sess   SessionID

	fs      vfs.FS
	baseDir string
	logger  base.Logger

	mgr        *tabletmgr.Manager
	blockCache *cache.Cache
	tableCache *cache.TableCache

	// dfsFS is the DFS façade (spec C1) every locality-group engine
	// actually reads/writes through: either fs directly, or fs wrapped by
	// whichever of the persistent block cache (C2) or flash mirror cache
	// (C3) config.PersistentCacheOn selects.
	dfsFS   vfs.FS
	pcache  *pcache.Cache
	fmcache *fmcache.Cache

	controlPool      *pool
	lightControlPool *pool
	readPool         *pool
	writePool        *pool
	scanPool         *pool
	compactPool      *pool

	metrics *Metrics

	bgErrors *bgErrorReporter
	timers   *timerSet
}

// Options bundles the dependencies Core needs beyond config.Config.
type Options struct {
	FS         vfs.FS
	BaseDir    string
	Logger     base.Logger
	Registerer prometheus.Registerer
}

// New constructs a Core in StatusNotInited; call Start to enter
// StatusIsRunning.
func New(cfg config.Config, opts Options) *Core {
	if opts.Logger == nil {
		opts.Logger = base.DefaultLogger
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	blockCache := cache.New(cfg.BlockCacheSize)
	c := &Core{
		cfg:        cfg,
		sess:       NewSessionID(),
		fs:         opts.FS,
		baseDir:    opts.BaseDir,
		logger:     opts.Logger,
		mgr:        tabletmgr.New(),
		blockCache: blockCache,
		tableCache: cache.NewTableCache(cfg.TableCacheSize).WithBlockCache(blockCache),
		metrics:    NewMetrics(opts.Registerer),
	}
	c.bgErrors = newBgErrorReporter(64 << 10)
	return c
}

// SessionID returns this process's coordinator session id.
func (c *Core) SessionID() SessionID { return c.sess }

// Status returns the server-wide status machine value.
func (c *Core) Status() Status { return c.status.load() }

// Start transitions NotInited -> IsIniting -> IsRunning: opens whichever
// read cache config.PersistentCacheOn selects in front of the DFS façade,
// spins up the thread pools at the sizes config.Config names, and starts
// the background timers (spec §6 "background timers").
func (c *Core) Start() error {
	c.status.store(StatusIsIniting)

	if err := c.openReadCache(); err != nil {
		c.status.store(StatusNotInited)
		return err
	}

	c.controlPool = newPool("control", c.cfg.ControlThreads, 64)
	c.lightControlPool = newPool("light-control", c.cfg.LightControlThreads, 256)
	c.readPool = newPool("read", c.cfg.ReadThreads, 1024)
	c.writePool = newPool("write", c.cfg.WriteThreads, 1024)
	c.scanPool = newPool("scan", c.cfg.ScanThreads, 256)
	c.compactPool = newPool("compact", c.cfg.CompactThreads, 64)

	c.timers = newTimerSet(c)
	c.timers.start()

	c.status.store(StatusIsRunning)
	return nil
}

// openReadCache selects and opens the caching layer to sit in front of
// c.fs: the persistent block cache (C2) when config.PersistentCacheOn is
// set, otherwise the flash mirror cache (C3). Either way c.dfsFS is the
// handle every tablet's engines end up opening their files through.
func (c *Core) openReadCache() error {
	if c.cfg.PersistentCacheOn {
		pc, err := pcache.Open(pcache.Options{
			Dir:         c.fs.PathJoin(c.baseDir, "_pcache"),
			FS:          c.fs,
			DataSetSize: c.cfg.PersistentDataSetSize,
			BlockSize:   c.cfg.PersistentBlockSize,
			Logger:      c.logger,
		})
		if err != nil {
			return err
		}
		c.pcache = pc
		c.dfsFS = pc.WrapFS(c.fs)
		return nil
	}

	fc, err := fmcache.Open(fmcache.Options{
		MirrorDir: c.fs.PathJoin(c.baseDir, "_mirror"),
		LocalFS:   c.fs,
		RemoteFS:  c.fs,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.fmcache = fc
	c.dfsFS = fc.WrapFS(c.fs)
	return nil
}

// Stop drains and stops every thread pool and background timer, and
// closes the read cache opened by Start.
func (c *Core) Stop() {
	c.timers.stop()
	for _, p := range []*pool{c.controlPool, c.lightControlPool, c.readPool, c.writePool, c.scanPool, c.compactPool} {
		p.Stop()
	}
	if c.pcache != nil {
		c.pcache.Close()
	}
	if c.fmcache != nil {
		c.fmcache.Close()
	}
	c.status.store(StatusNotInited)
}

// checkSession rejects a control call carrying a stale/mismatched session
// id (spec §3 "session id"), returning kIllegalAccess.
func (c *Core) checkSession(sess SessionID) error {
	if sess != c.sess {
		return base.ErrIllegalAccess
	}
	return nil
}

func (c *Core) tabletOptions() tablet.Options {
	return tablet.Options{
		FS:             c.dfsFS,
		BaseDir:        c.baseDir,
		BlockCache:     c.blockCache,
		TableCache:     c.tableCache,
		Logger:         c.logger,
		EngineDefaults: c.engineDefaults(),
	}
}

func (c *Core) engineDefaults() engine.Options {
	return engine.Options{
		IgnoreCorruptionInOpen:       c.cfg.IgnoreCorruptionInOpen,
		IgnoreCorruptionInCompaction: c.cfg.IgnoreCorruptionInCompaction,
		// Route every locality group's background compaction through the
		// server-wide compaction pool (spec §6 "thread pools ... compaction")
		// instead of an unbounded bare goroutine per engine.
		CompactionScheduler: func(fn func()) { go c.compactPool.Run(fn) },
	}
}

// measure times fn, recording it against h under op, and returns fn's error.
func measure(h *opHistogram, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	h.observe(op, time.Since(start))
	return err
}
