// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/teratab/tabletserver/config"
	"github.com/teratab/tabletserver/tserver"
	"github.com/teratab/tabletserver/vfs"
)

func newServeCommand() *cobra.Command {
	cfg := config.Default()
	var baseDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the tablet server core in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg, baseDir)
		},
	}
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfg.FlagSet(fs)
	fs.StringVar(&baseDir, "base-dir", "./data", "root directory for tablet/locality-group data")
	cmd.Flags().AddFlagSet(fs)
	return cmd
}

func runServe(cfg config.Config, baseDir string) error {
	if cfg.CleanCachePathsOnStart {
		// Only the cache directories Core.Start opens under baseDir; tablet
		// data stays.
		for _, dir := range []string{"_pcache", "_mirror"} {
			if err := os.RemoveAll(vfs.Default.PathJoin(baseDir, dir)); err != nil {
				return fmt.Errorf("clean-cache-paths-on-start: %w", err)
			}
		}
	}

	core := tserver.New(cfg, tserver.Options{
		FS:      vfs.Default,
		BaseDir: baseDir,
	})
	if err := core.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	fmt.Printf("tabletserver: session %s listening on port %d\n", core.SessionID(), cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	core.Stop()
	return nil
}
