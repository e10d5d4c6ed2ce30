// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/teratab/tabletserver/engine"
	"github.com/teratab/tabletserver/vfs"
)

// newQueryCommand builds the offline diagnostic half of spec §6's Query
// control operation: since the RPC transport and coordinator are external
// collaborators out of this spec's scope (spec §1), this operates directly
// on one locality group's on-disk engine directory, in the spirit of the
// teacher's own "pebble lsm"/"pebble table" debug tools that read DB state
// without a running server.
func newQueryCommand() *cobra.Command {
	var dir string
	var graph bool

	cmd := &cobra.Command{
		Use:   "query",
		Short: "print per-level metrics for one locality-group engine directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(dir, graph)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "locality-group engine directory")
	cmd.Flags().BoolVar(&graph, "graph", false, "render level sizes as an ASCII sparkline")
	cmd.MarkFlagRequired("dir")
	return cmd
}

func runQuery(dir string, graph bool) error {
	e, err := engine.Open(&engine.Options{FS: vfs.Default, Dir: dir})
	if err != nil {
		return err
	}
	defer e.Close()

	levels := e.LevelMetrics()
	if graph {
		sizes := make([]float64, len(levels))
		for i, lm := range levels {
			sizes[i] = float64(lm.Size)
		}
		fmt.Println(asciigraph.Plot(sizes, asciigraph.Height(10), asciigraph.Caption("level size (bytes) by level")))
		return nil
	}
	for i, lm := range levels {
		fmt.Printf("L%d: %d files, %d bytes\n", i, lm.NumFiles, lm.Size)
	}
	return nil
}
