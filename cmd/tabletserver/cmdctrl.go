// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teratab/tabletserver/config"
)

// newCmdCtrlCommand builds spec §6's CmdCtrl("reload config") entrypoint.
// Since the RPC transport to a running server is out of this spec's scope
// (spec §1), this only validates that args parse as a legal flag file,
// the same check a running Core's CmdCtrl performs before swapping its
// config in place.
func newCmdCtrlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "cmdctrl [flags]",
		Short:              "validate a flag-file reload (reload config)",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmdCtrlReload(args)
		},
	}
	return cmd
}

func runCmdCtrlReload(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: port=%d read-threads=%d compact-threads=%d\n",
		cfg.Port, cfg.ReadThreads, cfg.CompactThreads)
	return nil
}
