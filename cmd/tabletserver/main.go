// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Command tabletserver runs a tablet server core in the foreground and offers
// offline helpers (query, cmdctrl) that do not contact a running server, built with
// github.com/spf13/cobra the way the teacher's own cmd/pebble tool is.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "tabletserver",
		Short: "Bigtable-style tablet server core",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newQueryCommand())
	root.AddCommand(newCmdCtrlCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
