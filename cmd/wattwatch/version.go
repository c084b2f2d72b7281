// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"

	"github.com/wattwatch/wattwatch/cmd/wattwatch/cli"
	"github.com/wattwatch/wattwatch/lib/version"
)

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			if len(args) > 0 {
				return usageError("version takes no arguments")
			}
			version.Fprint(stdout, "wattwatch")
			return nil
		},
	}
}
