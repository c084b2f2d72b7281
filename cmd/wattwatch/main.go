// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wattwatch/wattwatch/cmd/wattwatch/cli"
	"github.com/wattwatch/wattwatch/lib/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		// Commands that already printed their answer return an
		// ExitError; don't add an "error:" line for those.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	return root(stdout, stderr).Execute(args)
}

func root(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "wattwatch",
		Description: "Operator tool for the wattwatch electrical telemetry pipeline.",
		HelpOutput:  stderr,
		Subcommands: []*cli.Command{
			statusCommand(stdout),
			replayCommand(stdout, stderr),
			scoreCommand(stdout, stderr),
			versionCommand(stdout),
		},
		Examples: []cli.Example{
			{
				Description: "Show the counters of the local ingest daemon",
				Command:     "wattwatch status",
			},
			{
				Description: "Check a fixture against a staging gateway",
				Command:     "wattwatch replay --config staging.yaml fixtures/burst.jsonc.zst",
			},
		},
	}
}

// loadConfig reads path, or the file named by WATTWATCH_CONFIG when
// path is empty, and validates it.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{cli.ErrUsage}, args...)...)
}
