// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/wattwatch/wattwatch/cmd/wattwatch/cli"
	"github.com/wattwatch/wattwatch/ingest"
	"github.com/wattwatch/wattwatch/lib/config"
	"github.com/wattwatch/wattwatch/lib/service"
)

type statusOptions struct {
	cli.JSONOutput
	socket  string
	timeout time.Duration
}

func statusCommand(stdout io.Writer) *cli.Command {
	var options statusOptions
	return &cli.Command{
		Name:    "status",
		Summary: "Print the counters of a running ingest daemon",
		Description: `Ask a running wattwatch-ingest for its pipeline counters over the
status socket.`,
		Usage: "wattwatch status [--socket PATH] [--json]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&options.socket, "socket", config.Default().Service.StatusSocket, "daemon status socket")
			flagSet.DurationVar(&options.timeout, "timeout", 5*time.Second, "how long to wait for the daemon")
			options.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return usageError("status takes no arguments (got %q)", args[0])
			}
			ctx, cancel := context.WithTimeout(context.Background(), options.timeout)
			defer cancel()
			return runStatus(ctx, options, stdout)
		},
	}
}

func runStatus(ctx context.Context, options statusOptions, stdout io.Writer) error {
	var stats ingest.Stats
	if err := service.NewClient(options.socket).Call(ctx, "status", nil, &stats); err != nil {
		return fmt.Errorf("querying %s: %w", options.socket, err)
	}
	if done, err := options.EmitJSON(stdout, stats); done {
		return err
	}

	table := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(table, "uptime\t%s\n", (time.Duration(stats.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(table, "received\t%d\n", stats.Received)
	fmt.Fprintf(table, "done\t%d\n", stats.Done)
	fmt.Fprintf(table, "stored_only\t%d\n", stats.StoredOnly)
	fmt.Fprintf(table, "dropped\t%d\t(backpressure %d)\n", stats.Dropped, stats.Backpressure)
	fmt.Fprintf(table, "in_flight\t%d\n", stats.InFlight)
	fmt.Fprintf(table, "scoring_in_flight\t%d\n", stats.ScoringInFlight)
	return table.Flush()
}
