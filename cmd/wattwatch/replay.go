// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/wattwatch/wattwatch/cmd/wattwatch/cli"
	"github.com/wattwatch/wattwatch/ingest"
	"github.com/wattwatch/wattwatch/lib/replay"
	"github.com/wattwatch/wattwatch/lib/service"
	"github.com/wattwatch/wattwatch/transport"
)

type replayOptions struct {
	cli.JSONOutput
	configPath string
	interval   time.Duration
	strict     bool
}

// outcomeCount is one row of the replay summary.
type outcomeCount struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Count  int    `json:"count"`
}

type replaySummary struct {
	Messages  int            `json:"messages"`
	Unmatched int            `json:"unmatched"`
	Outcomes  []outcomeCount `json:"outcomes"`
}

// dropped is the number of messages that ended Dropped.
func (s replaySummary) dropped() int {
	total := 0
	for _, row := range s.Outcomes {
		if row.State == ingest.StateDropped.String() {
			total += row.Count
		}
	}
	return total
}

func replayCommand(stdout, stderr io.Writer) *cli.Command {
	var options replayOptions
	return &cli.Command{
		Name:    "replay",
		Summary: "Drive a fixture file through the pipeline",
		Description: `Publish every message of a fixture file on an in-process bus subscribed
with the configured topic filter, run each through the full pipeline
(the configured gateway and scorer are real), and print how the
messages ended.

Fixtures are JSONC, optionally zstd (.zst) or lz4 (.lz4) compressed.`,
		Usage: "wattwatch replay [--config FILE] [flags] <fixture>",
		Examples: []cli.Example{
			{
				Description: "Fail when any message is dropped",
				Command:     "wattwatch replay --config wattwatch.yaml --strict fixtures/day.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "daemon config file (default $WATTWATCH_CONFIG)")
			flagSet.DurationVar(&options.interval, "interval", 0, "pause between published messages")
			flagSet.BoolVar(&options.strict, "strict", false, "exit 1 if any message is dropped")
			options.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("replay takes exactly one fixture file")
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReplay(ctx, options, args[0], stdout, stderr)
		},
	}
}

func runReplay(ctx context.Context, options replayOptions, fixturePath string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(options.configPath)
	if err != nil {
		return err
	}
	level, err := service.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(stderr, level).With("command", "replay")

	messages, err := replay.Load(fixturePath)
	if err != nil {
		return err
	}

	var countsMu sync.Mutex
	counts := make(map[outcomeCount]int)
	dispatcher, err := ingest.Build(cfg, ingest.BuildOptions{
		Logger: logger,
		OnOutcome: func(outcome ingest.Outcome) {
			countsMu.Lock()
			counts[outcomeCount{State: outcome.State.String(), Reason: outcome.Reason}]++
			countsMu.Unlock()
		},
	})
	if err != nil {
		return err
	}

	broker := transport.NewBroker()
	defer broker.Close()
	if err := broker.Subscribe(ctx, cfg.MQTT.Topic, dispatcher.Handle); err != nil {
		return err
	}

	summary := replaySummary{Messages: len(messages)}
	published := 0
	for _, message := range messages {
		if ctx.Err() != nil {
			break
		}
		delivered, err := broker.Publish(message.Topic, message.Payload)
		if err != nil {
			return err
		}
		published++
		if delivered == 0 {
			summary.Unmatched++
			logger.Warn("fixture topic does not match subscription",
				"topic", message.Topic, "filter", cfg.MQTT.Topic)
		}
		if options.interval > 0 {
			select {
			case <-time.After(options.interval):
			case <-ctx.Done():
			}
		}
	}
	if published < len(messages) {
		logger.Warn("replay interrupted", "published", published, "messages", len(messages))
	}

	drainContext, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.DrainTimeout)
	defer cancel()
	if err := dispatcher.Close(drainContext); err != nil {
		logger.Error("drain incomplete", "error", err)
	}

	countsMu.Lock()
	for key, count := range counts {
		key.Count = count
		summary.Outcomes = append(summary.Outcomes, key)
	}
	countsMu.Unlock()
	slices.SortFunc(summary.Outcomes, func(a, b outcomeCount) int {
		return cmp.Or(cmp.Compare(a.State, b.State), cmp.Compare(a.Reason, b.Reason))
	})

	if err := printReplaySummary(stdout, options, summary); err != nil {
		return err
	}
	if options.strict && summary.dropped() > 0 {
		return &cli.ExitError{Code: 1}
	}
	return ctx.Err()
}

func printReplaySummary(stdout io.Writer, options replayOptions, summary replaySummary) error {
	if done, err := options.EmitJSON(stdout, summary); done {
		return err
	}
	table := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(table, "STATE\tREASON\tCOUNT\n")
	for _, row := range summary.Outcomes {
		reason := row.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(table, "%s\t%s\t%d\n", row.State, reason, row.Count)
	}
	if err := table.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\n%d messages, %d unmatched\n", summary.Messages, summary.Unmatched)
	return nil
}
