// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/wattwatch/wattwatch/cmd/wattwatch/cli"
	"github.com/wattwatch/wattwatch/lib/netutil"
	"github.com/wattwatch/wattwatch/lib/reading"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
	"github.com/wattwatch/wattwatch/lib/scoring"
	"github.com/wattwatch/wattwatch/lib/service"
	"github.com/wattwatch/wattwatch/lib/verdict"
)

type scoreOptions struct {
	cli.JSONOutput
	configPath string
	deviceID   string
}

type scoreResult struct {
	Reading electricity.Reading       `json:"reading"`
	Results []electricity.ModelResult `json:"results"`

	// Verdict is nil when neither model flagged the reading. Its
	// data_id is 0: nothing was stored.
	Verdict *electricity.AnomalyVerdict `json:"verdict"`
}

func scoreCommand(stdout, stderr io.Writer) *cli.Command {
	var options scoreOptions
	return &cli.Command{
		Name:    "score",
		Summary: "Run the scorer once on a payload file",
		Description: `Decode a reading payload the way the ingest daemon does, run the
configured scorer on it once, and print the model results and the
verdict that would be stored. Nothing is sent to the gateway and the
power threshold is not applied.

Use "-" as the payload file to read standard input.`,
		Usage: "wattwatch score [--config FILE] --device ID [--json] <payload-file>",
		Examples: []cli.Example{
			{
				Description: "Score a captured payload for DEV1",
				Command:     "wattwatch score --device DEV1 payload.json",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("score", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "daemon config file (default $WATTWATCH_CONFIG)")
			flagSet.StringVar(&options.deviceID, "device", "", "device id attached to the reading (required)")
			options.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return usageError("score takes exactly one payload file")
			}
			if options.deviceID == "" {
				return usageError("--device is required")
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runScore(ctx, options, args[0], stdout, stderr)
		},
	}
}

func runScore(ctx context.Context, options scoreOptions, payloadPath string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(options.configPath)
	if err != nil {
		return err
	}
	level, err := service.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(stderr, level).With("command", "score")

	payload, err := readPayload(payloadPath)
	if err != nil {
		return err
	}
	decoded, err := reading.Decode(payload, options.deviceID)
	if err != nil {
		return fmt.Errorf("%s: %w", payloadPath, err)
	}

	invoker, err := scoring.New(scoring.Config{
		Command: cfg.Scoring.Command,
		Dir:     cfg.Scoring.Dir,
		Timeout: cfg.Scoring.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	results, err := invoker.Score(ctx, decoded)
	if err != nil {
		return err
	}

	output := scoreResult{Reading: decoded, Results: results}
	if found, ok := verdict.Correlate(results, electricity.StoredReadingRef{}); ok {
		output.Verdict = &found
	}
	return printScoreResult(stdout, options, output)
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(io.LimitReader(os.Stdin, netutil.MaxRequestSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return data, nil
}

func printScoreResult(stdout io.Writer, options scoreOptions, result scoreResult) error {
	if done, err := options.EmitJSON(stdout, result); done {
		return err
	}
	table := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(table, "RECORD\tIF_LABELS\tRF_LABELS\n")
	for index, record := range result.Results {
		fmt.Fprintf(table, "%d\t%s\t%s\n", index, record.IsolationForest, record.RandomForest)
	}
	if err := table.Flush(); err != nil {
		return err
	}
	if result.Verdict == nil {
		fmt.Fprintf(stdout, "\nverdict: none (%s is normal)\n", result.Reading.DeviceID)
		return nil
	}
	fmt.Fprintf(stdout, "\nverdict: anomaly (if_labels_anomaly=%t rf_labels_anomaly=%t)\n",
		result.Verdict.FlaggedByModelA, result.Verdict.FlaggedByModelB)
	return nil
}
