// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"log/slog"

	"github.com/wattwatch/wattwatch/lib/clock"
	"github.com/wattwatch/wattwatch/lib/config"
	"github.com/wattwatch/wattwatch/lib/gateway"
	"github.com/wattwatch/wattwatch/lib/metrics"
	"github.com/wattwatch/wattwatch/lib/scoring"
	"github.com/wattwatch/wattwatch/lib/topic"
)

// BuildOptions carries the process-level collaborators that do not
// come from the config file.
type BuildOptions struct {
	Logger    *slog.Logger
	Metrics   *metrics.Pipeline
	Clock     clock.Clock
	OnOutcome func(Outcome)
}

// Build wires a gateway client, a scoring invoker, a Pipeline and a
// Dispatcher from cfg. cfg should already be validated.
func Build(cfg *config.Config, options BuildOptions) (*Dispatcher, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:     cfg.Gateway.BaseURL,
		ReadingPath: cfg.Gateway.ReadingPath,
		VerdictPath: cfg.Gateway.VerdictPath,
		Timeout:     cfg.Gateway.RequestTimeout,
		Logger:      logger.With("component", "gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("building gateway client: %w", err)
	}

	invoker, err := scoring.New(scoring.Config{
		Command: cfg.Scoring.Command,
		Dir:     cfg.Scoring.Dir,
		Timeout: cfg.Scoring.Timeout,
		Logger:  logger.With("component", "scoring"),
	})
	if err != nil {
		return nil, fmt.Errorf("building scoring invoker: %w", err)
	}

	pipeline, err := NewPipeline(PipelineConfig{
		Gateway:            client,
		Scorer:             invoker,
		Topic:              topic.Schema{DeviceSegment: cfg.Topic.DeviceSegment},
		PowerThreshold:     cfg.Scoring.PowerThreshold,
		ScoringConcurrency: cfg.Scoring.Concurrency,
		VerdictAttempts:    cfg.Pipeline.VerdictAttempts,
		VerdictBackoff:     cfg.Pipeline.VerdictBackoff,
		VerdictMaxBackoff:  cfg.Pipeline.VerdictMaxBackoff,
		Clock:              options.Clock,
		Logger:             logger,
		Metrics:            options.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return NewDispatcher(DispatcherConfig{
		Pipeline:   pipeline,
		MaxPending: cfg.Pipeline.MaxPending,
		OnOutcome:  options.OnOutcome,
		Logger:     logger,
	})
}
