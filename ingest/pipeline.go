// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wattwatch/wattwatch/lib/clock"
	"github.com/wattwatch/wattwatch/lib/gateway"
	"github.com/wattwatch/wattwatch/lib/metrics"
	"github.com/wattwatch/wattwatch/lib/reading"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
	"github.com/wattwatch/wattwatch/lib/scoring"
	"github.com/wattwatch/wattwatch/lib/topic"
	"github.com/wattwatch/wattwatch/lib/verdict"
	"github.com/wattwatch/wattwatch/transport"
)

// Gateway stores readings and verdicts. *gateway.Client implements it.
// Errors are expected to wrap gateway.ErrStorageUnavailable or
// gateway.ErrStorageRejected.
type Gateway interface {
	StoreReading(ctx context.Context, reading electricity.Reading) (electricity.StoredReadingRef, error)
	StoreVerdict(ctx context.Context, verdict electricity.AnomalyVerdict) error
}

// Scorer runs the anomaly models for one reading. *scoring.Invoker
// implements it.
type Scorer interface {
	Score(ctx context.Context, reading electricity.Reading) ([]electricity.ModelResult, error)
}

// Defaults for zero PipelineConfig fields.
const (
	// DefaultPowerThreshold is the standard gate: readings at or below
	// 0.5 are stored but not scored.
	DefaultPowerThreshold = 0.5

	// DefaultScoringConcurrency caps scorer processes.
	DefaultScoringConcurrency = 4

	// DefaultVerdictAttempts counts the first StoreVerdict call.
	DefaultVerdictAttempts = 3

	DefaultVerdictBackoff    = 250 * time.Millisecond
	DefaultVerdictMaxBackoff = 2 * time.Second
)

// PipelineConfig wires a Pipeline to its collaborators.
type PipelineConfig struct {
	Gateway Gateway // required
	Scorer  Scorer  // required

	// Topic locates the device id in a topic. It is used as given;
	// topic.DefaultSchema() is the standard layout.
	Topic topic.Schema

	// PowerThreshold gates scoring: only readings with power strictly
	// above it are scored. Used as given, so zero scores every reading
	// with positive power.
	PowerThreshold float64

	// ScoringConcurrency caps concurrently running scorer processes.
	// Zero means DefaultScoringConcurrency.
	ScoringConcurrency int

	// VerdictAttempts is the total number of StoreVerdict attempts on
	// transient failures. Zero means DefaultVerdictAttempts.
	VerdictAttempts int

	// VerdictBackoff is the first retry delay; it doubles per attempt
	// up to VerdictMaxBackoff. Zero values mean the defaults.
	VerdictBackoff    time.Duration
	VerdictMaxBackoff time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Pipeline
}

// Pipeline drives single messages through the state machine. It holds
// no per-message state and is safe for concurrent use.
type Pipeline struct {
	gateway   Gateway
	scorer    Scorer
	topic     topic.Schema
	threshold float64

	slots           chan struct{}
	scoringInFlight atomic.Int64

	verdictAttempts   int
	verdictBackoff    time.Duration
	verdictMaxBackoff time.Duration

	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Pipeline
}

// NewPipeline validates cfg and returns a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("ingest: Gateway is required")
	}
	if cfg.Scorer == nil {
		return nil, errors.New("ingest: Scorer is required")
	}
	if cfg.ScoringConcurrency < 0 || cfg.VerdictAttempts < 0 || cfg.VerdictBackoff < 0 || cfg.VerdictMaxBackoff < 0 {
		return nil, errors.New("ingest: negative concurrency, attempt, or backoff setting")
	}
	concurrency := cfg.ScoringConcurrency
	if concurrency == 0 {
		concurrency = DefaultScoringConcurrency
	}
	attempts := cfg.VerdictAttempts
	if attempts == 0 {
		attempts = DefaultVerdictAttempts
	}
	backoff := cfg.VerdictBackoff
	if backoff == 0 {
		backoff = DefaultVerdictBackoff
	}
	maxBackoff := cfg.VerdictMaxBackoff
	if maxBackoff == 0 {
		maxBackoff = DefaultVerdictMaxBackoff
	}
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		gateway:           cfg.Gateway,
		scorer:            cfg.Scorer,
		topic:             cfg.Topic,
		threshold:         cfg.PowerThreshold,
		slots:             make(chan struct{}, concurrency),
		verdictAttempts:   attempts,
		verdictBackoff:    backoff,
		verdictMaxBackoff: maxBackoff,
		clock:             clk,
		logger:            logger,
		metrics:           cfg.Metrics,
	}, nil
}

// ScoringInFlight returns the number of scorer processes running.
func (p *Pipeline) ScoringInFlight() int64 { return p.scoringInFlight.Load() }

// Process runs message to a terminal state and returns the outcome.
// It never panics on bad input and never returns a non-terminal state.
func (p *Pipeline) Process(ctx context.Context, message transport.Message) Outcome {
	outcome := Outcome{RunID: uuid.NewString(), Topic: message.Topic, State: StateReceived}
	logger := p.logger.With("run_id", outcome.RunID, "topic", message.Topic)
	p.run(ctx, message, &outcome, logger)
	p.finish(outcome, logger)
	return outcome
}

// reject ends a message that was never admitted.
func (p *Pipeline) reject(message transport.Message, reason string, err error) Outcome {
	outcome := Outcome{
		RunID:  uuid.NewString(),
		Topic:  message.Topic,
		State:  StateDropped,
		Reason: reason,
		Err:    err,
	}
	p.finish(outcome, p.logger.With("run_id", outcome.RunID, "topic", message.Topic))
	return outcome
}

func (p *Pipeline) run(ctx context.Context, message transport.Message, outcome *Outcome, logger *slog.Logger) {
	drop := func(reason string, err error) {
		outcome.State, outcome.Reason, outcome.Err = StateDropped, reason, err
	}
	storedOnly := func(reason string, err error) {
		outcome.State, outcome.Reason, outcome.Err = StateStoredOnly, reason, err
	}

	deviceID, err := p.topic.DeviceID(message.Topic)
	if err != nil {
		drop(ReasonMalformedTopic, err)
		return
	}
	outcome.DeviceID = deviceID
	logger = logger.With("device_id", deviceID)

	decoded, err := reading.Decode(message.Payload, deviceID)
	if err != nil {
		drop(ReasonMalformedPayload, err)
		return
	}
	outcome.State = StateDecoded

	started := p.clock.Now()
	ref, err := p.gateway.StoreReading(ctx, decoded)
	p.metrics.ObserveGateway("store_reading", resultLabel(err), p.clock.Now().Sub(started))
	if err != nil {
		if errors.Is(err, gateway.ErrStorageRejected) {
			drop(ReasonStorageRejected, err)
		} else {
			drop(ReasonStorageUnavailable, err)
		}
		return
	}
	outcome.State = StateStored
	outcome.ReadingID = ref.ReadingID

	if !(decoded.Power > p.threshold) {
		storedOnly(ReasonBelowThreshold, nil)
		return
	}

	results, err := p.score(ctx, decoded)
	if err != nil {
		switch {
		case errors.Is(err, scoring.ErrScoringTimeout):
			storedOnly(ReasonScoringTimeout, err)
		case ctx.Err() != nil:
			storedOnly(ReasonScoringAborted, err)
		default:
			storedOnly(ReasonScoringFailed, err)
		}
		return
	}
	outcome.State = StateScored
	logger.Debug("reading scored", "reading_id", ref.ReadingID, "results", len(results))

	found, positive := verdict.Correlate(results, ref)
	if !positive {
		storedOnly(ReasonNoAnomaly, nil)
		return
	}
	outcome.State = StateCorrelated

	if err := p.storeVerdict(ctx, found, logger); err != nil {
		if errors.Is(err, gateway.ErrStorageRejected) {
			storedOnly(ReasonVerdictRejected, err)
		} else {
			storedOnly(ReasonVerdictUnavailable, err)
		}
		return
	}
	outcome.State = StateDone
	outcome.Verdict = &found
}

// score waits for a scorer slot and runs the scorer once.
func (p *Pipeline) score(ctx context.Context, decoded electricity.Reading) ([]electricity.ModelResult, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for a scorer slot: %v", scoring.ErrScoringFailed, ctx.Err())
	}
	p.metrics.SetScoringInFlight(p.scoringInFlight.Add(1))
	defer func() {
		p.metrics.SetScoringInFlight(p.scoringInFlight.Add(-1))
		<-p.slots
	}()

	started := p.clock.Now()
	results, err := p.scorer.Score(ctx, decoded)
	label := "ok"
	switch {
	case errors.Is(err, scoring.ErrScoringTimeout):
		label = "timeout"
	case err != nil:
		label = "failed"
	}
	p.metrics.ObserveScoring(label, p.clock.Now().Sub(started))
	return results, err
}

// storeVerdict stores v, retrying transient failures with doubling
// backoff. Rejections are returned at once.
func (p *Pipeline) storeVerdict(ctx context.Context, v electricity.AnomalyVerdict, logger *slog.Logger) error {
	backoff := p.verdictBackoff
	for attempt := 1; ; attempt++ {
		started := p.clock.Now()
		err := p.gateway.StoreVerdict(ctx, v)
		p.metrics.ObserveGateway("store_verdict", resultLabel(err), p.clock.Now().Sub(started))
		if err == nil {
			return nil
		}
		if errors.Is(err, gateway.ErrStorageRejected) {
			return err
		}
		if attempt >= p.verdictAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		logger.Warn("verdict store failed, will retry",
			"reading_id", v.ReadingID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		p.metrics.VerdictRetry()
		select {
		case <-p.clock.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("abandoned retry after %d attempts (%v): %w", attempt, ctx.Err(), err)
		}
		backoff = min(backoff*2, p.verdictMaxBackoff)
	}
}

// releaseGateway closes the gateway when it holds resources (an
// io.Closer, like *gateway.Client).
func (p *Pipeline) releaseGateway() {
	closer, ok := p.gateway.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		p.logger.Warn("releasing gateway client", "error", err)
	}
}

// finish emits the single terminal record for a run.
func (p *Pipeline) finish(outcome Outcome, logger *slog.Logger) {
	p.metrics.ObserveOutcome(outcome.State.String(), outcome.Reason)

	switch outcome.State {
	case StateDropped:
		attributes := []any{"reason", outcome.Reason}
		if outcome.DeviceID != "" {
			attributes = append(attributes, "device_id", outcome.DeviceID)
		}
		if outcome.Err != nil {
			attributes = append(attributes, "error", outcome.Err)
		}
		logger.Warn("message dropped", attributes...)

	case StateStoredOnly:
		attributes := []any{
			"outcome", StateStoredOnly.String(),
			"reason", outcome.Reason,
			"reading_id", outcome.ReadingID,
		}
		if outcome.Err != nil {
			logger.Warn("reading stored", append(attributes, "error", outcome.Err)...)
			return
		}
		logger.Info("reading stored", attributes...)

	case StateDone:
		logger.Info("anomaly verdict stored",
			"outcome", StateDone.String(),
			"reading_id", outcome.ReadingID,
			"flagged_by_model_a", outcome.Verdict.FlaggedByModelA,
			"flagged_by_model_b", outcome.Verdict.FlaggedByModelB,
		)

	default:
		logger.Error("run ended in non-terminal state", "state", outcome.State.String())
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gateway.ErrStorageRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
