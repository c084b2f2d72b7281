// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wattwatch/wattwatch/transport"
)

// DefaultMaxPending bounds admitted runs that have not finished.
const DefaultMaxPending = 64

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Pipeline *Pipeline // required

	// MaxPending caps in-flight runs. A message arriving at the cap is
	// dropped with reason "backpressure". Zero means DefaultMaxPending.
	MaxPending int

	// OnOutcome, if set, is called once per message with its terminal
	// outcome, including messages refused at admission. It runs on the
	// message's goroutine (or Submit's, for refusals) and must be safe
	// for concurrent use.
	OnOutcome func(Outcome)

	Logger *slog.Logger
}

// Stats is a snapshot of dispatcher counters. Dropped includes
// Backpressure drops.
type Stats struct {
	Received        uint64  `json:"received"          cbor:"received"`
	Dropped         uint64  `json:"dropped"           cbor:"dropped"`
	StoredOnly      uint64  `json:"stored_only"       cbor:"stored_only"`
	Done            uint64  `json:"done"              cbor:"done"`
	Backpressure    uint64  `json:"backpressure"      cbor:"backpressure"`
	InFlight        int64   `json:"in_flight"         cbor:"in_flight"`
	ScoringInFlight int64   `json:"scoring_in_flight" cbor:"scoring_in_flight"`
	UptimeSeconds   float64 `json:"uptime_seconds"    cbor:"uptime_seconds"`
}

// Dispatcher admits transport messages and runs each on its own
// goroutine.
type Dispatcher struct {
	pipeline   *Pipeline
	maxPending int
	onOutcome  func(Outcome)
	logger     *slog.Logger
	started    time.Time

	// runContext is independent of any caller's context so that
	// shutdown can let runs finish. Close cancels it only when the
	// drain deadline passes.
	runContext context.Context
	cancelRuns context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight int
	wg       sync.WaitGroup

	received     atomic.Uint64
	dropped      atomic.Uint64
	storedOnly   atomic.Uint64
	done         atomic.Uint64
	backpressure atomic.Uint64
}

// NewDispatcher validates cfg and returns a Dispatcher ready to accept
// messages.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("ingest: Pipeline is required")
	}
	if cfg.MaxPending < 0 {
		return nil, fmt.Errorf("ingest: negative MaxPending %d", cfg.MaxPending)
	}
	maxPending := cfg.MaxPending
	if maxPending == 0 {
		maxPending = DefaultMaxPending
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Pipeline.logger
	}
	runContext, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		pipeline:   cfg.Pipeline,
		maxPending: maxPending,
		onOutcome:  cfg.OnOutcome,
		logger:     logger,
		started:    cfg.Pipeline.clock.Now(),
		runContext: runContext,
		cancelRuns: cancel,
	}, nil
}

// Submit admits message for processing and returns without waiting for
// it. It returns ErrBackpressure or ErrShuttingDown when the message
// was refused; a refused message has already been logged and counted.
func (d *Dispatcher) Submit(message transport.Message) error {
	d.received.Add(1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.record(d.pipeline.reject(message, ReasonShuttingDown, ErrShuttingDown))
		return ErrShuttingDown
	}
	if d.inFlight >= d.maxPending {
		d.mu.Unlock()
		d.backpressure.Add(1)
		d.record(d.pipeline.reject(message, ReasonBackpressure,
			fmt.Errorf("%w: %d runs in flight", ErrBackpressure, d.maxPending)))
		return ErrBackpressure
	}
	d.inFlight++
	// The gauge is set under mu so that updates land in counter order.
	d.pipeline.metrics.SetInFlight(int64(d.inFlight))
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		outcome := d.pipeline.Process(d.runContext, message)

		d.mu.Lock()
		d.inFlight--
		d.pipeline.metrics.SetInFlight(int64(d.inFlight))
		d.mu.Unlock()

		d.record(outcome)
	}()
	return nil
}

// Handle is Submit as a transport.Handler. Refusals are already logged
// by Submit.
func (d *Dispatcher) Handle(message transport.Message) {
	_ = d.Submit(message)
}

func (d *Dispatcher) record(outcome Outcome) {
	switch outcome.State {
	case StateDropped:
		d.dropped.Add(1)
	case StateStoredOnly:
		d.storedOnly.Add(1)
	case StateDone:
		d.done.Add(1)
	}
	if d.onOutcome != nil {
		d.onOutcome(outcome)
	}
}

// Close stops admission and waits for in-flight runs. If ctx ends
// first, the remaining runs are cancelled (scorers killed, gateway
// calls and retry backoff abandoned) and Close waits for them to reach
// their terminal state before returning ctx's error. Once no run is
// left, the gateway is released if it implements io.Closer.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	pending := d.inFlight
	d.mu.Unlock()

	if pending > 0 {
		d.logger.Info("draining in-flight runs", "in_flight", pending)
	}

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	// No run uses the gateway once drained is closed.
	defer d.pipeline.releaseGateway()

	select {
	case <-drained:
		d.cancelRuns()
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		remaining := d.inFlight
		d.mu.Unlock()
		d.logger.Warn("drain deadline reached, aborting in-flight runs", "in_flight", remaining)
		d.cancelRuns()
		<-drained
		return fmt.Errorf("ingest: drain: %w", ctx.Err())
	}
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	inFlight := d.inFlight
	d.mu.Unlock()
	return Stats{
		Received:        d.received.Load(),
		Dropped:         d.dropped.Load(),
		StoredOnly:      d.storedOnly.Load(),
		Done:            d.done.Load(),
		Backpressure:    d.backpressure.Load(),
		InFlight:        int64(inFlight),
		ScoringInFlight: d.pipeline.ScoringInFlight(),
		UptimeSeconds:   d.pipeline.clock.Now().Sub(d.started).Seconds(),
	}
}
