// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wattwatch/wattwatch/lib/metrics"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
	"github.com/wattwatch/wattwatch/lib/scoring"
	"github.com/wattwatch/wattwatch/lib/testutil"
	"github.com/wattwatch/wattwatch/transport"
)

// blockingScorer holds every Score call until release is closed (or
// the run context ends) and reports each entry on started.
type blockingScorer struct {
	started chan string
	release chan struct{}
}

func newBlockingScorer() *blockingScorer {
	return &blockingScorer{started: make(chan string, 64), release: make(chan struct{})}
}

func (s *blockingScorer) Score(ctx context.Context, reading electricity.Reading) ([]electricity.ModelResult, error) {
	s.started <- reading.DeviceID
	select {
	case <-s.release:
		return []electricity.ModelResult{{IsolationForest: electricity.LabelAnomaly, RandomForest: electricity.LabelNormal}}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", scoring.ErrScoringFailed, ctx.Err())
	}
}

func newTestDispatcher(t *testing.T, pipeline *Pipeline, maxPending int) (*Dispatcher, chan Outcome) {
	t.Helper()
	outcomes := make(chan Outcome, 128)
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Pipeline:   pipeline,
		MaxPending: maxPending,
		OnOutcome:  func(outcome Outcome) { outcomes <- outcome },
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return dispatcher, outcomes
}

func TestConcurrentDevicesAreIndependent(t *testing.T) {
	const devices = 12
	gw := newFakeGateway()
	scorer := &fakeScorer{score: func(_ context.Context, reading electricity.Reading) ([]electricity.ModelResult, error) {
		if reading.DeviceID == "DEV3" {
			return nil, fmt.Errorf("%w: exit status 1", scoring.ErrScoringFailed)
		}
		return []electricity.ModelResult{{IsolationForest: electricity.LabelAnomaly, RandomForest: electricity.LabelAnomaly}}, nil
	}}
	pipeline := newTestPipeline(t, gw, scorer, func(cfg *PipelineConfig) { cfg.ScoringConcurrency = 3 })
	dispatcher, outcomes := newTestDispatcher(t, pipeline, devices)

	for index := 0; index < devices; index++ {
		if err := dispatcher.Submit(readingMessage(fmt.Sprintf("DEV%d", index), 0.6)); err != nil {
			t.Fatalf("Submit DEV%d: %v", index, err)
		}
	}
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	byDevice := map[string]Outcome{}
	for index := 0; index < devices; index++ {
		outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "outcome %d", index)
		byDevice[outcome.DeviceID] = outcome
	}
	for device, outcome := range byDevice {
		if device == "DEV3" {
			if outcome.State != StateStoredOnly || outcome.Reason != ReasonScoringFailed {
				t.Errorf("DEV3 outcome = %v/%q", outcome.State, outcome.Reason)
			}
			continue
		}
		if outcome.State != StateDone {
			t.Errorf("%s outcome = %v/%q (%v)", device, outcome.State, outcome.Reason, outcome.Err)
			continue
		}
		// The verdict refers to the reading stored for the same message.
		if want := gw.readingIDFor(device); outcome.Verdict.ReadingID != want || outcome.ReadingID != want {
			t.Errorf("%s verdict reading id = %d, stored id %d", device, outcome.Verdict.ReadingID, want)
		}
	}
	if len(byDevice) != devices {
		t.Errorf("%d distinct devices finished, want %d", len(byDevice), devices)
	}

	stats := dispatcher.Stats()
	if stats.Received != devices || stats.Done != devices-1 || stats.StoredOnly != 1 || stats.InFlight != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestScoringConcurrencyIsBounded(t *testing.T) {
	scorer := newBlockingScorer()
	pipeline := newTestPipeline(t, newFakeGateway(), scorer, func(cfg *PipelineConfig) { cfg.ScoringConcurrency = 2 })
	dispatcher, outcomes := newTestDispatcher(t, pipeline, 10)

	for index := 0; index < 5; index++ {
		if err := dispatcher.Submit(readingMessage(fmt.Sprintf("DEV%d", index), 0.6)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	testutil.RequireReceive(t, scorer.started, 5*time.Second, "first scorer")
	testutil.RequireReceive(t, scorer.started, 5*time.Second, "second scorer")

	// Queued runs wait for a slot instead of being dropped.
	select {
	case device := <-scorer.started:
		t.Fatalf("third scorer (%s) started with two slots", device)
	case <-time.After(100 * time.Millisecond):
	}
	if got := pipeline.ScoringInFlight(); got != 2 {
		t.Errorf("ScoringInFlight = %d, want 2", got)
	}
	if stats := dispatcher.Stats(); stats.InFlight != 5 || stats.Dropped != 0 {
		t.Errorf("stats = %+v", stats)
	}

	close(scorer.release)
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for index := 0; index < 5; index++ {
		if outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "outcome"); outcome.State != StateDone {
			t.Errorf("outcome = %v/%q", outcome.State, outcome.Reason)
		}
	}
}

func TestBackpressureDropsBeyondMaxPending(t *testing.T) {
	gw := newFakeGateway()
	scorer := newBlockingScorer()
	pipeline := newTestPipeline(t, gw, scorer, func(cfg *PipelineConfig) { cfg.ScoringConcurrency = 1 })
	dispatcher, outcomes := newTestDispatcher(t, pipeline, 2)

	if err := dispatcher.Submit(readingMessage("DEV1", 0.6)); err != nil {
		t.Fatalf("Submit DEV1: %v", err)
	}
	if err := dispatcher.Submit(readingMessage("DEV2", 0.6)); err != nil {
		t.Fatalf("Submit DEV2: %v", err)
	}
	err := dispatcher.Submit(readingMessage("DEV3", 0.6))
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Submit DEV3 = %v, want ErrBackpressure", err)
	}

	dropped := testutil.RequireReceive(t, outcomes, 5*time.Second, "backpressure outcome")
	if dropped.State != StateDropped || dropped.Reason != ReasonBackpressure || dropped.Topic != deviceTopic("DEV3") {
		t.Errorf("dropped outcome = %+v", dropped)
	}

	close(scorer.release)
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	stats := dispatcher.Stats()
	if stats.Received != 3 || stats.Backpressure != 1 || stats.Dropped != 1 || stats.Done != 2 {
		t.Errorf("stats = %+v", stats)
	}
	// The dropped message never reached storage.
	if readings, _, _ := gw.snapshot(); len(readings) != 2 {
		t.Errorf("%d readings stored, want 2", len(readings))
	}
}

func requireRunsInFlight(t *testing.T, registry *prometheus.Registry, want int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP wattwatch_runs_in_flight Admitted messages that have not reached a terminal state.
# TYPE wattwatch_runs_in_flight gauge
wattwatch_runs_in_flight %d
`, want)
	if err := promtest.GatherAndCompare(registry, strings.NewReader(expected), "wattwatch_runs_in_flight"); err != nil {
		t.Error(err)
	}
}

func TestRunsInFlightGaugeFollowsCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	gw := newFakeGateway()
	scorer := newBlockingScorer()
	pipeline := newTestPipeline(t, gw, scorer, func(cfg *PipelineConfig) {
		cfg.ScoringConcurrency = 8
		cfg.Metrics = metrics.NewPipeline(registry)
	})
	dispatcher, _ := newTestDispatcher(t, pipeline, 256)

	for _, device := range []string{"DEV1", "DEV2"} {
		if err := dispatcher.Submit(readingMessage(device, 0.6)); err != nil {
			t.Fatalf("Submit %s: %v", device, err)
		}
		testutil.RequireReceive(t, scorer.started, 5*time.Second, "scorer start for %s", device)
	}
	requireRunsInFlight(t, registry, 2)
	close(scorer.release)

	// Admissions and completions race from many goroutines; the gauge
	// must still settle on the final count.
	var submitters sync.WaitGroup
	for index := 0; index < 60; index++ {
		submitters.Add(1)
		go func() {
			defer submitters.Done()
			if err := dispatcher.Submit(readingMessage(fmt.Sprintf("DEV%d", index+10), 0.6)); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	submitters.Wait()
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireRunsInFlight(t, registry, 0)
}

func TestCloseDrainsInFlightRuns(t *testing.T) {
	gw := newFakeGateway()
	scorer := newBlockingScorer()
	pipeline := newTestPipeline(t, gw, scorer)
	dispatcher, outcomes := newTestDispatcher(t, pipeline, 4)

	if err := dispatcher.Submit(readingMessage("DEV1", 0.6)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	testutil.RequireReceive(t, scorer.started, 5*time.Second, "scorer start")

	closed := make(chan error, 1)
	go func() { closed <- dispatcher.Close(context.Background()) }()

	select {
	case err := <-closed:
		t.Fatalf("Close returned %v before the run finished", err)
	case <-time.After(50 * time.Millisecond):
	}
	if calls := gw.closeCount(); calls != 0 {
		t.Fatalf("gateway closed %d times while a run was in flight", calls)
	}

	// Admission closes as soon as Close starts. A submit that raced
	// ahead of it is drained like any other run.
	admitted := 1
	var refusal error
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		refusal = dispatcher.Submit(readingMessage("DEV2", 0.6))
		if errors.Is(refusal, ErrShuttingDown) {
			break
		}
		if refusal == nil {
			admitted++
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(refusal, ErrShuttingDown) {
		t.Fatalf("Submit during Close = %v, want ErrShuttingDown", refusal)
	}

	close(scorer.release)
	if err := testutil.RequireReceive(t, closed, 5*time.Second, "Close"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var done int
	for len(outcomes) > 0 {
		if outcome := <-outcomes; outcome.State == StateDone {
			done++
		}
	}
	if done != admitted {
		t.Errorf("%d runs done, want %d", done, admitted)
	}
	if calls := gw.closeCount(); calls != 1 {
		t.Errorf("gateway closed %d times, want 1", calls)
	}
}

func TestCloseDeadlineAbortsRuns(t *testing.T) {
	gw := newFakeGateway()
	scorer := newBlockingScorer()
	pipeline := newTestPipeline(t, gw, scorer)
	dispatcher, outcomes := newTestDispatcher(t, pipeline, 4)

	if err := dispatcher.Submit(readingMessage("DEV1", 0.6)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	testutil.RequireReceive(t, scorer.started, 5*time.Second, "scorer start")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := dispatcher.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v, want deadline exceeded", err)
	}

	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "aborted outcome")
	if outcome.State != StateStoredOnly || outcome.Reason != ReasonScoringAborted {
		t.Errorf("outcome = %v/%q", outcome.State, outcome.Reason)
	}
	if stats := dispatcher.Stats(); stats.InFlight != 0 {
		t.Errorf("InFlight after Close = %d", stats.InFlight)
	}
	if calls := gw.closeCount(); calls != 1 {
		t.Errorf("gateway closed %d times after an aborted drain, want 1", calls)
	}
}

func TestHandleFromBroker(t *testing.T) {
	gw := newFakeGateway()
	pipeline := newTestPipeline(t, gw, scoreAs(electricity.LabelNormal, electricity.LabelNormal))
	dispatcher, outcomes := newTestDispatcher(t, pipeline, 8)

	broker := transport.NewBroker()
	if err := broker.Subscribe(context.Background(), "telemetry/#", dispatcher.Handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var wg sync.WaitGroup
	for index := 0; index < 4; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = broker.Publish(deviceTopic(fmt.Sprintf("DEV%d", index)), readingMessage("x", 0.3).Payload)
		}()
	}
	wg.Wait()
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for index := 0; index < 4; index++ {
		outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "outcome")
		if outcome.State != StateStoredOnly || outcome.Reason != ReasonBelowThreshold {
			t.Errorf("outcome = %v/%q", outcome.State, outcome.Reason)
		}
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	if _, err := NewDispatcher(DispatcherConfig{}); err == nil {
		t.Error("missing pipeline accepted")
	}
	pipeline := newTestPipeline(t, newFakeGateway(), scoreAs(electricity.LabelNormal, electricity.LabelNormal))
	if _, err := NewDispatcher(DispatcherConfig{Pipeline: pipeline, MaxPending: -1}); err == nil {
		t.Error("negative MaxPending accepted")
	}
}
