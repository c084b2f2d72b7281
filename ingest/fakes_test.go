// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wattwatch/wattwatch/lib/clock"
	"github.com/wattwatch/wattwatch/lib/gateway"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
	"github.com/wattwatch/wattwatch/lib/topic"
	"github.com/wattwatch/wattwatch/transport"
)

// fakeGateway records calls and returns scripted errors. Reading ids
// start at 100.
type fakeGateway struct {
	mu           sync.Mutex
	nextID       int64
	readings     []electricity.Reading
	verdicts     []electricity.AnomalyVerdict
	verdictCalls int

	// readingErr is returned by every StoreReading when set.
	readingErr error

	// verdictErrs is consumed one entry per StoreVerdict call; once
	// empty, calls succeed.
	verdictErrs []error

	closeCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextID: 100}
}

func (g *fakeGateway) StoreReading(_ context.Context, reading electricity.Reading) (electricity.StoredReadingRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readingErr != nil {
		return electricity.StoredReadingRef{}, g.readingErr
	}
	g.readings = append(g.readings, reading)
	id := g.nextID
	g.nextID++
	return electricity.StoredReadingRef{ReadingID: id}, nil
}

func (g *fakeGateway) StoreVerdict(_ context.Context, verdict electricity.AnomalyVerdict) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verdictCalls++
	if len(g.verdictErrs) > 0 {
		err := g.verdictErrs[0]
		g.verdictErrs = g.verdictErrs[1:]
		if err != nil {
			return err
		}
	}
	g.verdicts = append(g.verdicts, verdict)
	return nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeCalls++
	return nil
}

func (g *fakeGateway) closeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeCalls
}

func (g *fakeGateway) snapshot() (readings []electricity.Reading, verdicts []electricity.AnomalyVerdict, verdictCalls int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]electricity.Reading(nil), g.readings...),
		append([]electricity.AnomalyVerdict(nil), g.verdicts...),
		g.verdictCalls
}

// readingIDFor returns the id assigned to the stored reading from
// device, or -1.
func (g *fakeGateway) readingIDFor(device string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	for index, reading := range g.readings {
		if reading.DeviceID == device {
			return 100 + int64(index)
		}
	}
	return -1
}

// fakeScorer delegates to score and counts calls.
type fakeScorer struct {
	mu    sync.Mutex
	calls int
	score func(ctx context.Context, reading electricity.Reading) ([]electricity.ModelResult, error)
}

func (s *fakeScorer) Score(ctx context.Context, reading electricity.Reading) ([]electricity.ModelResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.score(ctx, reading)
}

func (s *fakeScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func scoreAs(modelA, modelB electricity.Label) *fakeScorer {
	return &fakeScorer{score: func(context.Context, electricity.Reading) ([]electricity.ModelResult, error) {
		return []electricity.ModelResult{{IsolationForest: modelA, RandomForest: modelB}}, nil
	}}
}

func failScorer(err error) *fakeScorer {
	return &fakeScorer{score: func(context.Context, electricity.Reading) ([]electricity.ModelResult, error) {
		return nil, err
	}}
}

type pipelineOption func(*PipelineConfig)

func newTestPipeline(t *testing.T, gw Gateway, scorer Scorer, options ...pipelineOption) *Pipeline {
	t.Helper()
	cfg := PipelineConfig{
		Gateway:        gw,
		Scorer:         scorer,
		Topic:          topic.DefaultSchema(),
		PowerThreshold: DefaultPowerThreshold,
		Clock:          clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger:         slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(&cfg)
	}
	pipeline, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pipeline
}

func deviceTopic(device string) string {
	return "telemetry/site-a/building-2/floor-1/" + device + "/electricity"
}

func readingMessage(device string, power float64) transport.Message {
	return transport.Message{
		Topic: deviceTopic(device),
		Payload: []byte(fmt.Sprintf(
			`{"voltage":220,"current":1.2,"power":%g,"energy":10,"frequency":50,"power_factor":0.95}`, power)),
	}
}

var (
	errUnavailable = fmt.Errorf("%w: gateway: POST /api/electricity-anomaly/add: HTTP 503", gateway.ErrStorageUnavailable)
	errRejected    = fmt.Errorf("%w: gateway: HTTP 409: verdict exists", gateway.ErrStorageRejected)
)
