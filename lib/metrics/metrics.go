// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors for the ingestion
// pipeline. All methods are safe on a nil *Pipeline, so components
// built without metrics need no conditionals.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wattwatch"

// Pipeline groups the ingestion pipeline's collectors.
type Pipeline struct {
	messages        *prometheus.CounterVec
	scoringDuration *prometheus.HistogramVec
	gatewayDuration *prometheus.HistogramVec
	verdictRetries  prometheus.Counter
	inFlight        prometheus.Gauge
	scoringInFlight prometheus.Gauge
}

// NewPipeline creates the pipeline collectors and registers them with
// registerer. A nil registerer leaves them unregistered, which tests
// use to read values without a global registry.
func NewPipeline(registerer prometheus.Registerer) *Pipeline {
	pipeline := &Pipeline{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Transport messages by terminal outcome and reason.",
		}, []string{"outcome", "reason"}),
		scoringDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_seconds",
			Help:      "Wall time of one scorer process run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of persistence gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operation", "result"}),
		verdictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdict_retries_total",
			Help:      "StoreVerdict attempts repeated after a transient failure.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Admitted messages that have not reached a terminal state.",
		}),
		scoringInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scoring_in_flight",
			Help:      "Scorer processes currently running.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(pipeline.Collectors()...)
	}
	return pipeline
}

// Collectors returns every collector in the group.
func (p *Pipeline) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.messages, p.scoringDuration, p.gatewayDuration,
		p.verdictRetries, p.inFlight, p.scoringInFlight,
	}
}

// ObserveOutcome counts one message reaching a terminal state.
func (p *Pipeline) ObserveOutcome(outcome, reason string) {
	if p == nil {
		return
	}
	p.messages.WithLabelValues(outcome, reason).Inc()
}

// ObserveScoring records one scorer run. result is "ok", "failed", or
// "timeout".
func (p *Pipeline) ObserveScoring(result string, duration time.Duration) {
	if p == nil {
		return
	}
	p.scoringDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveGateway records one gateway call. operation is
// "store_reading" or "store_verdict".
func (p *Pipeline) ObserveGateway(operation, result string, duration time.Duration) {
	if p == nil {
		return
	}
	p.gatewayDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// VerdictRetry counts one StoreVerdict attempt repeated after a
// transient failure.
func (p *Pipeline) VerdictRetry() {
	if p == nil {
		return
	}
	p.verdictRetries.Inc()
}

// SetInFlight sets the number of admitted, unfinished runs.
func (p *Pipeline) SetInFlight(n int64) {
	if p == nil {
		return
	}
	p.inFlight.Set(float64(n))
}

// SetScoringInFlight sets the number of running scorer processes.
func (p *Pipeline) SetScoringInFlight(n int64) {
	if p == nil {
		return
	}
	p.scoringInFlight.Set(float64(n))
}
