// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"

	"github.com/wattwatch/wattwatch/lib/schema/electricity"
)

var (
	// ErrBackpressure reports a message refused because max_pending
	// runs were in flight.
	ErrBackpressure = errors.New("ingest: backpressure")

	// ErrShuttingDown reports a message refused after Close began.
	ErrShuttingDown = errors.New("ingest: shutting down")
)

// State is a position in a message's state machine. Only Dropped,
// StoredOnly, and Done are terminal.
type State int

const (
	StateReceived State = iota
	StateDecoded
	StateStored
	StateScored
	StateCorrelated
	StateDone
	StateDropped
	StateStoredOnly
)

var stateNames = [...]string{
	StateReceived:   "received",
	StateDecoded:    "decoded",
	StateStored:     "stored",
	StateScored:     "scored",
	StateCorrelated: "correlated",
	StateDone:       "done",
	StateDropped:    "dropped",
	StateStoredOnly: "stored_only",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDropped || s == StateStoredOnly
}

// Reasons attached to Dropped and StoredOnly outcomes.
const (
	ReasonMalformedTopic     = "malformed_topic"
	ReasonMalformedPayload   = "malformed_payload"
	ReasonStorageRejected    = "storage_rejected"
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonBackpressure       = "backpressure"
	ReasonShuttingDown       = "shutting_down"

	ReasonBelowThreshold     = "below_threshold"
	ReasonScoringFailed      = "scoring_failed"
	ReasonScoringTimeout     = "scoring_timeout"
	ReasonScoringAborted     = "scoring_aborted"
	ReasonNoAnomaly          = "no_anomaly"
	ReasonVerdictRejected    = "verdict_rejected"
	ReasonVerdictUnavailable = "verdict_unavailable"
)

// Outcome is the result of one run.
type Outcome struct {
	RunID    string
	Topic    string
	DeviceID string
	State    State

	// Reason is empty for Done.
	Reason string

	// ReadingID is set once the reading is stored.
	ReadingID int64

	// Verdict is set when a verdict was stored.
	Verdict *electricity.AnomalyVerdict

	// Err is the failure behind a Dropped or StoredOnly outcome, nil
	// when the exit is a normal branch (below threshold, no anomaly).
	Err error
}
