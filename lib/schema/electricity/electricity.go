// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package electricity

import (
	"errors"
	"fmt"
	"math"
)

// Measurements are the six electrical quantities a meter reports in
// one sample.
type Measurements struct {
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	Energy      float64 `json:"energy"`
	Frequency   float64 `json:"frequency"`
	PowerFactor float64 `json:"power_factor"`
}

// FieldNames lists the measurement fields in wire order. Decoders and
// validators iterate this list so a missing field is reported by its
// wire name.
var FieldNames = []string{"voltage", "current", "power", "energy", "frequency", "power_factor"}

// Values returns the measurements in FieldNames order.
func (m Measurements) Values() [6]float64 {
	return [6]float64{m.Voltage, m.Current, m.Power, m.Energy, m.Frequency, m.PowerFactor}
}

// Validate reports the first non-finite measurement.
func (m Measurements) Validate() error {
	for i, value := range m.Values() {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%s is not finite", FieldNames[i])
		}
	}
	return nil
}

// Reading is one telemetry sample attributed to the device that
// published it. It marshals flat: the measurement fields plus
// device_id.
type Reading struct {
	Measurements
	DeviceID string `json:"device_id"`
}

// Validate checks the reading invariants: every measurement finite and
// a non-empty device identifier.
func (r Reading) Validate() error {
	if r.DeviceID == "" {
		return errors.New("device_id is empty")
	}
	return r.Measurements.Validate()
}

// StoredReadingRef identifies a reading after the persistence gateway
// accepted it.
type StoredReadingRef struct {
	ReadingID int64 `json:"id"`
}

// AnomalyVerdict is a positive anomaly determination for one stored
// reading. Model A is the isolation forest, model B the random forest.
// A verdict with neither flag set is never constructed.
type AnomalyVerdict struct {
	ReadingID       int64 `json:"data_id"`
	FlaggedByModelA bool  `json:"if_labels_anomaly"`
	FlaggedByModelB bool  `json:"rf_labels_anomaly"`
}

// ScoringRequest is the single JSON object written to the scorer's
// stdin.
type ScoringRequest struct {
	Data     Measurements `json:"data"`
	DeviceID string       `json:"device_id"`
}

// NewScoringRequest builds the scorer input for a reading.
func NewScoringRequest(reading Reading) ScoringRequest {
	return ScoringRequest{Data: reading.Measurements, DeviceID: reading.DeviceID}
}
