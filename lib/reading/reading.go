// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package reading decodes transport payloads into validated readings.
//
// A payload is a JSON object carrying the six measurement fields named
// in [electricity.FieldNames]. Values may be JSON numbers or strings
// holding a decimal number; meter firmware emits both. Unknown fields
// are ignored. Decoding is pure: no I/O, no shared state.
package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/wattwatch/wattwatch/lib/schema/electricity"
)

// ErrMalformedPayload reports a payload that is not a JSON object or
// lacks a usable measurement.
var ErrMalformedPayload = errors.New("malformed payload")

// FieldError names the measurement that made a payload unusable.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q %s", ErrMalformedPayload, e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrMalformedPayload) hold.
func (e *FieldError) Unwrap() error { return ErrMalformedPayload }

// Decode parses payload into a Reading attributed to deviceID. Every
// error wraps ErrMalformedPayload; field-level problems are a
// *FieldError.
func Decode(payload []byte, deviceID string) (electricity.Reading, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return electricity.Reading{}, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return electricity.Reading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var values [6]float64
	for i, name := range electricity.FieldNames {
		raw, present := fields[name]
		if !present {
			return electricity.Reading{}, &FieldError{Field: name, Reason: "is missing"}
		}
		value, err := parseNumber(raw)
		if err != nil {
			return electricity.Reading{}, &FieldError{Field: name, Reason: err.Error()}
		}
		values[i] = value
	}

	reading := electricity.Reading{
		Measurements: electricity.Measurements{
			Voltage:     values[0],
			Current:     values[1],
			Power:       values[2],
			Energy:      values[3],
			Frequency:   values[4],
			PowerFactor: values[5],
		},
		DeviceID: deviceID,
	}
	if deviceID == "" {
		return electricity.Reading{}, fmt.Errorf("%w: no device identifier", ErrMalformedPayload)
	}
	return reading, nil
}

// parseNumber accepts a JSON number or a JSON string holding one. The
// result is always finite.
func parseNumber(raw json.RawMessage) (float64, error) {
	text := string(bytes.TrimSpace(raw))
	if len(text) > 0 && text[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0, fmt.Errorf("is not a valid string")
		}
		text = unquoted
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("is not numeric (%s)", raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("is not finite (%s)", raw)
	}
	return value, nil
}
