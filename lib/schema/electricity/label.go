// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package electricity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Label is one model's classification of a reading.
type Label string

const (
	LabelAnomaly Label = "anomaly"
	LabelNormal  Label = "normal"
)

// IsAnomaly reports whether the label marks the reading anomalous.
func (l Label) IsAnomaly() bool { return l == LabelAnomaly }

// UnmarshalJSON accepts "anomaly" or "normal" in any case, and the
// isolation forest's raw prediction encoding: -1 for an outlier, 1 for
// an inlier. Anything else, including null, is an error.
func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		switch Label(strings.ToLower(strings.TrimSpace(text))) {
		case LabelAnomaly:
			*l = LabelAnomaly
		case LabelNormal:
			*l = LabelNormal
		default:
			return fmt.Errorf("unknown label %q", text)
		}
		return nil
	}

	var number float64
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("label must be a string or -1/1, got %s", data)
	}
	switch number {
	case -1:
		*l = LabelAnomaly
	case 1:
		*l = LabelNormal
	default:
		return fmt.Errorf("unknown numeric label %v", number)
	}
	return nil
}

// ModelResult is one record of scorer output. Both labels are
// required; a record that omits either is malformed.
type ModelResult struct {
	IsolationForest Label `json:"if_labels"`
	RandomForest    Label `json:"rf_labels"`
}

// UnmarshalJSON rejects records missing a label field.
func (r *ModelResult) UnmarshalJSON(data []byte) error {
	var fields struct {
		IsolationForest *Label `json:"if_labels"`
		RandomForest    *Label `json:"rf_labels"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields.IsolationForest == nil {
		return fmt.Errorf("record has no if_labels")
	}
	if fields.RandomForest == nil {
		return fmt.Errorf("record has no rf_labels")
	}
	r.IsolationForest = *fields.IsolationForest
	r.RandomForest = *fields.RandomForest
	return nil
}
