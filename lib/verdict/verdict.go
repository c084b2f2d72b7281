// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package verdict turns scorer output into the anomaly record that is
// persisted against a stored reading.
//
// Only positive results are recorded. When no model labels the reading
// anomalous, Correlate returns ok=false and nothing is stored: the
// absence of an anomaly row is how "normal" is represented.
package verdict

import "github.com/wattwatch/wattwatch/lib/schema/electricity"

// Correlate folds the per-record model results into one verdict for the
// reading identified by ref. A model counts as flagging the reading if
// any record labels it "anomaly".
func Correlate(results []electricity.ModelResult, ref electricity.StoredReadingRef) (electricity.AnomalyVerdict, bool) {
	var modelA, modelB bool
	for _, result := range results {
		modelA = modelA || result.IsolationForest.IsAnomaly()
		modelB = modelB || result.RandomForest.IsAnomaly()
	}
	if !modelA && !modelB {
		return electricity.AnomalyVerdict{}, false
	}
	return electricity.AnomalyVerdict{
		ReadingID:       ref.ReadingID,
		FlaggedByModelA: modelA,
		FlaggedByModelB: modelB,
	}, true
}
