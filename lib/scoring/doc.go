// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package scoring runs the external anomaly scorer for one reading.
//
// Each call to [Invoker.Score] starts a fresh scorer process, writes a
// single JSON [electricity.ScoringRequest] to its stdin, closes stdin,
// and reads stdout to EOF. The scorer must exit zero and print a JSON
// array of records, each carrying an if_labels and an rf_labels field.
// No process state is shared between calls, and Score never retries.
//
// The scorer runs in its own process group. When the per-call timeout
// expires (or the caller's context is cancelled) the whole group is
// sent SIGKILL, so helper processes the scorer forked die with it and
// cannot keep the output pipes open.
//
// Failures are reported as [ErrScoringFailed] (non-zero exit, no
// output, unparseable output) or [ErrScoringTimeout]. Both mean the
// same thing to the pipeline: no verdict for this reading.
package scoring
