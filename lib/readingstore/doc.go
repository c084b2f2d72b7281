// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package readingstore is the SQLite storage behind the reference
// persistence gateway (cmd/wattwatch-store).
//
// Readings are unique by fingerprint: a keyed BLAKE3 hash of the
// device id and the six measurement values, so a meter that repeats an
// identical sample gets [ErrDuplicate] instead of a second row. Anomaly
// verdicts live in their own table keyed by reading id; a reading has
// at most one, and only positive verdicts are ever written.
package readingstore
