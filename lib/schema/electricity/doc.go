// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package electricity defines the value types that flow through the
// ingestion pipeline and the JSON shapes they take on the wire.
//
// A [Reading] is built once per transport message by the reading
// decoder and never mutated afterwards. Storing it yields a
// [StoredReadingRef]; scoring it yields one [ModelResult] per record
// the scorer prints; a positive result yields an [AnomalyVerdict]
// bound to the stored reading's identifier. Nothing in the pipeline
// shares these values between messages.
//
// JSON field names follow the persistence gateway's existing HTTP
// contract (voltage, power_factor, data_id, if_labels_anomaly, ...), so
// the same structs are the request bodies.
package electricity
