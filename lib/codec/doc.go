// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR encoding used on wattwatch's local Unix
// sockets (the ingest daemon's status action and the CLI that queries
// it). It fixes one encoder configuration, Core Deterministic Encoding,
// so identical values always produce identical bytes, and one decoder
// configuration that maps untyped CBOR maps to map[string]any.
//
// Callers import this package rather than fxamacker/cbor directly.
package codec
