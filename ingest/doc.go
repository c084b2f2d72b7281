// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest drives transport messages through the ingestion
// pipeline.
//
// [Pipeline.Process] runs one message through its state machine:
//
//	Received → Decoded → Stored → threshold gate → Scored → Correlated → Done
//
// with early exits to Dropped (undecodable message, reading refused by
// the gateway) and StoredOnly (power at or below the threshold, scorer
// failure, no model flagged the reading, verdict not stored). Every run
// ends in exactly one terminal [State] and emits exactly one terminal
// log record.
//
// [Dispatcher] sits between the transport and the pipeline. It admits
// each message onto its own goroutine unless max_pending runs are
// already in flight, in which case the message is dropped with reason
// "backpressure". Runs share only the gateway client and the scorer
// slot semaphore. Close stops admission and drains in-flight runs.
package ingest
