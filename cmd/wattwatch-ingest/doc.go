// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// wattwatch-ingest subscribes to device telemetry over MQTT and drives
// every message through the ingestion pipeline: decode, store the
// reading, score readings above the power threshold with the external
// scorer, and store any anomaly verdict against the reading's id.
//
// Besides the pipeline it serves:
//
//   - a CBOR "status" action on a Unix socket (service.status_socket),
//     queried by "wattwatch status";
//   - Prometheus metrics on /metrics and a liveness probe on /healthz
//     (service.metrics_listen).
//
// SIGINT or SIGTERM stops the subscription, waits up to
// pipeline.drain_timeout for in-flight messages to finish, then exits.
package main
