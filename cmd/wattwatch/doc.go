// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Wattwatch is the operator tool for the ingestion pipeline.
//
//	wattwatch status [--socket PATH] [--json]
//	wattwatch replay [--config FILE] [--strict] [--json] FIXTURE
//	wattwatch score [--config FILE] --device ID [--json] PAYLOAD_FILE
//	wattwatch version
//
// status asks a running wattwatch-ingest for its counters over the
// status socket. replay feeds a fixture file through a pipeline built
// from the daemon config, with an in-process bus standing in for the
// broker, and prints how each message ended. score runs the configured
// scorer once on a payload file and prints the verdict that would be
// stored.
//
// Config files are found as for the daemon: --config, or the
// WATTWATCH_CONFIG environment variable.
package main
