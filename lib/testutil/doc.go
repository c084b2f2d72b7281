// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for wattwatch packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never hang on a pipeline that failed to reach a
// terminal state. They are the only place tests use real wall-clock
// timeouts; everything the pipeline itself waits on goes through
// lib/clock.
//
// [WriteScript] writes an executable shell script into a test's temp
// directory. Scorer tests use it to stand in for the external anomaly
// scoring process with a script that prints fixed output, exits
// non-zero, or hangs.
//
// [SocketDir] returns a short directory for Unix sockets, whose paths
// are limited to 108 bytes.
//
// [UniqueID] produces distinct device identifiers across parallel
// tests.
package testutil
