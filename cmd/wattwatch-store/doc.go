// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// wattwatch-store is the reference persistence gateway: an HTTP/JSON
// server over a sqlite database that stores readings and anomaly
// verdicts for wattwatch-ingest.
//
// Write endpoints:
//
//	POST /api/electricity/add             store a reading, returns its id
//	POST /api/electricity-anomaly/add     store a verdict for a reading
//
// Read endpoints:
//
//	GET /api/electricity/get/{id}             reading plus verdict, if any
//	GET /api/electricity/total/{metric}/get   sum of energy, power, or current
//	GET /api/electricity/total/{metric}/{period}  sums per day or month
//	GET /healthz
//
// Every JSON response uses the envelope {code, success, message, data}.
// A stored reading adds "id"; validation failures (422) add
// "errors": [{field, message}]. Exact duplicate readings and second
// verdicts for a reading are refused with 409; a verdict for an
// unknown reading with 404.
package main
