// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for the ingestion
// pipeline. Anything that waits (verdict retry backoff) or stamps a
// time (run start, daemon uptime) takes a Clock instead of calling the
// time package, so tests can drive retries deterministically.
//
// Production wiring uses Real(). Tests use Fake(epoch) and step time
// forward with Advance once the code under test has registered its
// wait:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go pipeline.Process(ctx, message)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(250 * time.Millisecond)
//
// Subprocess timeouts are not routed through Clock: they are enforced
// by context deadlines because the kernel, not the pipeline, owns the
// process being timed.
package clock
