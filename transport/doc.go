// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport delivers telemetry messages from the pub/sub bus
// to the ingestion pipeline.
//
// A [Subscriber] registers a [Handler] for a topic filter; every
// matching message arrives as a [Message] carrying its topic and raw
// payload. Handlers run on the subscriber's delivery goroutine and
// must not block: the ingest dispatcher hands each message to its own
// goroutine and returns immediately.
//
// [MQTTSubscriber] is the production implementation over an MQTT
// broker (eclipse paho). It reconnects automatically and re-establishes
// its subscriptions on every connect. [Broker] is an in-process
// implementation used by tests and by fixture replay; it applies the
// same topic filter rules as MQTT ("+" matches one level, a trailing
// "#" matches the rest).
package transport
