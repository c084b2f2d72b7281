// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package topic extracts device identity from transport topics.
//
// Meters publish on hierarchical topics such as
//
//	telemetry/site-a/building-2/floor-1/DEV1/electricity
//
// where a fixed segment, counted from zero, names the device. The
// position is a property of the deployment's topic layout and is
// configured once; everything before and after it is ignored.
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTopic reports a topic that does not match the layout:
// too few segments, or an empty device segment.
var ErrMalformedTopic = errors.New("malformed topic")

// DefaultDeviceSegment is the device position in the standard layout
// <root>/<site>/<building>/<floor>/<device>/...
const DefaultDeviceSegment = 4

// Schema describes where the device identifier sits in a topic.
type Schema struct {
	// DeviceSegment is the zero-based index of the device segment.
	DeviceSegment int
}

// DefaultSchema returns the standard layout.
func DefaultSchema() Schema {
	return Schema{DeviceSegment: DefaultDeviceSegment}
}

// DeviceID returns the device identifier encoded in topic. The error
// wraps ErrMalformedTopic.
func (s Schema) DeviceID(topic string) (string, error) {
	if s.DeviceSegment < 0 {
		return "", fmt.Errorf("%w: negative device segment %d", ErrMalformedTopic, s.DeviceSegment)
	}
	segments := strings.Split(topic, "/")
	if len(segments) <= s.DeviceSegment {
		return "", fmt.Errorf("%w: %q has %d segments, device is segment %d",
			ErrMalformedTopic, topic, len(segments), s.DeviceSegment)
	}
	device := segments[s.DeviceSegment]
	if device == "" {
		return "", fmt.Errorf("%w: %q has an empty device segment", ErrMalformedTopic, topic)
	}
	return device, nil
}
