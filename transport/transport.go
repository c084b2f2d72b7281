// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
)

// Message is one delivery from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives messages matching a subscription. It must return
// promptly.
type Handler func(Message)

// Subscriber delivers messages matching a topic filter to a handler.
type Subscriber interface {
	// Subscribe registers handler for filter. Delivery starts before
	// Subscribe returns and continues until Close.
	Subscribe(ctx context.Context, filter string, handler Handler) error

	// Close stops delivery and releases the connection. After Close
	// returns no handler is called again.
	Close() error
}

// MatchTopic reports whether topic matches an MQTT topic filter.
func MatchTopic(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for index, level := range filterLevels {
		if level == "#" {
			// "#" also matches the parent level itself: "a/#" matches "a".
			return index == len(filterLevels)-1
		}
		if index >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[index] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}

// ValidFilter reports whether filter is a well-formed MQTT topic
// filter: non-empty, "#" only as the whole last level, "+" only as a
// whole level.
func ValidFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for index, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || index != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}
