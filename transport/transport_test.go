// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"telemetry/#", "telemetry/site/a/b/DEV1/power", true},
		{"telemetry/#", "telemetry", true},
		{"telemetry/#", "other/site", false},
		{"#", "anything/at/all", true},
		{"telemetry/+/power", "telemetry/DEV1/power", true},
		{"telemetry/+/power", "telemetry/DEV1/energy", false},
		{"telemetry/+/power", "telemetry/DEV1/power/extra", false},
		{"telemetry/+", "telemetry", false},
		{"a/b", "a/b", true},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
	}
	for _, test := range tests {
		if got := MatchTopic(test.filter, test.topic); got != test.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", test.filter, test.topic, got, test.want)
		}
	}
}

func TestValidFilter(t *testing.T) {
	valid := []string{"#", "a/#", "a/+/c", "+", "a/b"}
	invalid := []string{"", "a/#/c", "a#", "a/b+", "#/a"}
	for _, filter := range valid {
		if !ValidFilter(filter) {
			t.Errorf("ValidFilter(%q) = false", filter)
		}
	}
	for _, filter := range invalid {
		if ValidFilter(filter) {
			t.Errorf("ValidFilter(%q) = true", filter)
		}
	}
}

func TestBrokerDelivers(t *testing.T) {
	broker := NewBroker()
	var received []Message
	if err := broker.Subscribe(context.Background(), "telemetry/#", func(message Message) {
		received = append(received, message)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	payload := []byte(`{"power":1}`)
	count, err := broker.Publish("telemetry/a/b/c/DEV1/data", payload)
	if err != nil || count != 1 {
		t.Fatalf("Publish = %d, %v", count, err)
	}
	if count, _ := broker.Publish("status/DEV1", payload); count != 0 {
		t.Errorf("unmatched topic delivered %d times", count)
	}

	if len(received) != 1 || received[0].Topic != "telemetry/a/b/c/DEV1/data" {
		t.Fatalf("received = %+v", received)
	}
	payload[0] = 'X'
	if string(received[0].Payload) != `{"power":1}` {
		t.Error("delivered payload aliases the publisher's buffer")
	}
}

func TestBrokerClose(t *testing.T) {
	broker := NewBroker()
	called := false
	_ = broker.Subscribe(context.Background(), "#", func(Message) { called = true })
	if err := broker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := broker.Publish("a", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if err := broker.Subscribe(context.Background(), "#", func(Message) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
	if called {
		t.Error("handler called after Close")
	}
}

func TestBrokerRejectsInvalidFilter(t *testing.T) {
	if err := NewBroker().Subscribe(context.Background(), "a/#/b", func(Message) {}); err == nil {
		t.Error("invalid filter accepted")
	}
}
