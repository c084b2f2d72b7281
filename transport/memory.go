// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed Broker.
var ErrClosed = errors.New("transport: closed")

var _ Subscriber = (*Broker)(nil)

// Broker is an in-process Subscriber. Publish delivers synchronously to
// every matching subscription on the caller's goroutine, so a test
// knows each handler has run when Publish returns.
type Broker struct {
	mu            sync.RWMutex
	subscriptions []subscription
	closed        bool
}

type subscription struct {
	filter  string
	handler Handler
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) Subscribe(_ context.Context, filter string, handler Handler) error {
	if !ValidFilter(filter) {
		return fmt.Errorf("transport: invalid topic filter %q", filter)
	}
	if handler == nil {
		return fmt.Errorf("transport: nil handler for %q", filter)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subscriptions = append(b.subscriptions, subscription{filter: filter, handler: handler})
	return nil
}

// Publish delivers payload to every subscription matching topic and
// returns the number of deliveries. The payload is copied per delivery.
func (b *Broker) Publish(topic string, payload []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	delivered := 0
	for _, sub := range b.subscriptions {
		if !MatchTopic(sub.filter, topic) {
			continue
		}
		sub.handler(Message{Topic: topic, Payload: append([]byte(nil), payload...)})
		delivered++
	}
	return delivered, nil
}

// Close drops all subscriptions. It waits for in-progress Publish calls
// to finish.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = nil
	return nil
}
