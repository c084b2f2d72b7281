// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultConnectTimeout = 10 * time.Second

	// disconnectQuiesce is how long Disconnect lets in-flight work
	// finish, in milliseconds.
	disconnectQuiesce = 250
)

// MQTTConfig configures an MQTTSubscriber.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883" or
	// "ssl://broker:8883". Required.
	Broker string

	// ClientID identifies this session to the broker. Required.
	ClientID string

	Username string
	Password string

	// QoS for subscriptions: 0, 1, or 2.
	QoS byte

	// ConnectTimeout bounds the initial connect. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// MQTTSubscriber is a Subscriber over an MQTT broker. The connection is
// opened by the first Subscribe. Subscriptions are re-established on
// every reconnect because the session is not persistent.
type MQTTSubscriber struct {
	client mqtt.Client
	config MQTTConfig
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]Handler
	closed        bool
}

var _ Subscriber = (*MQTTSubscriber)(nil)

// NewMQTTSubscriber validates cfg and builds the paho client without
// connecting.
func NewMQTTSubscriber(cfg MQTTConfig) (*MQTTSubscriber, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("transport: MQTT broker URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("transport: MQTT client id is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("transport: invalid QoS %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	subscriber := &MQTTSubscriber{
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]Handler),
	}

	options := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetOnConnectHandler(subscriber.onConnect).
		SetConnectionLostHandler(subscriber.onConnectionLost)
	if cfg.Username != "" {
		options.SetUsername(cfg.Username)
		options.SetPassword(cfg.Password)
	}
	subscriber.client = mqtt.NewClient(options)
	return subscriber, nil
}

func (s *MQTTSubscriber) Subscribe(ctx context.Context, filter string, handler Handler) error {
	if !ValidFilter(filter) {
		return fmt.Errorf("transport: invalid topic filter %q", filter)
	}
	if handler == nil {
		return fmt.Errorf("transport: nil handler for %q", filter)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.subscriptions[filter] = handler
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		// onConnect subscribes everything registered so far, including
		// filter.
		if err := waitToken(ctx, s.client.Connect(), s.config.ConnectTimeout); err != nil {
			return fmt.Errorf("transport: connecting to %s: %w", s.config.Broker, err)
		}
		return nil
	}
	if err := waitToken(ctx, s.client.Subscribe(filter, s.config.QoS, deliver(handler)), s.config.ConnectTimeout); err != nil {
		return fmt.Errorf("transport: subscribing to %q: %w", filter, err)
	}
	return nil
}

// Close unsubscribes and disconnects.
func (s *MQTTSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	filters := make([]string, 0, len(s.subscriptions))
	for filter := range s.subscriptions {
		filters = append(filters, filter)
	}
	s.subscriptions = map[string]Handler{}
	s.mu.Unlock()

	if s.client.IsConnectionOpen() && len(filters) > 0 {
		token := s.client.Unsubscribe(filters...)
		if !token.WaitTimeout(time.Second) {
			s.logger.Warn("MQTT unsubscribe timed out", "filters", filters)
		} else if err := token.Error(); err != nil {
			s.logger.Warn("MQTT unsubscribe failed", "error", err)
		}
	}
	s.client.Disconnect(disconnectQuiesce)
	return nil
}

func (s *MQTTSubscriber) onConnect(client mqtt.Client) {
	s.mu.Lock()
	handlers := make(map[string]Handler, len(s.subscriptions))
	for filter, handler := range s.subscriptions {
		handlers[filter] = handler
	}
	s.mu.Unlock()

	s.logger.Info("MQTT connected", "broker", s.config.Broker, "subscriptions", len(handlers))
	for filter, handler := range handlers {
		token := client.Subscribe(filter, s.config.QoS, deliver(handler))
		// Called on paho's connection goroutine; blocking on the token
		// here would deadlock.
		go func() {
			<-token.Done()
			if err := token.Error(); err != nil {
				s.logger.Error("MQTT subscribe failed", "filter", filter, "error", err)
			}
		}()
	}
}

func (s *MQTTSubscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("MQTT connection lost, reconnecting", "broker", s.config.Broker, "error", err)
}

// deliver adapts a Handler to paho's callback signature.
func deliver(handler Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, message mqtt.Message) {
		handler(Message{Topic: message.Topic(), Payload: message.Payload()})
	}
}

// waitToken waits for a paho token, honoring ctx and timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	}
}
