// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable [Load] reads the config path
// from.
const EnvVar = "WATTWATCH_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration shared by the wattwatch binaries.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	Sections `yaml:",inline"`

	// Per-environment overrides, decoded over Sections after the base
	// file is loaded. Only keys present in the override replace base
	// values.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds one environment's override section as written. Its
// keys are checked against [Sections] when the environment is
// selected, not while the base file is decoded.
type Overrides struct {
	node *yaml.Node
}

// UnmarshalYAML keeps the raw node. A custom unmarshaler is not subject
// to the strict decoder's field checks, which would otherwise reject
// every key under the section.
func (o *Overrides) UnmarshalYAML(value *yaml.Node) error {
	o.node = value
	return nil
}

// Sections holds every configurable section. It is also the shape of
// an environment override.
type Sections struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Topic    TopicConfig    `yaml:"topic"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Service  ServiceConfig  `yaml:"service"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig configures the broker subscription of the ingest daemon.
type MQTTConfig struct {
	// Broker is the broker URL (tcp://, ssl://, ws://, wss://,
	// mqtt://, or mqtts://).
	Broker string `yaml:"broker"`

	// ClientID identifies this subscriber to the broker.
	ClientID string `yaml:"client_id"`

	// Username is sent when non-empty.
	Username string `yaml:"username"`

	// PasswordFile holds the broker password. The password never
	// appears in the config file itself.
	PasswordFile string `yaml:"password_file"`

	// Topic is the subscription filter, usually ending in "#".
	Topic string `yaml:"topic"`

	// QoS is the subscription quality of service (0, 1, or 2).
	QoS int `yaml:"qos"`

	// ConnectTimeout bounds the initial connect and subscribe.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// TopicConfig describes where the device id sits in a topic.
type TopicConfig struct {
	// DeviceSegment is the 0-based index of the device id segment.
	DeviceSegment int `yaml:"device_segment"`
}

// GatewayConfig locates the persistence gateway.
type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ReadingPath    string        `yaml:"reading_path"`
	VerdictPath    string        `yaml:"verdict_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ScoringConfig configures the external scoring process.
type ScoringConfig struct {
	// Command is the scorer argv. The first element is resolved
	// through PATH when it has no slash.
	Command []string `yaml:"command"`

	// Dir is the scorer's working directory. Empty means the
	// daemon's working directory.
	Dir string `yaml:"dir"`

	// Timeout bounds one invocation.
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency caps simultaneously running scorer processes.
	Concurrency int `yaml:"concurrency"`

	// PowerThreshold is the gate: only readings with power strictly
	// greater than this value are scored.
	PowerThreshold float64 `yaml:"power_threshold"`
}

// PipelineConfig configures admission and verdict retry.
type PipelineConfig struct {
	// MaxPending is the number of in-flight message runs beyond which
	// new messages are dropped for backpressure.
	MaxPending int `yaml:"max_pending"`

	// VerdictAttempts is the total number of StoreVerdict attempts.
	VerdictAttempts int `yaml:"verdict_attempts"`

	// VerdictBackoff is the delay before the first retry; it doubles
	// on every further retry up to VerdictMaxBackoff.
	VerdictBackoff    time.Duration `yaml:"verdict_backoff"`
	VerdictMaxBackoff time.Duration `yaml:"verdict_max_backoff"`

	// DrainTimeout bounds graceful shutdown. In-flight runs still
	// running when it expires are cancelled.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// ServiceConfig configures the ingest daemon's local surfaces.
type ServiceConfig struct {
	// StatusSocket is the Unix socket serving the "status" action.
	StatusSocket string `yaml:"status_socket"`

	// MetricsListen is the address of the /metrics and /healthz
	// listener. Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`
}

// StoreConfig configures the reference persistence gateway server.
type StoreConfig struct {
	Listen   string `yaml:"listen"`
	Database string `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the default configuration. File values are decoded
// over it.
func Default() *Config {
	return &Config{
		Environment: Development,
		Sections: Sections{
			MQTT: MQTTConfig{
				Broker:         "tcp://localhost:1883",
				ClientID:       "wattwatch-ingest",
				Topic:          "telemetry/#",
				QoS:            0,
				ConnectTimeout: 10 * time.Second,
			},
			Topic: TopicConfig{
				DeviceSegment: 4,
			},
			Gateway: GatewayConfig{
				BaseURL:        "http://localhost:3000",
				ReadingPath:    "/api/electricity/add",
				VerdictPath:    "/api/electricity-anomaly/add",
				RequestTimeout: 10 * time.Second,
			},
			Scoring: ScoringConfig{
				Command:        []string{"python3", "Energy_IDS_Predict.py"},
				Timeout:        5 * time.Second,
				Concurrency:    4,
				PowerThreshold: 0.5,
			},
			Pipeline: PipelineConfig{
				MaxPending:        64,
				VerdictAttempts:   3,
				VerdictBackoff:    250 * time.Millisecond,
				VerdictMaxBackoff: 2 * time.Second,
				DrainTimeout:      30 * time.Second,
			},
			Service: ServiceConfig{
				StatusSocket:  "/run/wattwatch/ingest.sock",
				MetricsListen: "127.0.0.1:9464",
			},
			Store: StoreConfig{
				Listen:   "127.0.0.1:3000",
				Database: "/var/lib/wattwatch/readings.db",
				PoolSize: 4,
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// Load loads configuration from the WATTWATCH_CONFIG environment
// variable. There is no fallback: if the variable is not set, Load
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your wattwatch.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// override section for the selected environment, and expands
// variables. It does not validate; call [Config.Validate].
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration from YAML bytes. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// An empty document leaves the defaults untouched.
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides decodes the selected environment's section
// over the base sections, with the same unknown-key checks as the base
// file.
func (c *Config) applyEnvironmentOverrides() error {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil || overrides.node == nil {
		return nil
	}
	node := overrides.node
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%s overrides: expected a mapping", c.Environment)
	}

	known := map[string]bool{
		"mqtt": true, "topic": true, "gateway": true, "scoring": true,
		"pipeline": true, "service": true, "store": true, "logging": true,
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !known[key] {
			return fmt.Errorf("%s overrides: unknown section %q", c.Environment, key)
		}
	}

	// Node.Decode has no strict mode, so the section goes back through
	// a strict decoder. Decoding into the populated Sections leaves
	// fields the override does not name untouched.
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("%s overrides: %w", c.Environment, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c.Sections); err != nil {
		return fmt.Errorf("%s overrides: %w", c.Environment, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path-like fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.MQTT.PasswordFile = expandVars(c.MQTT.PasswordFile, vars)
	c.Service.StatusSocket = expandVars(c.Service.StatusSocket, vars)
	c.Store.Database = expandVars(c.Store.Database, vars)
	c.Scoring.Dir = expandVars(c.Scoring.Dir, vars)
	for i, arg := range c.Scoring.Command {
		c.Scoring.Command[i] = expandVars(arg, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// brokerSchemes are the URL schemes the MQTT client accepts.
var brokerSchemes = []string{"tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	} else if parsed, err := url.Parse(c.MQTT.Broker); err != nil || !contains(brokerSchemes, parsed.Scheme) || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker %q must be a URL with scheme one of %v", c.MQTT.Broker, brokerSchemes))
	}
	if c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", c.MQTT.QoS))
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("mqtt.connect_timeout must be positive"))
	}

	if c.Topic.DeviceSegment < 0 {
		errs = append(errs, fmt.Errorf("topic.device_segment must not be negative, got %d", c.Topic.DeviceSegment))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.base_url is required"))
	} else if parsed, err := url.Parse(c.Gateway.BaseURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url %q must be an http or https URL", c.Gateway.BaseURL))
	}
	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, errors.New("gateway.request_timeout must be positive"))
	}

	if len(c.Scoring.Command) == 0 || strings.TrimSpace(c.Scoring.Command[0]) == "" {
		errs = append(errs, errors.New("scoring.command is required"))
	}
	if c.Scoring.Timeout <= 0 {
		errs = append(errs, errors.New("scoring.timeout must be positive"))
	}
	if c.Scoring.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("scoring.concurrency must be positive, got %d", c.Scoring.Concurrency))
	}

	if c.Pipeline.MaxPending <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_pending must be positive, got %d", c.Pipeline.MaxPending))
	}
	if c.Pipeline.VerdictAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.verdict_attempts must be at least 1, got %d", c.Pipeline.VerdictAttempts))
	}
	if c.Pipeline.VerdictBackoff <= 0 {
		errs = append(errs, errors.New("pipeline.verdict_backoff must be positive"))
	}
	if c.Pipeline.VerdictMaxBackoff < c.Pipeline.VerdictBackoff {
		errs = append(errs, errors.New("pipeline.verdict_max_backoff must not be below pipeline.verdict_backoff"))
	}
	if c.Pipeline.DrainTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.drain_timeout must be positive"))
	}

	if c.Service.StatusSocket == "" {
		errs = append(errs, errors.New("service.status_socket is required"))
	}

	if c.Store.Listen == "" {
		errs = append(errs, errors.New("store.listen is required"))
	}
	if c.Store.Database == "" {
		errs = append(errs, errors.New("store.database is required"))
	}
	if c.Store.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("store.pool_size must be positive, got %d", c.Store.PoolSize))
	}

	levels := []string{"debug", "info", "warn", "warning", "error"}
	if !contains(levels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels[:4]))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MQTTPassword reads the broker password from MQTT.PasswordFile.
// Returns "" when no file is configured. Trailing whitespace is
// stripped.
func (c *Config) MQTTPassword() (string, error) {
	if c.MQTT.PasswordFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.MQTT.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("reading mqtt.password_file: %w", err)
	}
	password := strings.TrimRight(string(data), " \t\r\n")
	if password == "" {
		return "", fmt.Errorf("mqtt.password_file %s is empty", c.MQTT.PasswordFile)
	}
	return password, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
