// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wattwatch/wattwatch/lib/netutil"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
)

var (
	// ErrStorageUnavailable reports a transient gateway failure. The
	// same request may succeed later.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageRejected reports a request the gateway refused.
	// Retrying it unchanged will not help.
	ErrStorageRejected = errors.New("storage rejected")
)

const (
	DefaultReadingPath    = "/api/electricity/add"
	DefaultVerdictPath    = "/api/electricity-anomaly/add"
	DefaultRequestTimeout = 10 * time.Second
)

// StoreError carries the gateway's response for a failed request. It
// unwraps to ErrStorageUnavailable or ErrStorageRejected.
type StoreError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string

	kind error
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *StoreError) Unwrap() error { return e.kind }

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the gateway root, e.g. "http://localhost:3000".
	// Required.
	BaseURL string

	// ReadingPath and VerdictPath default to DefaultReadingPath and
	// DefaultVerdictPath.
	ReadingPath string
	VerdictPath string

	// HTTPClient is used for all requests. Nil means a client with
	// Timeout as its overall request timeout.
	HTTPClient *http.Client

	// Timeout bounds each request when HTTPClient is nil. Zero means
	// DefaultRequestTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Client talks to the persistence gateway. Safe for concurrent use.
type Client struct {
	baseURL     string
	readingPath string
	verdictPath string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway: BaseURL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("gateway: BaseURL %q must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		readingPath: pathOrDefault(cfg.ReadingPath, DefaultReadingPath),
		verdictPath: pathOrDefault(cfg.VerdictPath, DefaultVerdictPath),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Close releases the client's idle connections. Calls in progress are
// not interrupted; the Client stays usable and dials again if called.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func pathOrDefault(path, fallback string) string {
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// readingResponse is the gateway's envelope for a stored reading. The
// id is decoded as a json.Number so a missing or non-integer id can be
// told apart from id 0.
type readingResponse struct {
	Success *bool       `json:"success"`
	Message string      `json:"message"`
	ID      json.Number `json:"id"`
}

// errorResponse is the failure envelope. Field errors are folded into
// the StoreError message.
type errorResponse struct {
	Message string `json:"message"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

// StoreReading persists reading and returns the gateway-assigned id.
func (c *Client) StoreReading(ctx context.Context, reading electricity.Reading) (electricity.StoredReadingRef, error) {
	body, err := c.post(ctx, c.readingPath, reading)
	if err != nil {
		return electricity.StoredReadingRef{}, err
	}

	var response readingResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&response); err != nil {
		return electricity.StoredReadingRef{}, fmt.Errorf("%w: gateway: decoding %s response: %v",
			ErrStorageUnavailable, c.readingPath, err)
	}
	if response.Success != nil && !*response.Success {
		return electricity.StoredReadingRef{}, &StoreError{
			Method: http.MethodPost, Path: c.readingPath, StatusCode: http.StatusOK,
			Message: response.Message, kind: ErrStorageRejected,
		}
	}
	if response.ID == "" {
		return electricity.StoredReadingRef{}, fmt.Errorf("%w: gateway: %s response has no id",
			ErrStorageUnavailable, c.readingPath)
	}
	id, err := response.ID.Int64()
	if err != nil {
		return electricity.StoredReadingRef{}, fmt.Errorf("%w: gateway: %s response id %q is not an integer",
			ErrStorageUnavailable, c.readingPath, response.ID)
	}
	return electricity.StoredReadingRef{ReadingID: id}, nil
}

// StoreVerdict persists an anomaly verdict for a stored reading.
func (c *Client) StoreVerdict(ctx context.Context, verdict electricity.AnomalyVerdict) error {
	_, err := c.post(ctx, c.verdictPath, verdict)
	return err
}

// post sends requestBody as JSON and returns the 2xx response body.
// Non-2xx responses and transport failures come back classified.
func (c *Client) post(ctx context.Context, path string, requestBody any) ([]byte, error) {
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway: encoding request body: %v", ErrStorageRejected, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: gateway: creating request: %v", ErrStorageRejected, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	started := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway: POST %s: %v", ErrStorageUnavailable, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway: reading %s response: %v", ErrStorageUnavailable, path, err)
	}
	// Drain anything past the bound so the connection can be reused.
	_, _ = io.Copy(io.Discard, response.Body)

	c.logger.Debug("gateway request",
		"path", path,
		"status", response.StatusCode,
		"duration", time.Since(started),
	)

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return nil, &StoreError{
		Method:     http.MethodPost,
		Path:       path,
		StatusCode: response.StatusCode,
		Message:    errorMessage(responseBody),
		kind:       classifyStatus(response.StatusCode),
	}
}

// classifyStatus maps a non-2xx status to its failure class.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ErrStorageUnavailable
	case status >= 400 && status < 500:
		return ErrStorageRejected
	default:
		// 5xx, and 1xx/3xx that the client did not resolve.
		return ErrStorageUnavailable
	}
}

// errorMessage extracts a diagnostic from an error body: the JSON
// envelope's message and field errors when present, otherwise the
// trimmed raw body.
func errorMessage(body []byte) string {
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && (envelope.Message != "" || len(envelope.Errors) > 0) {
		message := envelope.Message
		for _, fieldErr := range envelope.Errors {
			if message != "" {
				message += "; "
			}
			message += fieldErr.Field + ": " + fieldErr.Message
		}
		return message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256] + "..."
	}
	return text
}
