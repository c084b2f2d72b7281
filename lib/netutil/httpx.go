// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the small HTTP and socket helpers shared by the
// gateway client, the store server, and the status socket.
//
// Response readers are bounded at MaxResponseSize. Every JSON body
// wattwatch exchanges is a single reading, a verdict, or a status
// record, so the bound only matters when a misconfigured gateway URL
// points at something that streams.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON response body reads: 4 MB.
const MaxResponseSize int64 = 4 << 20

// MaxRequestSize bounds JSON request bodies accepted by the store
// server: 64 KB.
const MaxRequestSize int64 = 64 << 10

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (bounded) and JSON-decodes it
// into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}
