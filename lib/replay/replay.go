// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay loads recorded transport traffic for the replay
// command and for end-to-end tests.
//
// A fixture is JSONC (JSON with // and /* */ comments and trailing
// commas):
//
//	{
//	  "messages": [
//	    // normal reading, scored
//	    {"topic": "telemetry/site/b/f/DEV1/electricity",
//	     "payload": {"voltage": 220, "current": 1.2, "power": 0.6,
//	                 "energy": 10, "frequency": 50, "power_factor": 0.95}},
//	    // raw bytes, for malformed-payload cases
//	    {"topic": "telemetry/site/b/f/DEV2/electricity", "payload_text": "voltage=220"},
//	    {"topic": "telemetry/site/b/f/DEV3/electricity", "payload": {...}, "repeat": 5},
//	  ],
//	}
//
// Files ending in .zst or .lz4 are decompressed (zstd, LZ4 frame)
// before parsing.
package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tidwall/jsonc"

	"github.com/wattwatch/wattwatch/transport"
)

// maxFixtureSize bounds a decompressed fixture: 64 MB.
const maxFixtureSize = 64 << 20

// maxRepeat bounds a single entry's repeat count.
const maxRepeat = 100000

// Entry is one fixture record. Exactly one of Payload and PayloadText
// is set.
type Entry struct {
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PayloadText *string         `json:"payload_text,omitempty"`
	Repeat      int             `json:"repeat,omitempty"`
}

// Fixture is the file's top-level object.
type Fixture struct {
	Messages []Entry `json:"messages"`
}

// Parse decodes JSONC fixture data into messages, expanding repeats.
func Parse(data []byte) ([]transport.Message, error) {
	var fixture Fixture
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}

	var messages []transport.Message
	for index, entry := range fixture.Messages {
		if entry.Topic == "" {
			return nil, fmt.Errorf("message %d: topic is required", index)
		}
		hasPayload := len(entry.Payload) > 0
		if hasPayload == (entry.PayloadText != nil) {
			return nil, fmt.Errorf("message %d: exactly one of payload and payload_text is required", index)
		}
		if entry.Repeat < 0 || entry.Repeat > maxRepeat {
			return nil, fmt.Errorf("message %d: repeat %d out of range [0, %d]", index, entry.Repeat, maxRepeat)
		}

		payload := []byte(entry.Payload)
		if !hasPayload {
			payload = []byte(*entry.PayloadText)
		}
		count := max(entry.Repeat, 1)
		for range count {
			messages = append(messages, transport.Message{
				Topic:   entry.Topic,
				Payload: append([]byte(nil), payload...),
			})
		}
	}
	return messages, nil
}

// Load reads and parses the fixture at path, decompressing by
// extension.
func Load(path string) ([]transport.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fixture: %w", err)
	}
	defer file.Close()

	data, err := Read(file, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	messages, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return messages, nil
}

// Read returns the decompressed contents of r. extension selects the
// codec: ".zst", ".lz4", or anything else for plain text.
func Read(r io.Reader, extension string) ([]byte, error) {
	var source io.Reader
	switch strings.ToLower(extension) {
	case ".zst", ".zstd":
		decoder, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(maxFixtureSize))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer decoder.Close()
		source = decoder
	case ".lz4":
		source = lz4.NewReader(r)
	default:
		source = r
	}

	data, err := io.ReadAll(io.LimitReader(source, maxFixtureSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	if len(data) > maxFixtureSize {
		return nil, fmt.Errorf("fixture exceeds %d bytes", maxFixtureSize)
	}
	return data, nil
}
