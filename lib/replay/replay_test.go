// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const fixtureText = `{
	// two devices, one malformed
	"messages": [
		{"topic": "telemetry/s/b/f/DEV1/electricity",
		 "payload": {"voltage": 220, "current": 1.2, "power": 0.6, "energy": 10, "frequency": 50, "power_factor": 0.95}},
		/* raw payload */
		{"topic": "telemetry/s/b/f/DEV2/electricity", "payload_text": "voltage=220"},
		{"topic": "telemetry/s/b/f/DEV3/electricity", "payload": {"power": 0.1}, "repeat": 3,},
	],
}`

func TestParse(t *testing.T) {
	messages, err := Parse([]byte(fixtureText))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(messages))
	}
	if messages[0].Topic != "telemetry/s/b/f/DEV1/electricity" || !bytes.Contains(messages[0].Payload, []byte(`"power_factor": 0.95`)) {
		t.Errorf("message 0 = %s %s", messages[0].Topic, messages[0].Payload)
	}
	if string(messages[1].Payload) != "voltage=220" {
		t.Errorf("message 1 payload = %q", messages[1].Payload)
	}
	for _, message := range messages[2:] {
		if message.Topic != "telemetry/s/b/f/DEV3/electricity" {
			t.Errorf("repeated topic = %q", message.Topic)
		}
	}
	messages[2].Payload[0] = 'X'
	if messages[3].Payload[0] == 'X' {
		t.Error("repeated messages share a payload buffer")
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"not json":      `messages: []`,
		"missing topic": `{"messages": [{"payload": {}}]}`,
		"both payloads": `{"messages": [{"topic": "a", "payload": {}, "payload_text": "x"}]}`,
		"no payload":    `{"messages": [{"topic": "a"}]}`,
		"negative":      `{"messages": [{"topic": "a", "payload": {}, "repeat": -1}]}`,
		"unknown field": `{"messages": [{"topic": "a", "payload": {}, "delay": 5}]}`,
		"huge repeat":   `{"messages": [{"topic": "a", "payload": {}, "repeat": 1000000}]}`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(text)); err == nil {
				t.Error("fixture accepted")
			}
		})
	}
}

func TestLoadCompressed(t *testing.T) {
	directory := t.TempDir()

	plain := filepath.Join(directory, "fixture.jsonc")
	if err := os.WriteFile(plain, []byte(fixtureText), 0o644); err != nil {
		t.Fatal(err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zstdPath := filepath.Join(directory, "fixture.jsonc.zst")
	if err := os.WriteFile(zstdPath, encoder.EncodeAll([]byte(fixtureText), nil), 0o644); err != nil {
		t.Fatal(err)
	}
	encoder.Close()

	var lz4Buffer bytes.Buffer
	writer := lz4.NewWriter(&lz4Buffer)
	if _, err := writer.Write([]byte(fixtureText)); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	lz4Path := filepath.Join(directory, "fixture.jsonc.lz4")
	if err := os.WriteFile(lz4Path, lz4Buffer.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{plain, zstdPath, lz4Path} {
		messages, err := Load(path)
		if err != nil {
			t.Errorf("Load(%s): %v", filepath.Base(path), err)
			continue
		}
		if len(messages) != 5 {
			t.Errorf("Load(%s): %d messages, want 5", filepath.Base(path), len(messages))
		}
	}
}

func TestLoadCorruptCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zst")
	if err := os.WriteFile(path, []byte("definitely not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("corrupt zstd fixture accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.jsonc")); err == nil {
		t.Error("missing file accepted")
	}
}
