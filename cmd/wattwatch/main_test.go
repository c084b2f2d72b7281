// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/wattwatch/wattwatch/cmd/wattwatch/cli"
)

// runCommand runs the tool with args and returns what it wrote.
func runCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var outBuffer, errBuffer bytes.Buffer
	err = run(args, &outBuffer, &errBuffer)
	return outBuffer.String(), errBuffer.String(), err
}

// hasRow reports whether some line of output consists of exactly the
// given whitespace-separated fields.
func hasRow(output string, fields ...string) bool {
	for _, line := range strings.Split(output, "\n") {
		if slices.Equal(strings.Fields(line), fields) {
			return true
		}
	}
	return false
}

// gatewayStub accepts every reading (ids from 100) and verdict.
type gatewayStub struct {
	mu       sync.Mutex
	nextID   int64
	readings int
	verdicts []map[string]any
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	g.mu.Lock()
	defer g.mu.Unlock()
	switch r.URL.Path {
	case "/api/electricity/add":
		g.readings++
		id := g.nextID
		g.nextID++
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "success": true, "message": "stored", "id": id})
	case "/api/electricity-anomaly/add":
		var verdict map[string]any
		json.Unmarshal(body, &verdict)
		g.verdicts = append(g.verdicts, verdict)
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "success": true, "message": "stored"})
	default:
		http.NotFound(w, r)
	}
}

// writeConfig writes a daemon config pointing at gatewayURL and the
// scorer script, and returns its path.
func writeConfig(t *testing.T, gatewayURL, scorer string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wattwatch.yaml")
	content := fmt.Sprintf(`mqtt:
  topic: telemetry/#
gateway:
  base_url: %s
scoring:
  command: [%q]
  timeout: 10s
logging:
  level: error
`, gatewayURL, scorer)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func startGateway(t *testing.T) (*gatewayStub, string) {
	t.Helper()
	stub := &gatewayStub{nextID: 100}
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return stub, server.URL
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout, "wattwatch ") {
		t.Errorf("version output = %q", stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "requires a command"},
		{"typo", []string{"replya"}, `did you mean "replay"`},
		{"version argument", []string{"version", "extra"}, "no arguments"},
		{"status argument", []string{"status", "extra"}, "no arguments"},
		{"replay without fixture", []string{"replay"}, "exactly one fixture"},
		{"score without device", []string{"score", "payload.json"}, "--device is required"},
		{"score flag typo", []string{"score", "--devce", "DEV1"}, "did you mean --device"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := runCommand(t, test.args...)
			if !errors.Is(err, cli.ErrUsage) {
				t.Fatalf("error = %v, want ErrUsage", err)
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q, want %q", err, test.want)
			}
		})
	}
}

func TestHelpGoesToStderr(t *testing.T) {
	stdout, stderr, err := runCommand(t, "--help")
	if err != nil {
		t.Fatalf("--help: %v", err)
	}
	if stdout != "" {
		t.Errorf("help wrote to stdout: %q", stdout)
	}
	for _, want := range []string{"status", "replay", "score", "version"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("help does not list %q:\n%s", want, stderr)
		}
	}
}

func TestLoadConfigReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  verdict_attempts: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := loadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "pipeline.verdict_attempts") {
		t.Errorf("loadConfig = %v, want verdict_attempts problem", err)
	}
}
