// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wattwatch/wattwatch/lib/config"
	"github.com/wattwatch/wattwatch/lib/testutil"
)

// recordingGatewayServer is an httptest persistence gateway that
// assigns ids from 7 and records verdict bodies.
type recordingGatewayServer struct {
	mu       sync.Mutex
	nextID   int64
	verdicts []map[string]any
}

func (s *recordingGatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.URL.Path {
	case "/api/electricity/add":
		id := s.nextID
		s.nextID++
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "success": true, "message": "stored", "id": id})
	case "/api/electricity-anomaly/add":
		var verdict map[string]any
		json.Unmarshal(body, &verdict)
		s.verdicts = append(s.verdicts, verdict)
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "success": true, "message": "stored"})
	default:
		http.NotFound(w, r)
	}
}

func TestBuildWiresRealCollaborators(t *testing.T) {
	gatewayServer := &recordingGatewayServer{nextID: 7}
	server := httptest.NewServer(gatewayServer)
	defer server.Close()

	cfg := config.Default()
	cfg.Gateway.BaseURL = server.URL
	cfg.Scoring.Command = []string{testutil.WriteScript(t, "scorer",
		`cat >/dev/null; echo '[{"if_labels":"anomaly","rf_labels":"normal"}]'`)}
	cfg.Scoring.Timeout = 10 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var outcomesMu sync.Mutex
	var outcomes []Outcome
	dispatcher, err := Build(cfg, BuildOptions{
		Logger: slog.New(slog.DiscardHandler),
		OnOutcome: func(outcome Outcome) {
			outcomesMu.Lock()
			outcomes = append(outcomes, outcome)
			outcomesMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := dispatcher.Submit(readingMessage("DEV1", 0.6)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := dispatcher.Submit(readingMessage("DEV2", 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stats := dispatcher.Stats()
	if stats.Received != 2 || stats.Done != 1 || stats.StoredOnly != 1 {
		t.Errorf("stats = %+v, want 2 received, 1 done, 1 stored_only", stats)
	}

	gatewayServer.mu.Lock()
	defer gatewayServer.mu.Unlock()
	if len(gatewayServer.verdicts) != 1 {
		t.Fatalf("verdicts stored = %d, want 1", len(gatewayServer.verdicts))
	}
	stored := gatewayServer.verdicts[0]
	if stored["if_labels_anomaly"] != true || stored["rf_labels_anomaly"] != false {
		t.Errorf("verdict body = %v", stored)
	}

	outcomesMu.Lock()
	defer outcomesMu.Unlock()
	for _, outcome := range outcomes {
		if outcome.DeviceID == "DEV1" && outcome.Verdict != nil {
			if float64(outcome.Verdict.ReadingID) != stored["data_id"] {
				t.Errorf("verdict data_id = %v, outcome reading id = %d", stored["data_id"], outcome.Verdict.ReadingID)
			}
		}
	}
}

func TestBuildRejectsUnusableConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.BaseURL = "ftp://store"
	if _, err := Build(cfg, BuildOptions{}); err == nil {
		t.Error("expected error for non-http gateway URL")
	}

	cfg = config.Default()
	cfg.Scoring.Command = nil
	if _, err := Build(cfg, BuildOptions{}); err == nil {
		t.Error("expected error for empty scorer command")
	}
}
