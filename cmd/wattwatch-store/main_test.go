// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	if err := run([]string{"--version"}); err != nil {
		t.Errorf("run --version: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wattwatch.yaml")
	if err := os.WriteFile(configPath, []byte("store:\n  pool_size: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := run([]string{"--config", configPath})
	if err == nil || !strings.Contains(err.Error(), "store.pool_size") {
		t.Errorf("run error = %v, want store.pool_size problem", err)
	}
}
