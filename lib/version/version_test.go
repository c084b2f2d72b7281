// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestFprint(t *testing.T) {
	var output bytes.Buffer
	Fprint(&output, "wattwatch-ingest")
	line := output.String()
	if !strings.HasPrefix(line, "wattwatch-ingest "+Version+" (") {
		t.Errorf("unexpected version line %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("version line not newline-terminated: %q", line)
	}
}
