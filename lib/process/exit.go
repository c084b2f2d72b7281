// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// exit is replaced in tests.
var exit = os.Exit

// Fatal writes "error: err" to stderr and exits with code 1. A command
// that already printed its own diagnostics can return an error with an
// ExitCode() int method to choose the code without the extra line.
func Fatal(err error) {
	exit(report(os.Stderr, err))
}

// report writes the diagnostic for err to w and returns the exit code.
func report(w io.Writer, err error) int {
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
