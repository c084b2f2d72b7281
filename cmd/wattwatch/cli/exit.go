// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError asks main to exit with Code without printing anything more.
// Commands return it when a non-zero exit is an answer (a replay in
// which some messages were dropped) and the output already explains it.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns Code. main checks for this method rather than the
// concrete type.
func (e *ExitError) ExitCode() int {
	return e.Code
}
