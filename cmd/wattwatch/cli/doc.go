// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the wattwatch
// operator tool: a tree of [Command] values with pflag flag sets,
// generated help, and typo suggestions for unknown commands and flags.
//
// Errors caused by the command line wrap [ErrUsage]. A command that
// has already printed its answer and only needs a non-zero exit status
// returns an [ExitError].
package cli
