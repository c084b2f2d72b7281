// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the wattwatch
// binaries. Each main() is a two-liner around run() error; errors that
// escape run() are reported here, before or after the structured
// logger exists.
package process
