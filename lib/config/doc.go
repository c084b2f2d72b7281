// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the wattwatch
// binaries.
//
// Configuration is loaded from a single file specified by either the
// WATTWATCH_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. Values present in the file merge over
// [Default]; absent keys keep their defaults.
//
// The configuration file may carry environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. An override section has the same shape
// as the top level minus environment selection.
//
// Variable expansion is performed on path-like fields after loading:
// ${HOME}, ${VAR}, and ${VAR:-default} patterns are expanded in the
// status socket path, the scorer command and directory, the MQTT
// password file, and the store database path. No environment variable
// overrides a config value directly.
//
// Durations are YAML strings in [time.ParseDuration] syntax ("250ms",
// "10s").
//
// This package depends on no other wattwatch packages.
package config
