// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the scaffolding shared by the wattwatch
// daemons: a CBOR request-response server on a Unix socket, the
// matching client, and the standard structured logger.
//
// The socket protocol is one request per connection. The client writes
// a single CBOR map carrying an "action" field plus action-specific
// fields, half-closes its write side, and reads a single [Response]
// envelope. The ingest daemon serves a "status" action on this socket
// and the wattwatch CLI queries it.
//
// Access control is the filesystem: the socket is created with the
// daemon's umask and lives under a runtime directory the operator
// controls. There is no token layer.
package service
