// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas
// wattwatch's storage expects.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back, or use
// [Pool.With] to do both. A connection is never shared between
// goroutines.
//
// Every connection gets:
//
//   - journal_mode=WAL, so the store's read endpoints never wait on
//     ingest writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=OFF; the reading store checks references itself
//     and maps a missing reading to its own error
//   - a 8 MB page cache and in-memory temp storage
//
// Schema setup belongs in Config.OnConnect:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:      "/var/lib/wattwatch/readings.db",
//	    PoolSize:  4,
//	    Logger:    logger,
//	    OnConnect: func(conn *sqlite.Conn) error { return sqlitex.ExecuteScript(conn, schema, nil) },
//	})
package sqlitepool
