// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the homeserver's SQLite connection pool.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool with fixed pragmas
// and a forward-only migration runner keyed on PRAGMA user_version.
// Callers Take a connection, do their work (sqlitex.Execute for cached
// statements, sqlitex.ImmediateTransaction for writes), and Put it
// back.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the writer and vice versa.
//     Long-poll readers and message writers run concurrently.
//   - synchronous=NORMAL: commits survive process crashes.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - foreign_keys=ON: memberships, events and contacts reference
//     their users and rooms.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY.
//
// # Usage
//
//	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
//	    Path:       "/var/lib/librachat/homeserver.db",
//	    Logger:     logger,
//	    Migrations: []string{schemaV1},
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package sqlitepool
