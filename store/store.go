// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/librachat/lib/codec"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/sqlitepool"
)

// Config holds the parameters for Open.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist. Required.
	Path string

	// PoolSize is the number of connections. Defaults to the
	// sqlitepool default if zero.
	PoolSize int

	// ServerName is this homeserver's name. Required.
	ServerName ref.ServerName

	// Compression is applied to stored event bodies. Reads accept
	// every algorithm regardless of this setting.
	Compression codec.Compression

	// Logger is required.
	Logger *slog.Logger
}

// Store is the homeserver's persistent state. Safe for concurrent use.
type Store struct {
	pool        *sqlitepool.Pool
	serverName  ref.ServerName
	compression codec.Compression
	logger      *slog.Logger
}

// Open opens the database at cfg.Path, creating and migrating it as
// needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ServerName.IsZero() {
		return nil, fmt.Errorf("store: ServerName is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       cfg.Path,
		PoolSize:   cfg.PoolSize,
		Logger:     cfg.Logger,
		Migrations: migrations,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{
		pool:        pool,
		serverName:  cfg.ServerName,
		compression: cfg.Compression,
		logger:      cfg.Logger,
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// ServerName returns the server name the store was opened for.
func (s *Store) ServerName() ref.ServerName { return s.serverName }

// Statistics counts rooms, local users, and events.
func (s *Store) Statistics(ctx context.Context) (schema.Statistics, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Statistics{}, err
	}
	defer s.pool.Put(conn)

	var stats schema.Statistics
	queries := []struct {
		sql    string
		target *int64
	}{
		{"SELECT COUNT(*) FROM rooms", &stats.RoomCount},
		{"SELECT COUNT(*) FROM users", &stats.UserCount},
		{"SELECT COUNT(*) FROM events", &stats.EventCount},
	}
	for _, query := range queries {
		count, err := queryInt64(conn, query.sql)
		if err != nil {
			return schema.Statistics{}, fmt.Errorf("store: statistics: %w", err)
		}
		*query.target = count
	}
	return stats, nil
}

// queryInt64 runs a query returning one integer. No rows yields 0.
func queryInt64(conn *sqlite.Conn, query string, args ...any) (int64, error) {
	var value int64
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt64(0)
			return nil
		},
	})
	return value, err
}

// isConstraintViolation reports whether err is a UNIQUE or PRIMARY
// KEY violation.
func isConstraintViolation(err error) bool {
	return sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint
}

// columnBytes copies a BLOB column out of the statement.
func columnBytes(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}

// likePattern escapes query for a LIKE ... ESCAPE '\' substring match.
func likePattern(query string) string {
	escaped := make([]byte, 0, len(query)+2)
	escaped = append(escaped, '%')
	for i := 0; i < len(query); i++ {
		switch query[i] {
		case '%', '_', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, query[i])
	}
	return string(append(escaped, '%'))
}

// boolInt maps a bool to SQLite's integer booleans.
func boolInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
