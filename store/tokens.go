// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// RevokeToken records a token revocation digest until expiresAt.
// Revoking the same digest twice is not an error.
func (s *Store) RevokeToken(ctx context.Context, digest string, expiresAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO revoked_tokens (digest, expires_ts) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{digest, expiresAt.UnixMilli()}})
	if err != nil {
		return fmt.Errorf("store: revoking token: %w", err)
	}
	return nil
}

// RevokedTokens returns every digest whose token has not yet expired
// at now, with its expiry.
func (s *Store) RevokedTokens(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	revoked := make(map[string]time.Time)
	err = sqlitex.Execute(conn, "SELECT digest, expires_ts FROM revoked_tokens WHERE expires_ts > ?",
		&sqlitex.ExecOptions{
			Args: []any{now.UnixMilli()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				revoked[stmt.ColumnText(0)] = time.UnixMilli(stmt.ColumnInt64(1))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: loading revoked tokens: %w", err)
	}
	return revoked, nil
}

// PurgeRevokedTokens deletes digests whose tokens expired at or
// before now. Returns the number deleted.
func (s *Store) PurgeRevokedTokens(ctx context.Context, now time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM revoked_tokens WHERE expires_ts <= ?",
		&sqlitex.ExecOptions{Args: []any{now.UnixMilli()}})
	if err != nil {
		return 0, fmt.Errorf("store: purging revoked tokens: %w", err)
	}
	return conn.Changes(), nil
}
