// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/secret"
)

// NewUser is the input to CreateUser.
type NewUser struct {
	Identity     schema.Identity
	Email        string
	PasswordHash []byte

	// PrivateKey is the age identity matching Identity.PublicKey.
	// The caller keeps ownership of the buffer.
	PrivateKey *secret.Buffer
}

// CreateUser inserts a local user. Fails with fault.AlreadyExists if
// the localpart is taken.
func (s *Store) CreateUser(ctx context.Context, user NewUser) error {
	if !user.Identity.UserID.IsLocalTo(s.serverName) {
		return fault.New(fault.InvalidOperation, "%s is not a local user", user.Identity.UserID)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO users
		(localpart, display_name, avatar_url, email, password_hash, public_key, private_key, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			user.Identity.UserID.Localpart(),
			user.Identity.DisplayName,
			user.Identity.AvatarURL,
			user.Email,
			user.PasswordHash,
			user.Identity.PublicKey,
			user.PrivateKey.Bytes(),
			user.Identity.CreatedTS,
		}})
	if isConstraintViolation(err) {
		return fault.New(fault.AlreadyExists, "user %s already exists", user.Identity.UserID)
	}
	if err != nil {
		return fmt.Errorf("store: creating user %s: %w", user.Identity.UserID, err)
	}
	return nil
}

const identityColumns = "localpart, display_name, avatar_url, public_key, created_ts"

func (s *Store) scanIdentity(stmt *sqlite.Stmt) (schema.Identity, error) {
	userID, err := ref.NewUserID(stmt.ColumnText(0), s.serverName)
	if err != nil {
		return schema.Identity{}, fmt.Errorf("store: stored localpart %q: %w", stmt.ColumnText(0), err)
	}
	return schema.Identity{
		UserID:      userID,
		DisplayName: stmt.ColumnText(1),
		AvatarURL:   stmt.ColumnText(2),
		PublicKey:   stmt.ColumnText(3),
		CreatedTS:   stmt.ColumnInt64(4),
	}, nil
}

// Identity returns a local user's public profile. Fails with
// fault.NotFound for unknown or remote users.
func (s *Store) Identity(ctx context.Context, user ref.UserID) (*schema.Identity, error) {
	if !user.IsLocalTo(s.serverName) {
		return nil, fault.New(fault.NotFound, "user %s is not known to this server", user)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var identity *schema.Identity
	err = sqlitex.Execute(conn, "SELECT "+identityColumns+" FROM users WHERE localpart = ?",
		&sqlitex.ExecOptions{
			Args: []any{user.Localpart()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := s.scanIdentity(stmt)
				identity = &scanned
				return err
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: loading user %s: %w", user, err)
	}
	if identity == nil {
		return nil, fault.New(fault.NotFound, "user %s not found", user)
	}
	return identity, nil
}

// PasswordHash returns the bcrypt hash for a local user. Fails with
// fault.NotFound if the user does not exist.
func (s *Store) PasswordHash(ctx context.Context, user ref.UserID) ([]byte, error) {
	return s.userBlob(ctx, user, "password_hash")
}

// PrivateKey returns a local user's age identity in protected memory.
// The caller must Close the buffer.
func (s *Store) PrivateKey(ctx context.Context, user ref.UserID) (*secret.Buffer, error) {
	data, err := s.userBlob(ctx, user, "private_key")
	if err != nil {
		return nil, err
	}
	// NewFromBytes zeroes data.
	return secret.NewFromBytes(data)
}

func (s *Store) userBlob(ctx context.Context, user ref.UserID, column string) ([]byte, error) {
	if !user.IsLocalTo(s.serverName) {
		return nil, fault.New(fault.NotFound, "user %s is not known to this server", user)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var data []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT "+column+" FROM users WHERE localpart = ?",
		&sqlitex.ExecOptions{
			Args: []any{user.Localpart()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = columnBytes(stmt, 0)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: loading %s for %s: %w", column, user, err)
	}
	if !found {
		return nil, fault.New(fault.NotFound, "user %s not found", user)
	}
	return data, nil
}

// SearchUsers returns local users whose localpart contains query,
// ordered by localpart.
func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]schema.Identity, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var results []schema.Identity
	err = sqlitex.Execute(conn, "SELECT "+identityColumns+` FROM users
		WHERE localpart LIKE ? ESCAPE '\' ORDER BY localpart LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{likePattern(query), limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				identity, err := s.scanIdentity(stmt)
				if err != nil {
					return err
				}
				results = append(results, identity)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: searching users: %w", err)
	}
	return results, nil
}
