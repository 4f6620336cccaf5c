// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest opens throwaway stores for tests in other
// packages.
package storetest

import (
	"context"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/librachat/lib/codec"
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/logging"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/testutil"
	"github.com/bureau-foundation/librachat/store"
)

// ServerName is the server name of every store Open returns.
var ServerName = ref.MustParseServerName("chat.example.org")

// databasePaths maps each store Open returned to its database file.
var databasePaths sync.Map

// Open creates a store in a temporary directory and closes it when
// the test ends.
func Open(t *testing.T) *store.Store {
	t.Helper()
	_, databasePath := testutil.StateDir(t)
	opened, err := store.Open(context.Background(), store.Config{
		Path:        databasePath,
		PoolSize:    4,
		ServerName:  ServerName,
		Compression: codec.CompressionLZ4,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	databasePaths.Store(opened, databasePath)
	t.Cleanup(func() {
		databasePaths.Delete(opened)
		if err := opened.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	return opened
}

// Exec runs query on its own connection to the database behind s,
// outside the store's API. Tests use it to damage stored rows:
//
//	storetest.Exec(t, s, "UPDATE private_messages SET sealed = x'ff00' WHERE message_id = ?", id)
func Exec(t *testing.T, s *store.Store, query string, args ...any) {
	t.Helper()
	path, ok := databasePaths.Load(s)
	if !ok {
		t.Fatal("storetest.Exec: store was not opened by storetest.Open")
	}
	conn, err := sqlite.OpenConn(path.(string), sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer conn.Close()
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA busy_timeout=5000", nil); err != nil {
		t.Fatal(err)
	}
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		t.Fatalf("Exec(%q): %v", query, err)
	}
}

// User is an identity created by CreateUser.
type User struct {
	ID      ref.UserID
	Keypair *envelope.Keypair
}

// CreateUser inserts a local identity with a fresh keypair and a
// placeholder password hash.
func CreateUser(t *testing.T, s *store.Store, localpart string) User {
	t.Helper()
	keypair, err := envelope.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	userID := ref.MatrixUserID(localpart, ServerName)
	err = s.CreateUser(context.Background(), store.NewUser{
		Identity: schema.Identity{
			UserID:      userID,
			DisplayName: localpart,
			PublicKey:   keypair.PublicKey,
			CreatedTS:   1,
		},
		PasswordHash: []byte("unused"),
		PrivateKey:   keypair.PrivateKey,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", localpart, err)
	}
	return User{ID: userID, Keypair: keypair}
}
