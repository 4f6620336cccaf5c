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
)

// edgeState is the stored state of one (owner, contact) pair.
type edgeState int

const (
	edgeAbsent edgeState = iota
	edgeInactive
	edgeActive
)

func lookupEdge(conn *sqlite.Conn, owner, contact ref.UserID) (edgeState, error) {
	state := edgeAbsent
	err := sqlitex.Execute(conn, "SELECT active FROM contacts WHERE owner = ? AND contact = ?",
		&sqlitex.ExecOptions{
			Args: []any{owner.String(), contact.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stmt.ColumnInt64(0) != 0 {
					state = edgeActive
				} else {
					state = edgeInactive
				}
				return nil
			},
		})
	return state, err
}

// upsertEdge inserts edge or reactivates an inactive row with a fresh
// snapshot.
func upsertEdge(conn *sqlite.Conn, edge *schema.Contact) error {
	return sqlitex.Execute(conn, `INSERT INTO contacts
		(owner, contact, display_name, public_key, added_ts, active)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (owner, contact) DO UPDATE SET
			display_name = excluded.display_name,
			public_key = excluded.public_key,
			added_ts = excluded.added_ts,
			active = 1`,
		&sqlitex.ExecOptions{Args: []any{
			edge.Owner.String(), edge.Contact.String(), edge.DisplayName, edge.PublicKey, edge.AddedTS,
		}})
}

// AddContact activates edge. Fails with fault.DuplicateContact if an
// active edge already exists for the pair. A previously removed edge
// is reactivated with the new snapshot.
//
// If mirror is non-nil it is inserted in the same transaction when no
// edge in that direction exists. An active reverse edge is left as is,
// and so is one its owner removed. Reports whether the mirror edge was
// written.
func (s *Store) AddContact(ctx context.Context, edge *schema.Contact, mirror *schema.Contact) (mirrored bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	state, err := lookupEdge(conn, edge.Owner, edge.Contact)
	if err != nil {
		return false, fmt.Errorf("store: looking up contact: %w", err)
	}
	if state == edgeActive {
		return false, fault.New(fault.DuplicateContact, "%s is already a contact", edge.Contact)
	}
	if err = upsertEdge(conn, edge); err != nil {
		return false, fmt.Errorf("store: adding contact %s: %w", edge.Contact, err)
	}

	if mirror == nil {
		return false, nil
	}
	state, err = lookupEdge(conn, mirror.Owner, mirror.Contact)
	if err != nil {
		return false, fmt.Errorf("store: looking up reverse contact: %w", err)
	}
	if state != edgeAbsent {
		return false, nil
	}
	if err = upsertEdge(conn, mirror); err != nil {
		return false, fmt.Errorf("store: mirroring contact for %s: %w", mirror.Owner, err)
	}
	return true, nil
}

// RemoveContact deactivates the edge owner->contact. Fails with
// fault.NotFound if no active edge exists.
func (s *Store) RemoveContact(ctx context.Context, owner, contact ref.UserID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE contacts SET active = 0 WHERE owner = ? AND contact = ? AND active = 1",
		&sqlitex.ExecOptions{Args: []any{owner.String(), contact.String()}})
	if err != nil {
		return fmt.Errorf("store: removing contact %s: %w", contact, err)
	}
	if conn.Changes() == 0 {
		return fault.New(fault.NotFound, "%s is not a contact", contact)
	}
	return nil
}

// Contacts lists owner's active edges, oldest first.
func (s *Store) Contacts(ctx context.Context, owner ref.UserID) ([]schema.Contact, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var contacts []schema.Contact
	err = sqlitex.Execute(conn, `SELECT contact, display_name, public_key, added_ts
		FROM contacts WHERE owner = ? AND active = 1
		ORDER BY added_ts, contact`,
		&sqlitex.ExecOptions{
			Args: []any{owner.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				contact, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				contacts = append(contacts, schema.Contact{
					Owner:       owner,
					Contact:     contact,
					DisplayName: stmt.ColumnText(1),
					PublicKey:   stmt.ColumnText(2),
					AddedTS:     stmt.ColumnInt64(3),
					Active:      true,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing contacts of %s: %w", owner, err)
	}
	return contacts, nil
}

// Conversations joins owner's active contact edges with the newest
// private message exchanged with each contact. Contacts with messages
// come first, newest first; contacts without messages follow.
func (s *Store) Conversations(ctx context.Context, owner ref.UserID) ([]schema.Conversation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var conversations []schema.Conversation
	err = sqlitex.Execute(conn, `SELECT c.contact, c.display_name,
			(SELECT MAX(m.timestamp) FROM private_messages m
			 WHERE (m.sender = c.owner AND m.recipient = c.contact)
			    OR (m.sender = c.contact AND m.recipient = c.owner)) AS last_ts
		FROM contacts c
		WHERE c.owner = ? AND c.active = 1
		ORDER BY last_ts IS NULL, last_ts DESC, c.added_ts, c.contact`,
		&sqlitex.ExecOptions{
			Args: []any{owner.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				contact, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				conversation := schema.Conversation{
					Contact:     contact,
					DisplayName: stmt.ColumnText(1),
				}
				if stmt.ColumnType(2) != sqlite.TypeNull {
					conversation.HasMessages = true
					conversation.LastMessageTS = stmt.ColumnInt64(2)
				}
				conversations = append(conversations, conversation)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing conversations of %s: %w", owner, err)
	}
	return conversations, nil
}
