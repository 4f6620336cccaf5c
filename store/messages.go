// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/librachat/lib/codec"
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
)

// InsertPrivateMessage stores message. The sealed payload must carry
// both envelopes.
func (s *Store) InsertPrivateMessage(ctx context.Context, message *schema.PrivateMessage) error {
	sealed := message.Sealed
	if sealed == nil || len(sealed.SenderEnvelope.Stanzas) == 0 || len(sealed.RecipientEnvelope.Stanzas) == 0 {
		return fault.New(fault.InvalidOperation, "private message %s is missing an envelope", message.MessageID)
	}
	blob, err := codec.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("store: encoding message %s: %w", message.MessageID, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO private_messages
		(message_id, sender, recipient, timestamp, sealed) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			message.MessageID, message.Sender.String(), message.Recipient.String(), message.Timestamp, blob,
		}})
	if isConstraintViolation(err) {
		return fault.New(fault.AlreadyExists, "private message %s already exists", message.MessageID)
	}
	if err != nil {
		return fmt.Errorf("store: inserting message %s: %w", message.MessageID, err)
	}
	return nil
}

// scanPrivateMessage reads one row. An envelope blob that does not
// decode is reported on the message, not as an error, so one damaged
// row does not hide the rest of a conversation.
func scanPrivateMessage(stmt *sqlite.Stmt) (*schema.PrivateMessage, error) {
	sender, err := ref.ParseUserID(stmt.ColumnText(1))
	if err != nil {
		return nil, err
	}
	recipient, err := ref.ParseUserID(stmt.ColumnText(2))
	if err != nil {
		return nil, err
	}
	message := &schema.PrivateMessage{
		MessageID: stmt.ColumnText(0),
		Sender:    sender,
		Recipient: recipient,
		Timestamp: stmt.ColumnInt64(3),
	}
	var sealed envelope.Sealed
	if err := codec.Unmarshal(columnBytes(stmt, 4), &sealed); err != nil {
		message.DecodeError = fmt.Errorf("decoding envelopes of %s: %w", message.MessageID, err)
		return message, nil
	}
	message.Sealed = &sealed
	return message, nil
}

func (s *Store) queryPrivateMessages(ctx context.Context, query string, args ...any) ([]*schema.PrivateMessage, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var messages []*schema.PrivateMessage
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			message, err := scanPrivateMessage(stmt)
			if err != nil {
				return err
			}
			if message.DecodeError != nil {
				s.logger.Warn("stored private message is unreadable",
					"message_id", message.MessageID,
					"error", message.DecodeError,
				)
			}
			messages = append(messages, message)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: querying private messages: %w", err)
	}
	return messages, nil
}

// PrivateMessages returns the most recent limit messages exchanged
// between a and b in either direction, oldest first.
func (s *Store) PrivateMessages(ctx context.Context, a, b ref.UserID, limit int) ([]*schema.PrivateMessage, error) {
	messages, err := s.queryPrivateMessages(ctx, `SELECT message_id, sender, recipient, timestamp, sealed
		FROM private_messages
		WHERE (sender = ?1 AND recipient = ?2) OR (sender = ?2 AND recipient = ?1)
		ORDER BY timestamp DESC, rowid DESC LIMIT ?3`,
		a.String(), b.String(), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// PrivateMessage returns one message by ID. Fails with fault.NotFound.
func (s *Store) PrivateMessage(ctx context.Context, messageID string) (*schema.PrivateMessage, error) {
	messages, err := s.queryPrivateMessages(ctx, `SELECT message_id, sender, recipient, timestamp, sealed
		FROM private_messages WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fault.New(fault.NotFound, "private message %s not found", messageID)
	}
	return messages[0], nil
}
