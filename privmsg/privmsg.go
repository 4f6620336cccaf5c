// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package privmsg sends and reads pairwise-encrypted private
// messages.
//
// Send seals the plaintext with lib/envelope to both parties' public
// keys and stores the result; the server never stores plaintext.
// Reads open the envelope matching the reader's role with the
// reader's private key, which the server holds (see DESIGN.md on the
// trust model). The sender and recipient IDs are bound into every
// ciphertext as associated data, so a stored message cannot be
// replayed under a different pair.
//
// A message that fails to decrypt is reported inline with a
// decryption error. The rest of the batch is unaffected.
package privmsg

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/metrics"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/secret"
	"github.com/bureau-foundation/librachat/store"
)

// MaxMessageBytes is the largest plaintext Send accepts.
const MaxMessageBytes = 16 << 10

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Config holds the parameters for New.
type Config struct {
	Store  *store.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Service implements private message send and read. It holds no
// mutable state of its own; concurrent sends proceed independently.
type Service struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a Service. Panics if a required field is missing.
func New(config Config) *Service {
	if config.Store == nil {
		panic("privmsg.New: Store is required")
	}
	if config.Clock == nil {
		panic("privmsg.New: Clock is required")
	}
	if config.Logger == nil {
		panic("privmsg.New: Logger is required")
	}
	return &Service{
		store:  config.Store,
		clock:  config.Clock,
		logger: config.Logger,
	}
}

// associatedData binds a ciphertext to its sender and recipient.
func associatedData(sender, recipient ref.UserID) []byte {
	return []byte(sender.String() + "\x00" + recipient.String())
}

// Send encrypts plaintext from sender to recipient and stores it.
// Fails with fault.InvalidOperation when sending to oneself and
// fault.NotFound when the recipient is unknown.
func (s *Service) Send(ctx context.Context, sender, recipient ref.UserID, plaintext string) (*schema.PrivateMessage, error) {
	if sender == recipient {
		return nil, fault.New(fault.InvalidOperation, "cannot send a private message to yourself")
	}
	if strings.TrimSpace(plaintext) == "" {
		return nil, fault.New(fault.InvalidRequest, "message is empty")
	}
	if len(plaintext) > MaxMessageBytes {
		return nil, fault.New(fault.InvalidRequest, "message is %d bytes, maximum is %d", len(plaintext), MaxMessageBytes)
	}
	if !utf8.ValidString(plaintext) {
		return nil, fault.New(fault.InvalidRequest, "message is not valid UTF-8")
	}

	recipientIdentity, err := s.store.Identity(ctx, recipient)
	if err != nil {
		return nil, err
	}
	senderIdentity, err := s.store.Identity(ctx, sender)
	if err != nil {
		return nil, err
	}

	sealed, err := envelope.Seal([]byte(plaintext), associatedData(sender, recipient),
		senderIdentity.PublicKey, recipientIdentity.PublicKey)
	if err != nil {
		return nil, err
	}
	message := &schema.PrivateMessage{
		MessageID: uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Timestamp: s.clock.Now().UnixMilli(),
		Sealed:    sealed,
	}
	if err := s.store.InsertPrivateMessage(ctx, message); err != nil {
		return nil, err
	}
	metrics.PrivateMessagesSent.Inc()
	s.logger.Info("private message stored",
		"message_id", message.MessageID,
		"sender", sender.String(),
		"recipient", recipient.String(),
	)
	return message, nil
}

// Decrypted is a private message as seen by one reader.
type Decrypted struct {
	*schema.PrivateMessage

	// Content is the plaintext, empty when DecryptionError is set.
	Content      string
	IsOwnMessage bool

	// DecryptionError describes why this message could not be opened.
	DecryptionError string
}

// History returns the most recent limit messages between reader and
// counterpart, oldest first, each decrypted for reader.
func (s *Service) History(ctx context.Context, reader, counterpart ref.UserID, limit int) ([]Decrypted, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	messages, err := s.store.PrivateMessages(ctx, reader, counterpart, limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return []Decrypted{}, nil
	}

	privateKey, err := s.store.PrivateKey(ctx, reader)
	if err != nil {
		return nil, err
	}
	defer privateKey.Close()

	results := make([]Decrypted, 0, len(messages))
	for _, message := range messages {
		results = append(results, s.open(message, reader, privateKey))
	}
	return results, nil
}

// Message returns one message decrypted for reader. Fails with
// fault.AuthorizationError if reader is neither party.
func (s *Service) Message(ctx context.Context, reader ref.UserID, messageID string) (*Decrypted, error) {
	message, err := s.store.PrivateMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !message.Involves(reader) {
		return nil, fault.New(fault.AuthorizationError, "%s is not a party to message %s", reader, messageID)
	}
	privateKey, err := s.store.PrivateKey(ctx, reader)
	if err != nil {
		return nil, err
	}
	defer privateKey.Close()

	decrypted := s.open(message, reader, privateKey)
	return &decrypted, nil
}

// open decrypts message for reader. Failures are recorded on the
// result.
func (s *Service) open(message *schema.PrivateMessage, reader ref.UserID, privateKey *secret.Buffer) Decrypted {
	role := envelope.RoleRecipient
	if message.Sender == reader {
		role = envelope.RoleSender
	}
	result := Decrypted{
		PrivateMessage: message,
		IsOwnMessage:   role == envelope.RoleSender,
	}
	var plaintext *secret.Buffer
	err := message.DecodeError
	if err == nil {
		plaintext, err = envelope.Open(message.Sealed, role, associatedData(message.Sender, message.Recipient), privateKey)
	}
	if err != nil {
		metrics.DecryptionFailures.Inc()
		s.logger.Warn("private message failed to decrypt",
			"message_id", message.MessageID,
			"reader", reader.String(),
			"role", role.String(),
			"error", err,
		)
		result.DecryptionError = "failed to decrypt message"
		return result
	}
	result.Content = plaintext.String()
	plaintext.Close()
	return result
}
