// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/ref"
)

// Timestamps below are Unix milliseconds, the unit of origin_server_ts.

// Identity is the public profile of a local user.
type Identity struct {
	UserID      ref.UserID `json:"mxid"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`

	// PublicKey is the user's age X25519 recipient string.
	PublicKey string `json:"public_key"`

	CreatedTS int64 `json:"created_ts"`
}

// Room is a room's directory record. The authoritative history is
// its event sequence; this row caches what listings need.
type Room struct {
	RoomID    ref.RoomID    `json:"room_id"`
	Name      string        `json:"name,omitempty"`
	Topic     string        `json:"topic,omitempty"`
	Creator   ref.UserID    `json:"creator"`
	Alias     ref.RoomAlias `json:"canonical_alias,omitzero"`
	IsPublic  bool          `json:"is_public"`
	CreatedTS int64         `json:"created_ts"`

	// JoinedMembers is filled by listings that count members.
	JoinedMembers int `json:"num_joined_members"`
}

// Contact is a directed edge in the contact graph.
type Contact struct {
	Owner   ref.UserID `json:"-"`
	Contact ref.UserID `json:"contact_mxid"`

	// DisplayName and PublicKey are snapshots taken when the edge was
	// created or last reactivated.
	DisplayName string `json:"display_name"`
	PublicKey   string `json:"public_key"`

	AddedTS int64 `json:"added_at"`
	Active  bool  `json:"-"`
}

// Conversation is the derived view of one contact edge joined with
// the most recent private message exchanged with that contact.
type Conversation struct {
	Contact     ref.UserID `json:"contact_mxid"`
	DisplayName string     `json:"display_name"`

	// LastMessageTS is zero when HasMessages is false.
	LastMessageTS int64 `json:"last_message_timestamp,omitempty"`
	HasMessages   bool  `json:"has_messages"`
}

// PrivateMessage is a stored pairwise-encrypted message. Sealed
// always carries exactly two envelopes unless DecodeError is set.
type PrivateMessage struct {
	MessageID string           `json:"message_id"`
	Sender    ref.UserID       `json:"sender_mxid"`
	Recipient ref.UserID       `json:"recipient_mxid"`
	Timestamp int64            `json:"timestamp"`
	Sealed    *envelope.Sealed `json:"-"`

	// DecodeError is set instead of Sealed when the stored envelopes
	// could not be decoded.
	DecodeError error `json:"-"`
}

// Counterpart returns the party in m that is not user.
func (m *PrivateMessage) Counterpart(user ref.UserID) ref.UserID {
	if m.Sender == user {
		return m.Recipient
	}
	return m.Sender
}

// Involves reports whether user is the sender or the recipient.
func (m *PrivateMessage) Involves(user ref.UserID) bool {
	return m.Sender == user || m.Recipient == user
}

// Statistics are the server-wide counts reported by the server info
// endpoint.
type Statistics struct {
	RoomCount  int64 `json:"room_count"`
	UserCount  int64 `json:"user_count"`
	EventCount int64 `json:"event_count"`
}
