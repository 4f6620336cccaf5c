// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/signing"
)

// Event is a room event as stored and delivered. Everything except
// Signatures and Unsigned is covered by the origin server's signature.
type Event struct {
	EventID        ref.EventID        `json:"event_id"`
	RoomID         ref.RoomID         `json:"room_id"`
	Sender         ref.UserID         `json:"sender"`
	Type           string             `json:"type"`
	StateKey       *string            `json:"state_key,omitempty"`
	Origin         ref.ServerName     `json:"origin"`
	OriginServerTS int64              `json:"origin_server_ts"`
	Content        Content            `json:"content"`
	Signatures     signing.Signatures `json:"signatures,omitempty"`
	Unsigned       *Unsigned          `json:"unsigned,omitempty"`
}

// Unsigned carries server-local annotations that are not signed.
type Unsigned struct {
	// StreamOrdering is the room-local sequence number of the event.
	// It doubles as the long-poll cursor.
	StreamOrdering int64 `json:"stream_ordering,omitempty"`

	// Verified is set when an event was checked against the server
	// key on read. A false value means the stored signature does not
	// verify.
	Verified *bool `json:"verified,omitempty"`

	// Unreadable is set when the stored event could not be decoded.
	// Only the indexed envelope fields and a placeholder content are
	// present, and Verified is false.
	Unreadable bool `json:"unreadable,omitempty"`
}

// UnmarshalJSON decodes the envelope and then the content variant
// selected by the type field.
func (e *Event) UnmarshalJSON(data []byte) error {
	type envelope Event
	var raw struct {
		envelope
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event(raw.envelope)
	if raw.Content == nil {
		return fmt.Errorf("event %s has no content", e.EventID)
	}
	content, err := DecodeContent(e.Type, raw.Content)
	if err != nil {
		return err
	}
	e.Content = content
	return nil
}

// Validate checks envelope invariants and the content variant.
func (e *Event) Validate() error {
	if e.EventID.IsZero() || e.RoomID.IsZero() || e.Sender.IsZero() {
		return fmt.Errorf("event is missing event_id, room_id or sender")
	}
	if e.Content == nil {
		return fmt.Errorf("event %s has no content", e.EventID)
	}
	if e.Content.EventType() != e.Type {
		return fmt.Errorf("event %s: type %q does not match %s content", e.EventID, e.Type, e.Content.EventType())
	}
	if e.Type == EventTypeMember && e.StateKey == nil {
		return fmt.Errorf("event %s: m.room.member requires a state_key", e.EventID)
	}
	return e.Content.Validate()
}
