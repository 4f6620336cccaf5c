// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/librachat/lib/ref"
)

// Event type constants.
const (
	EventTypeCreate  = "m.room.create"
	EventTypeMember  = "m.room.member"
	EventTypeMessage = "m.room.message"
)

// RoomVersion is the room version every room on this server is
// created with. Version 1 carries the origin server in event IDs.
const RoomVersion = "1"

// Message types accepted in MessageContent.MsgType.
const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
	MsgTypeEmote  = "m.emote"
)

// Content is the typed payload of an event.
type Content interface {
	// EventType returns the event type this payload belongs to.
	EventType() string
	// Validate checks the payload's required fields.
	Validate() error
}

// CreateContent is the payload of the first event in every room.
type CreateContent struct {
	Creator     ref.UserID `json:"creator"`
	RoomVersion string     `json:"room_version"`
	Name        string     `json:"name,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	IsPublic    bool       `json:"is_public"`
}

func (*CreateContent) EventType() string { return EventTypeCreate }

func (c *CreateContent) Validate() error {
	if c.Creator.IsZero() {
		return fmt.Errorf("m.room.create: creator is required")
	}
	if c.RoomVersion == "" {
		return fmt.Errorf("m.room.create: room_version is required")
	}
	return nil
}

// Membership is the membership value carried in m.room.member events.
type Membership string

const (
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipLeave  Membership = "leave"
)

// MemberContent is the payload of a membership change. The event's
// state key is the affected user's ID.
type MemberContent struct {
	Membership  Membership `json:"membership"`
	DisplayName string     `json:"displayname,omitempty"`
}

func (*MemberContent) EventType() string { return EventTypeMember }

func (c *MemberContent) Validate() error {
	switch c.Membership {
	case MembershipInvite, MembershipJoin, MembershipLeave:
		return nil
	default:
		return fmt.Errorf("m.room.member: unknown membership %q", c.Membership)
	}
}

// MessageContent is the payload of a chat message.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

func (*MessageContent) EventType() string { return EventTypeMessage }

func (c *MessageContent) Validate() error {
	switch c.MsgType {
	case MsgTypeText, MsgTypeNotice, MsgTypeEmote:
	default:
		return fmt.Errorf("m.room.message: unsupported msgtype %q", c.MsgType)
	}
	if c.Body == "" {
		return fmt.Errorf("m.room.message: body is required")
	}
	return nil
}

// UnreadableContent stands in for a stored payload that could not be
// decoded. It serializes as an empty object.
type UnreadableContent struct {
	Type string `json:"-"`
}

func (c *UnreadableContent) EventType() string { return c.Type }

func (c *UnreadableContent) Validate() error {
	return fmt.Errorf("%s: content is unreadable", c.Type)
}

// DecodeContent parses raw as the payload for eventType.
func DecodeContent(eventType string, raw []byte) (Content, error) {
	var content Content
	switch eventType {
	case EventTypeCreate:
		content = &CreateContent{}
	case EventTypeMember:
		content = &MemberContent{}
	case EventTypeMessage:
		content = &MessageContent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err := json.Unmarshal(raw, content); err != nil {
		return nil, fmt.Errorf("parsing %s content: %w", eventType, err)
	}
	return content, nil
}
