// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the room event envelope and its typed content
// payloads.
//
// Every event shares one envelope (Event) and carries exactly one
// Content variant selected by the event type:
//
//   - m.room.create  -> *CreateContent
//   - m.room.member  -> *MemberContent
//   - m.room.message -> *MessageContent
//
// Handlers switch on the concrete Content type. DecodeContent is the
// only place raw JSON becomes a Content value, and it rejects types it
// does not know.
//
// The package also holds the records the homeserver persists and
// returns outside the event stream: Identity, Room, Contact,
// Conversation, and PrivateMessage.
package schema
