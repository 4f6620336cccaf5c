// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists the homeserver's state in SQLite.
//
// Tables:
//
//   - users: local identities with bcrypt password hashes and age
//     keypairs
//   - rooms, memberships: the room directory and one membership row
//     per (room, user)
//   - events: every room event, append-only, ordered by an
//     autoincrement stream_ordering that doubles as the long-poll
//     cursor. The signed event JSON is stored as a codec compression
//     frame.
//   - contacts: directed contact edges, deactivated rather than deleted
//   - private_messages: sealed messages as deterministic CBOR
//   - revoked_tokens: revocation digests of logged-out access tokens
//
// Every write that must be atomic runs in one IMMEDIATE transaction.
// The store enforces uniqueness; membership transition rules belong
// to the rooms package, which serializes writes per room.
package store
