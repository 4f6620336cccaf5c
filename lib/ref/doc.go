// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identifiers for the
// homeserver's namespaced entities. Every identifier has the shape
// <sigil><localpart>:<server_name>:
//
//   - users:   @alice:example.org
//   - rooms:   !Yq2pPz6X0Ssz8mS1hH3VmA:example.org
//   - events:  $N5l0dPbkJ1xN5hV8tQ3kRw:example.org
//   - aliases: #general:example.org
//
// Constructors validate their inputs and return a fault.MalformedID
// error when the shape is wrong. Room and event local parts are opaque
// and generated from 128 bits of crypto/rand output, so collisions
// within one server's lifetime are negligible.
//
// All types implement encoding.TextMarshaler, so they serialize as
// their full string form in JSON and CBOR.
package ref
