// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing implements the homeserver's identity signatures:
// canonical JSON serialization, Ed25519 signing with a single server
// key, signature verification, and the self-signed server-key document
// served at /_matrix/key/v2/server.
//
// The server key is held by a Signer. A Signer is created once at
// startup and passed to every component that signs; its private key is
// loaded on first use (or by an explicit Init) and never changes for
// the life of the process. If the key cannot be loaded, every signing
// call fails with a fault.SigningFault error. Callers surface that as a
// server fault; they never fall back to returning unsigned data.
//
// Signatures are encoded as unpadded standard base64, keyed by server
// name and then by key ID ("ed25519:key1"), matching the Matrix
// signatures block:
//
//	"signatures": {"example.org": {"ed25519:key1": "<base64>"}}
package signing
