// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the homeserver's storage encodings.
//
// JSON is the format of everything a client or remote server sees.
// What the store writes to its own columns goes through this package:
//
//   - CBOR (Core Deterministic Encoding, RFC 8949 §4.2) for structured
//     blobs such as private-message envelopes. Types implementing
//     encoding.TextMarshaler (every lib/ref identifier) encode as text
//     strings.
//   - A one-byte-tagged compression frame for large text columns such
//     as event JSON, using LZ4 block or zstd compression. Incompressible
//     input is stored uncompressed under the "none" tag.
//
//	data, err := codec.Marshal(value)
//	framed, err := codec.Compress(eventJSON, codec.CompressionZstd)
//	eventJSON, err = codec.Decompress(framed)
package codec
