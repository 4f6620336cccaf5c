// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds private key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked with mlock and marked
// MADV_DONTDUMP. Closing it wipes, unlocks, and unmaps the region.
// Users' age X25519 identities travel through lib/envelope as Buffers,
// decrypted private messages come back as Buffers, and the keytool
// reads signing seeds from files or stdin with [ReadFromPath].
package secret
