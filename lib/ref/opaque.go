// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// opaqueBytes is the entropy in a generated room or event local part.
const opaqueBytes = 16

// newOpaqueLocalpart returns 128 random bits, base64url-encoded
// without padding (22 characters, none of them ':').
func newOpaqueLocalpart() string {
	var buffer [opaqueBytes]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		// crypto/rand.Read does not fail on supported platforms.
		panic(fmt.Sprintf("ref: reading random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buffer[:])
}
