// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// digestKey is the BLAKE3 key for revocation digests: the ASCII
// domain name, zero-padded to 32 bytes. Changing it orphans every
// stored revocation.
var digestKey = [32]byte{
	'l', 'i', 'b', 'r', 'a', 'c', 'h', 'a', 't', '.', 'a', 'c', 'c', 'e', 's', 's',
	't', 'o', 'k', 'e', 'n', '.', 'r', 'e', 'v', 'o', 'k', 'e', 0, 0, 0, 0,
}

// Digest returns the hex revocation digest of a raw token string.
func Digest(raw string) string {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("accesstoken: blake3.NewKeyed: " + err.Error())
	}
	hasher.WriteString(raw)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Blacklist is the in-memory set of revoked token digests. Entries
// carry the token's natural expiry; once that passes, Verify rejects
// the token anyway and Cleanup drops the entry.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke adds digest to the blacklist until expiresAt.
func (b *Blacklist) Revoke(digest string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[digest] = expiresAt
}

// IsRevoked reports whether digest has been revoked.
func (b *Blacklist) IsRevoked(digest string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[digest]
	return exists
}

// Cleanup removes entries whose token expiry has passed. Returns the
// number removed.
func (b *Blacklist) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for digest, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, digest)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
