// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ServerKeyName is the file name of the server signing key in the
// state directory. The public half is stored alongside with a .pub
// suffix.
const ServerKeyName = "server-signing-key"

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes the keypair into stateDir as name and name.pub.
// The private key file has 0600 permissions; the public key file has
// 0644.
func SaveKeypair(stateDir, name string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	privatePath := filepath.Join(stateDir, name)
	if err := os.WriteFile(privatePath, private.Seed(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	publicPath := filepath.Join(stateDir, name+".pub")
	if err := os.WriteFile(publicPath, public, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadKeypair loads the keypair called name from stateDir. The private
// key file holds the 32-byte seed; the public key file must match it.
func LoadKeypair(stateDir, name string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(filepath.Join(stateDir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)

	publicBytes, err := os.ReadFile(filepath.Join(stateDir, name+".pub"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	public := private.Public().(ed25519.PublicKey)
	if !public.Equal(ed25519.PublicKey(publicBytes)) {
		return nil, nil, fmt.Errorf("public key file does not match private key")
	}
	return public, private, nil
}

// LoadOrGenerateKeypair loads the keypair called name from stateDir,
// or generates and saves a new one if no private key file exists. Returns whether
// the keypair was newly generated. A private key file that exists but
// cannot be loaded is an error, never silently replaced.
func LoadOrGenerateKeypair(stateDir, name string) (ed25519.PublicKey, ed25519.PrivateKey, bool, error) {
	public, private, err := LoadKeypair(stateDir, name)
	if err == nil {
		return public, private, false, nil
	}
	if _, statErr := os.Stat(filepath.Join(stateDir, name)); !errors.Is(statErr, fs.ErrNotExist) {
		return nil, nil, false, err
	}

	public, private, err = GenerateKeypair()
	if err != nil {
		return nil, nil, false, err
	}
	if err := SaveKeypair(stateDir, name, public, private); err != nil {
		return nil, nil, false, err
	}
	return public, private, true, nil
}

// KeyFromSeed derives the server key from a base64-encoded 32-byte
// seed, for deployments that inject key material through
// configuration instead of the state directory.
func KeyFromSeed(encoded string) (ed25519.PrivateKey, error) {
	seed, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// decodeBase64 accepts padded and unpadded standard base64.
func decodeBase64(encoded string) ([]byte, error) {
	if decoded, err := base64.RawStdEncoding.DecodeString(encoded); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// EncodeBase64 returns unpadded standard base64, the encoding used for
// keys and signatures on the wire.
func EncodeBase64(data []byte) string {
	return base64.RawStdEncoding.EncodeToString(data)
}
