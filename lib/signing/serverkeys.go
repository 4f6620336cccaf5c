// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto/ed25519"
	"fmt"

	"github.com/bureau-foundation/librachat/lib/ref"
)

// VerifyKey is one published public key.
type VerifyKey struct {
	Key string `json:"key"`
}

// ServerKeys is the self-signed server-key document.
type ServerKeys struct {
	ServerName    ref.ServerName       `json:"server_name"`
	VerifyKeys    map[string]VerifyKey `json:"verify_keys"`
	OldVerifyKeys map[string]VerifyKey `json:"old_verify_keys"`
	ValidUntilTS  int64                `json:"valid_until_ts"`
	Signatures    Signatures           `json:"signatures,omitempty"`
}

// PublishableKeys returns the current key document, signed by the key
// it publishes, valid for the configured window from now.
func (s *Signer) PublishableKeys() (*ServerKeys, error) {
	public, err := s.PublicKey()
	if err != nil {
		return nil, err
	}
	document := &ServerKeys{
		ServerName:    s.serverName,
		VerifyKeys:    map[string]VerifyKey{s.keyID: {Key: EncodeBase64(public)}},
		OldVerifyKeys: map[string]VerifyKey{},
		ValidUntilTS:  s.clock.Now().Add(s.keyValidity).UnixMilli(),
	}
	signatures, err := s.SignJSON(document)
	if err != nil {
		return nil, err
	}
	document.Signatures = signatures
	return document, nil
}

// Key decodes the published key with the given ID.
func (k *ServerKeys) Key(keyID string) (ed25519.PublicKey, error) {
	verifyKey, ok := k.VerifyKeys[keyID]
	if !ok {
		return nil, fmt.Errorf("server %s publishes no key %q", k.ServerName, keyID)
	}
	decoded, err := decodeBase64(verifyKey.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding key %q: %w", keyID, err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key %q has %d bytes, want %d", keyID, len(decoded), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}

// VerifySelfSigned checks every published key's signature over the
// document. A remote server's key document is only trusted after this
// passes.
func (k *ServerKeys) VerifySelfSigned() error {
	if len(k.VerifyKeys) == 0 {
		return fmt.Errorf("server %s publishes no verify keys", k.ServerName)
	}
	for keyID := range k.VerifyKeys {
		public, err := k.Key(keyID)
		if err != nil {
			return err
		}
		if err := VerifyJSON(k, k.ServerName, keyID, public); err != nil {
			return fmt.Errorf("key %q: %w", keyID, err)
		}
	}
	return nil
}
