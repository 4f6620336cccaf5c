// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/secret"
)

func mustKeypair(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func openString(t *testing.T, sealed *Sealed, role Role, associatedData []byte, key *secret.Buffer) (string, error) {
	t.Helper()
	buffer, err := Open(sealed, role, associatedData, key)
	if err != nil {
		return "", err
	}
	defer buffer.Close()
	return buffer.String(), nil
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender := mustKeypair(t)
	recipient := mustKeypair(t)
	associatedData := []byte("@alice:librachat.local\x00@bob:librachat.local")

	plaintexts := []string{
		"hi",
		"",
		strings.Repeat("long message ", 1000),
		"unicode: 日本語 ✓",
	}
	for _, plaintext := range plaintexts {
		sealed, err := Seal([]byte(plaintext), associatedData, sender.PublicKey, recipient.PublicKey)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if len(sealed.SenderEnvelope.Stanzas) == 0 || len(sealed.RecipientEnvelope.Stanzas) == 0 {
			t.Fatal("sealed message is missing an envelope")
		}

		got, err := openString(t, sealed, RoleSender, associatedData, sender.PrivateKey)
		if err != nil {
			t.Fatalf("sender Open: %v", err)
		}
		if plaintext != "" && got != plaintext {
			t.Errorf("sender decrypted %q, want %q", got, plaintext)
		}

		got, err = openString(t, sealed, RoleRecipient, associatedData, recipient.PrivateKey)
		if err != nil {
			t.Fatalf("recipient Open: %v", err)
		}
		if plaintext != "" && got != plaintext {
			t.Errorf("recipient decrypted %q, want %q", got, plaintext)
		}
	}
}

func TestThirdPartyCannotOpen(t *testing.T) {
	sender := mustKeypair(t)
	recipient := mustKeypair(t)
	intruder := mustKeypair(t)

	sealed, err := Seal([]byte("secret"), nil, sender.PublicKey, recipient.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	for _, role := range []Role{RoleSender, RoleRecipient} {
		if _, err := Open(sealed, role, nil, intruder.PrivateKey); fault.KindOf(err) != fault.DecryptionFailure {
			t.Errorf("intruder Open(%v) = %v, want DecryptionFailure", role, err)
		}
	}

	// Each party can only open their own envelope.
	if _, err := Open(sealed, RoleRecipient, nil, sender.PrivateKey); err == nil {
		t.Error("sender opened the recipient envelope")
	}
	if _, err := Open(sealed, RoleSender, nil, recipient.PrivateKey); err == nil {
		t.Error("recipient opened the sender envelope")
	}
}

func TestFreshKeyAndNoncePerMessage(t *testing.T) {
	sender := mustKeypair(t)
	recipient := mustKeypair(t)
	first, err := Seal([]byte("same"), nil, sender.PublicKey, recipient.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Seal([]byte("same"), nil, sender.PublicKey, recipient.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first.Nonce, second.Nonce) {
		t.Error("nonce reused across messages")
	}
	if bytes.Equal(first.Ciphertext, second.Ciphertext) {
		t.Error("identical ciphertext for two messages")
	}
	if bytes.Equal(first.RecipientEnvelope.Stanzas[0].Body, second.RecipientEnvelope.Stanzas[0].Body) {
		t.Error("identical wrapped key for two messages")
	}
}

func TestTamperingIsDecryptionFailure(t *testing.T) {
	sender := mustKeypair(t)
	recipient := mustKeypair(t)
	associatedData := []byte("pair")

	tests := []struct {
		name   string
		mutate func(*Sealed) []byte
	}{
		{"ciphertext", func(s *Sealed) []byte { s.Ciphertext[0] ^= 1; return associatedData }},
		{"nonce", func(s *Sealed) []byte { s.Nonce[3] ^= 1; return associatedData }},
		{"short nonce", func(s *Sealed) []byte { s.Nonce = s.Nonce[:12]; return associatedData }},
		{"associated data", func(s *Sealed) []byte { return []byte("other pair") }},
		{"envelope body", func(s *Sealed) []byte { s.RecipientEnvelope.Stanzas[0].Body[0] ^= 1; return associatedData }},
		{"empty envelope", func(s *Sealed) []byte { s.RecipientEnvelope = Envelope{}; return associatedData }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sealed, err := Seal([]byte("hello"), associatedData, sender.PublicKey, recipient.PublicKey)
			if err != nil {
				t.Fatal(err)
			}
			openWith := test.mutate(sealed)
			_, err = Open(sealed, RoleRecipient, openWith, recipient.PrivateKey)
			if fault.KindOf(err) != fault.DecryptionFailure {
				t.Errorf("Open = %v, want DecryptionFailure", err)
			}
		})
	}
}

func TestSealRejectsBadPublicKey(t *testing.T) {
	recipient := mustKeypair(t)
	if _, err := Seal([]byte("x"), nil, "not-a-key", recipient.PublicKey); err == nil {
		t.Error("expected error for malformed sender key")
	}
	if err := ValidatePublicKey(recipient.PublicKey); err != nil {
		t.Errorf("ValidatePublicKey: %v", err)
	}
	if err := ValidatePublicKey("age1bogus"); err == nil {
		t.Error("ValidatePublicKey accepted garbage")
	}
}
