// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope implements pairwise hybrid encryption for private
// messages.
//
// Each message is encrypted once under a fresh 16-byte file key. The
// payload key is derived from the file key with HKDF-SHA256, salted
// with the message nonce, and used with XChaCha20-Poly1305. The file
// key is then wrapped twice with filippo.io/age X25519 recipient
// stanzas: once to the sender's public key and once to the
// recipient's. Either party can recover the plaintext with their own
// private key alone; nobody else can.
//
// A Sealed value always carries exactly two envelopes. Seal never
// returns a partially wrapped message.
//
// Identity keys are age X25519 keypairs (age1... public keys,
// AGE-SECRET-KEY-1... private keys). Private keys are handled as
// *secret.Buffer values.
package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/secret"
)

const (
	// fileKeySize is the symmetric key size age recipients wrap.
	fileKeySize = 16

	// payloadInfo is the HKDF info string binding derived keys to
	// this construction.
	payloadInfo = "librachat private message v1"
)

// Role selects which envelope a reader opens.
type Role int

const (
	RoleSender Role = iota + 1
	RoleRecipient
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleRecipient:
		return "recipient"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Stanza is a serialized age recipient stanza.
type Stanza struct {
	Type string   `cbor:"1,keyasint"`
	Args []string `cbor:"2,keyasint,omitempty"`
	Body []byte   `cbor:"3,keyasint"`
}

// Envelope is the file key wrapped to one party.
type Envelope struct {
	Stanzas []Stanza `cbor:"1,keyasint"`
}

// Sealed is an encrypted message with its two envelopes.
type Sealed struct {
	Ciphertext        []byte   `cbor:"1,keyasint"`
	Nonce             []byte   `cbor:"2,keyasint"`
	SenderEnvelope    Envelope `cbor:"3,keyasint"`
	RecipientEnvelope Envelope `cbor:"4,keyasint"`
}

// EnvelopeFor returns the envelope addressed to role.
func (s *Sealed) EnvelopeFor(role Role) (Envelope, error) {
	switch role {
	case RoleSender:
		return s.SenderEnvelope, nil
	case RoleRecipient:
		return s.RecipientEnvelope, nil
	default:
		return Envelope{}, fmt.Errorf("unknown envelope role %v", role)
	}
}

// Seal encrypts plaintext so that the holders of senderPublicKey and
// recipientPublicKey can each decrypt it. associatedData is
// authenticated but not encrypted; Open must be given the same bytes.
func Seal(plaintext, associatedData []byte, senderPublicKey, recipientPublicKey string) (*Sealed, error) {
	senderRecipient, err := age.ParseX25519Recipient(senderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing sender public key: %w", err)
	}
	recipientRecipient, err := age.ParseX25519Recipient(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient public key: %w", err)
	}

	fileKey := make([]byte, fileKeySize)
	defer clear(fileKey)
	if _, err := rand.Read(fileKey); err != nil {
		return nil, fmt.Errorf("generating file key: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := payloadCipher(fileKey, nonce)
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, associatedData)

	senderEnvelope, err := wrap(senderRecipient, fileKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping file key for sender: %w", err)
	}
	recipientEnvelope, err := wrap(recipientRecipient, fileKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping file key for recipient: %w", err)
	}

	return &Sealed{
		Ciphertext:        ciphertext,
		Nonce:             nonce,
		SenderEnvelope:    senderEnvelope,
		RecipientEnvelope: recipientEnvelope,
	}, nil
}

// Open decrypts sealed using the envelope for role and privateKey.
// Every failure, from a malformed key to a wrong identity to a
// tampered ciphertext, is a fault.DecryptionFailure. privateKey is
// borrowed and not closed. The caller must Close the returned buffer.
func Open(sealed *Sealed, role Role, associatedData []byte, privateKey *secret.Buffer) (*secret.Buffer, error) {
	envelope, err := sealed.EnvelopeFor(role)
	if err != nil {
		return nil, fault.Wrap(fault.DecryptionFailure, err, "selecting envelope")
	}
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fault.Wrap(fault.DecryptionFailure, err, "parsing private key")
	}

	stanzas := make([]*age.Stanza, len(envelope.Stanzas))
	for i, stanza := range envelope.Stanzas {
		stanzas[i] = &age.Stanza{Type: stanza.Type, Args: stanza.Args, Body: stanza.Body}
	}
	fileKey, err := identity.Unwrap(stanzas)
	if err != nil {
		if errors.Is(err, age.ErrIncorrectIdentity) {
			return nil, fault.Wrap(fault.DecryptionFailure, err, "%s envelope is not addressed to this key", role)
		}
		return nil, fault.Wrap(fault.DecryptionFailure, err, "unwrapping %s envelope", role)
	}
	defer clear(fileKey)

	if len(sealed.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fault.New(fault.DecryptionFailure, "nonce has %d bytes, want %d", len(sealed.Nonce), chacha20poly1305.NonceSizeX)
	}
	aead, err := payloadCipher(fileKey, sealed.Nonce)
	if err != nil {
		return nil, fault.Wrap(fault.DecryptionFailure, err, "deriving payload key")
	}
	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, associatedData)
	if err != nil {
		return nil, fault.Wrap(fault.DecryptionFailure, err, "authenticating ciphertext")
	}

	if len(plaintext) == 0 {
		buffer, err := secret.New(1)
		if err != nil {
			return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
		}
		return buffer, nil
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		clear(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

func wrap(recipient *age.X25519Recipient, fileKey []byte) (Envelope, error) {
	stanzas, err := recipient.Wrap(fileKey)
	if err != nil {
		return Envelope{}, err
	}
	envelope := Envelope{Stanzas: make([]Stanza, len(stanzas))}
	for i, stanza := range stanzas {
		envelope.Stanzas[i] = Stanza{Type: stanza.Type, Args: stanza.Args, Body: stanza.Body}
	}
	return envelope, nil
}

// payloadCipher derives the XChaCha20-Poly1305 key from the file key.
func payloadCipher(fileKey, nonce []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	defer clear(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, fileKey, nonce, []byte(payloadInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving payload key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating payload cipher: %w", err)
	}
	return aead, nil
}
