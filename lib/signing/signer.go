// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
)

// Algorithm is the only signing algorithm this server uses.
const Algorithm = "ed25519"

// DefaultKeyValidity is how long a published server key document
// stays valid when SignerConfig.KeyValidity is zero.
const DefaultKeyValidity = 24 * time.Hour

// Errors returned by VerifyJSON.
var (
	ErrSignatureMissing = errors.New("signing: no signature for server and key ID")
	ErrSignatureInvalid = errors.New("signing: invalid Ed25519 signature")
)

// Signatures is the signatures block of a signed JSON object: server
// name, then key ID, then unpadded base64 signature.
type Signatures map[string]map[string]string

// KeyLoader produces the server's private key. It is called at most
// once per Signer.
type KeyLoader func() (ed25519.PrivateKey, error)

// SignerConfig holds the parameters for NewSigner.
type SignerConfig struct {
	// ServerName keys the signatures block.
	ServerName ref.ServerName

	// KeyName is the suffix of the key ID. "key1" yields "ed25519:key1".
	KeyName string

	// Load supplies the private key on first use.
	Load KeyLoader

	// KeyValidity is the window advertised in valid_until_ts.
	KeyValidity time.Duration

	Clock clock.Clock
}

// Signer holds the server signing key. The key is loaded once, on the
// first call to Init, Sign, or any method that needs it; the outcome of
// that load (key or error) is fixed for the life of the Signer.
//
// Signer is safe for concurrent use.
type Signer struct {
	serverName  ref.ServerName
	keyID       string
	keyValidity time.Duration
	clock       clock.Clock
	load        KeyLoader

	once    sync.Once
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	loadErr error
}

// NewSigner creates a Signer. Panics if ServerName, KeyName, Load, or
// Clock is missing.
func NewSigner(config SignerConfig) *Signer {
	if config.ServerName.IsZero() {
		panic("signing.NewSigner: ServerName is required")
	}
	if config.KeyName == "" {
		panic("signing.NewSigner: KeyName is required")
	}
	if config.Load == nil {
		panic("signing.NewSigner: Load is required")
	}
	if config.Clock == nil {
		panic("signing.NewSigner: Clock is required")
	}
	validity := config.KeyValidity
	if validity <= 0 {
		validity = DefaultKeyValidity
	}
	return &Signer{
		serverName:  config.ServerName,
		keyID:       Algorithm + ":" + config.KeyName,
		keyValidity: validity,
		clock:       config.Clock,
		load:        config.Load,
	}
}

// Init loads the key if it has not been loaded yet and reports the
// result. Calling it at startup turns a missing or corrupt key into an
// immediate failure rather than a failure on the first request.
func (s *Signer) Init() error {
	s.once.Do(func() {
		private, err := s.load()
		if err != nil {
			s.loadErr = fault.Wrap(fault.SigningFault, err, "loading server signing key")
			return
		}
		if len(private) != ed25519.PrivateKeySize {
			s.loadErr = fault.New(fault.SigningFault, "server signing key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
			return
		}
		s.private = private
		s.public = private.Public().(ed25519.PublicKey)
	})
	return s.loadErr
}

// ServerName returns the name the Signer signs as.
func (s *Signer) ServerName() ref.ServerName { return s.serverName }

// KeyID returns the algorithm-qualified key ID, e.g. "ed25519:key1".
func (s *Signer) KeyID() string { return s.keyID }

// PublicKey returns the public half of the server key.
func (s *Signer) PublicKey() (ed25519.PublicKey, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s.public, nil
}

// Sign returns the detached Ed25519 signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	return ed25519.Sign(s.private, data), nil
}

// Verify reports whether signature is a valid Ed25519 signature of
// data under publicKey.
func Verify(data, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}

// SignJSON canonicalizes value and returns a signatures block holding
// this server's signature. value's own signatures field, if any, is
// not part of the signed bytes; the caller merges the result into it.
func (s *Signer) SignJSON(value any) (Signatures, error) {
	canonical, err := Canonicalize(value)
	if err != nil {
		return nil, err
	}
	signature, err := s.Sign(canonical)
	if err != nil {
		return nil, err
	}
	return Signatures{s.serverName.String(): {s.keyID: EncodeBase64(signature)}}, nil
}

// SignObject signs a JSON object in place, merging this server's
// signature into any existing signatures block.
func (s *Signer) SignObject(object map[string]any) error {
	signatures, err := s.SignJSON(object)
	if err != nil {
		return err
	}
	existing, err := signaturesOf(object)
	if err != nil {
		return err
	}
	existing.merge(signatures)
	object[fieldSignatures] = existing
	return nil
}

// VerifyJSON checks the signature that server made with keyID over
// value, which must carry a signatures block.
func VerifyJSON(value any, server ref.ServerName, keyID string, publicKey ed25519.PublicKey) error {
	generic, err := toGeneric(value)
	if err != nil {
		return err
	}
	object, ok := generic.(map[string]any)
	if !ok {
		return fmt.Errorf("signing: signed value is %T, want object", generic)
	}
	signatures, err := signaturesOf(object)
	if err != nil {
		return err
	}
	encoded, ok := signatures[server.String()][keyID]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrSignatureMissing, server, keyID)
	}
	signature, err := decodeBase64(encoded)
	if err != nil {
		return fmt.Errorf("%w: decoding: %v", ErrSignatureInvalid, err)
	}
	canonical, err := Canonicalize(object)
	if err != nil {
		return err
	}
	if !Verify(canonical, signature, publicKey) {
		return ErrSignatureInvalid
	}
	return nil
}

// signaturesOf extracts the signatures block from a generic object.
func signaturesOf(object map[string]any) (Signatures, error) {
	result := Signatures{}
	raw, ok := object[fieldSignatures]
	if !ok || raw == nil {
		return result, nil
	}
	switch typed := raw.(type) {
	case Signatures:
		result.merge(typed)
		return result, nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("signing: encoding signatures block: %w", err)
		}
		if err := json.Unmarshal(encoded, &result); err != nil {
			return nil, fmt.Errorf("signing: malformed signatures block: %w", err)
		}
		return result, nil
	}
}

func (s Signatures) merge(other Signatures) {
	for server, keys := range other {
		if s[server] == nil {
			s[server] = make(map[string]string, len(keys))
		}
		for keyID, signature := range keys {
			s[server][keyID] = signature
		}
	}
}
