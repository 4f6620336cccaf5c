// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/ref"
)

// KeyName is the file name of the token key in the state directory.
const KeyName = "token-signing-key"

// Errors returned by Verify.
var (
	ErrMalformed = errors.New("accesstoken: malformed token")
	ErrInvalid   = errors.New("accesstoken: invalid token")
	ErrExpired   = errors.New("accesstoken: token has expired")
)

// Token is a verified access token.
type Token struct {
	Subject   ref.UserID
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuerConfig holds the parameters for NewIssuer.
type IssuerConfig struct {
	// PrivateKey signs tokens. Its public half verifies them.
	PrivateKey ed25519.PrivateKey

	// Issuer is the iss claim, the homeserver's name.
	Issuer string

	// Lifetime is how long a minted token stays valid.
	Lifetime time.Duration

	Clock clock.Clock
}

// Issuer mints and verifies tokens. Safe for concurrent use.
type Issuer struct {
	private  ed25519.PrivateKey
	public   ed25519.PublicKey
	issuer   string
	lifetime time.Duration
	clock    clock.Clock
	parser   *jwt.Parser
}

// NewIssuer creates an Issuer. Panics if a required field is missing.
func NewIssuer(config IssuerConfig) *Issuer {
	if len(config.PrivateKey) != ed25519.PrivateKeySize {
		panic("accesstoken.NewIssuer: PrivateKey is required")
	}
	if config.Issuer == "" {
		panic("accesstoken.NewIssuer: Issuer is required")
	}
	if config.Lifetime <= 0 {
		panic("accesstoken.NewIssuer: Lifetime must be positive")
	}
	if config.Clock == nil {
		panic("accesstoken.NewIssuer: Clock is required")
	}
	return &Issuer{
		private:  config.PrivateKey,
		public:   config.PrivateKey.Public().(ed25519.PublicKey),
		issuer:   config.Issuer,
		lifetime: config.Lifetime,
		clock:    config.Clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithIssuer(config.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(config.Clock.Now),
		),
	}
}

// Lifetime returns the validity period of minted tokens.
func (i *Issuer) Lifetime() time.Duration { return i.lifetime }

// Mint issues a token for subject.
func (i *Issuer) Mint(subject ref.UserID) (string, *Token, error) {
	var idBytes [16]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return "", nil, fmt.Errorf("generating token ID: %w", err)
	}
	now := i.clock.Now().Truncate(time.Second)
	token := &Token{
		Subject:   subject,
		ID:        hex.EncodeToString(idBytes[:]),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.lifetime),
	}
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject.String(),
		ID:        token.ID,
		IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.private)
	if err != nil {
		return "", nil, fmt.Errorf("signing access token: %w", err)
	}
	return signed, token, nil
}

// Verify parses raw and checks its signature, issuer and expiry.
func (i *Issuer) Verify(raw string) (*Token, error) {
	var claims jwt.RegisteredClaims
	_, err := i.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.public, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	subject, err := ref.ParseUserID(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", ErrInvalid, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalid)
	}
	return &Token{
		Subject:   subject,
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
