// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package accounts issues local identities and resolves bearer
// credentials to them.
//
// Registration validates the localpart, hashes the password with
// bcrypt, and generates the identity's age keypair for private
// messaging. Login and registration both return an access token
// minted by lib/accesstoken. Logout records the token's revocation
// digest in the store and the in-memory blacklist; the blacklist is
// reloaded from the store at startup and swept by RunMaintenance.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/librachat/lib/accesstoken"
	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/store"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// Config holds the parameters for New.
type Config struct {
	Store     *store.Store
	Issuer    *accesstoken.Issuer
	Blacklist *accesstoken.Blacklist
	Clock     clock.Clock
	Logger    *slog.Logger

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service implements registration, login, logout, and bearer
// resolution. Safe for concurrent use.
type Service struct {
	store      *store.Store
	serverName ref.ServerName
	issuer     *accesstoken.Issuer
	blacklist  *accesstoken.Blacklist
	clock      clock.Clock
	logger     *slog.Logger
	bcryptCost int
}

// New creates a Service. Panics if a required field is missing.
func New(config Config) *Service {
	if config.Store == nil {
		panic("accounts.New: Store is required")
	}
	if config.Issuer == nil {
		panic("accounts.New: Issuer is required")
	}
	if config.Blacklist == nil {
		panic("accounts.New: Blacklist is required")
	}
	if config.Clock == nil {
		panic("accounts.New: Clock is required")
	}
	if config.Logger == nil {
		panic("accounts.New: Logger is required")
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      config.Store,
		serverName: config.Store.ServerName(),
		issuer:     config.Issuer,
		blacklist:  config.Blacklist,
		clock:      config.Clock,
		logger:     config.Logger,
		bcryptCost: config.BcryptCost,
	}
}

// Session is the result of a successful registration or login.
type Session struct {
	AccessToken string
	ExpiresIn   time.Duration
	Identity    schema.Identity
}

// Caller is an authenticated request principal.
type Caller struct {
	Identity schema.Identity
	Token    *accesstoken.Token
}

// UserID is shorthand for c.Identity.UserID.
func (c *Caller) UserID() ref.UserID { return c.Identity.UserID }

// Registration is the input to Register.
type Registration struct {
	Username    string
	Password    string
	DisplayName string
	Email       string
}

// Register creates a local identity and logs it in. The username is
// lowercased and must be a valid localpart. Fails with
// fault.AlreadyExists if the username is taken.
func (s *Service) Register(ctx context.Context, registration Registration) (*Session, error) {
	localpart := strings.ToLower(strings.TrimSpace(registration.Username))
	userID, err := ref.NewUserID(localpart, s.serverName)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(registration.Password) < MinPasswordLength {
		return nil, fault.New(fault.InvalidRequest, "password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(registration.Password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fault.New(fault.InvalidRequest, "password is too long")
	}
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	keypair, err := envelope.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generating keypair for %s: %w", userID, err)
	}
	defer keypair.Close()

	displayName := strings.TrimSpace(registration.DisplayName)
	if displayName == "" {
		displayName = localpart
	}
	identity := schema.Identity{
		UserID:      userID,
		DisplayName: displayName,
		PublicKey:   keypair.PublicKey,
		CreatedTS:   s.clock.Now().UnixMilli(),
	}
	err = s.store.CreateUser(ctx, store.NewUser{
		Identity:     identity,
		Email:        strings.TrimSpace(registration.Email),
		PasswordHash: hash,
		PrivateKey:   keypair.PrivateKey,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", userID.String())
	return s.startSession(identity)
}

// Login verifies a password and issues a token. login is a bare
// username or a full user ID on this server. Unknown users and wrong
// passwords fail identically with fault.AuthenticationRequired.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	var userID ref.UserID
	var err error
	if strings.HasPrefix(login, "@") {
		userID, err = ref.ParseUserID(login)
		if err != nil {
			return nil, err
		}
	} else {
		userID = ref.MatrixUserID(strings.ToLower(strings.TrimSpace(login)), s.serverName)
	}

	invalid := fault.New(fault.AuthenticationRequired, "invalid username or password")
	if !userID.IsLocalTo(s.serverName) {
		return nil, invalid
	}
	hash, err := s.store.PasswordHash(ctx, userID)
	if fault.HasKind(err, fault.NotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		s.logger.Info("login failed", "user_id", userID.String())
		return nil, invalid
	}
	identity, err := s.store.Identity(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.startSession(*identity)
}

func (s *Service) startSession(identity schema.Identity) (*Session, error) {
	raw, _, err := s.issuer.Mint(identity.UserID)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: raw,
		ExpiresIn:   s.issuer.Lifetime(),
		Identity:    identity,
	}, nil
}

// Authenticate resolves a raw bearer token to its caller. Every
// failure is fault.AuthenticationRequired.
func (s *Service) Authenticate(ctx context.Context, raw string) (*Caller, error) {
	if raw == "" {
		return nil, fault.New(fault.AuthenticationRequired, "missing access token")
	}
	token, err := s.issuer.Verify(raw)
	switch {
	case errors.Is(err, accesstoken.ErrExpired):
		return nil, fault.New(fault.AuthenticationRequired, "access token has expired")
	case err != nil:
		return nil, fault.New(fault.AuthenticationRequired, "invalid access token")
	}
	if s.blacklist.IsRevoked(accesstoken.Digest(raw)) {
		return nil, fault.New(fault.AuthenticationRequired, "access token has been revoked")
	}
	identity, err := s.store.Identity(ctx, token.Subject)
	if fault.HasKind(err, fault.NotFound) {
		return nil, fault.New(fault.AuthenticationRequired, "access token subject %s does not exist", token.Subject)
	}
	if err != nil {
		return nil, err
	}
	return &Caller{Identity: *identity, Token: token}, nil
}

// Logout revokes raw until its natural expiry.
func (s *Service) Logout(ctx context.Context, raw string) error {
	caller, err := s.Authenticate(ctx, raw)
	if err != nil {
		return err
	}
	digest := accesstoken.Digest(raw)
	if err := s.store.RevokeToken(ctx, digest, caller.Token.ExpiresAt); err != nil {
		return err
	}
	s.blacklist.Revoke(digest, caller.Token.ExpiresAt)
	s.logger.Info("access token revoked", "user_id", caller.UserID().String(), "token_id", caller.Token.ID)
	return nil
}

// LoadRevocations fills the blacklist from the store. Called once at
// startup so that tokens revoked before a restart stay revoked.
func (s *Service) LoadRevocations(ctx context.Context) error {
	revoked, err := s.store.RevokedTokens(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	for digest, expiresAt := range revoked {
		s.blacklist.Revoke(digest, expiresAt)
	}
	s.logger.Info("revocations loaded", "count", len(revoked))
	return nil
}

// RunMaintenance drops expired revocations from the blacklist and the
// store every interval until ctx is cancelled.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clock.Now()
			removed := s.blacklist.Cleanup(now)
			purged, err := s.store.PurgeRevokedTokens(ctx, now)
			if err != nil {
				s.logger.Error("purging revoked tokens", "error", err)
				continue
			}
			if removed > 0 || purged > 0 {
				s.logger.Info("expired revocations swept", "blacklist", removed, "store", purged)
			}
		}
	}
}
