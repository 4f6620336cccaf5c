// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contacts maintains the contact graph and the conversation
// index built on it.
//
// A contact is a directed edge from owner to contact carrying a
// snapshot of the contact's display name and public key. Adding a
// local user mirrors the edge back in the same transaction, so both
// parties see each other without an accept step. Removal deactivates
// the edge; adding again reactivates it with a fresh snapshot.
package contacts

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/store"
)

// SearchLimit caps the number of search results.
const SearchLimit = 20

// Config holds the parameters for New.
type Config struct {
	Store  *store.Store
	Clock  clock.Clock
	Logger *slog.Logger
}

// Service implements contact search, add, remove, and listings.
type Service struct {
	store      *store.Store
	serverName ref.ServerName
	clock      clock.Clock
	logger     *slog.Logger
}

// New creates a Service. Panics if a required field is missing.
func New(config Config) *Service {
	if config.Store == nil {
		panic("contacts.New: Store is required")
	}
	if config.Clock == nil {
		panic("contacts.New: Clock is required")
	}
	if config.Logger == nil {
		panic("contacts.New: Logger is required")
	}
	return &Service{
		store:      config.Store,
		serverName: config.Store.ServerName(),
		clock:      config.Clock,
		logger:     config.Logger,
	}
}

// Match is one search result.
type Match struct {
	UserID      ref.UserID
	DisplayName string

	// IsFederated marks a user on another server. Such matches are
	// parsed from the query, not resolved.
	IsFederated bool
}

// Search finds users by exact user ID or by localpart substring. The
// searcher is never among the results.
func (s *Service) Search(ctx context.Context, searcher ref.UserID, query string) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fault.New(fault.InvalidRequest, "search query is empty")
	}

	if strings.HasPrefix(query, "@") {
		userID, err := ref.ParseUserID(query)
		if err != nil {
			return nil, err
		}
		if userID == searcher {
			return []Match{}, nil
		}
		if !userID.IsLocalTo(s.serverName) {
			return []Match{{UserID: userID, DisplayName: userID.Localpart(), IsFederated: true}}, nil
		}
		identity, err := s.store.Identity(ctx, userID)
		if fault.HasKind(err, fault.NotFound) {
			return []Match{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []Match{{UserID: identity.UserID, DisplayName: identity.DisplayName}}, nil
	}

	identities, err := s.store.SearchUsers(ctx, strings.ToLower(query), SearchLimit+1)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(identities))
	for _, identity := range identities {
		if identity.UserID == searcher || len(matches) == SearchLimit {
			continue
		}
		matches = append(matches, Match{UserID: identity.UserID, DisplayName: identity.DisplayName})
	}
	return matches, nil
}

// Add creates the edge owner->target with a snapshot of target's
// public key, mirroring it back when target has never had an edge to
// owner. A reverse edge target removed stays removed. Fails with fault.InvalidOperation for a self-add and
// fault.DuplicateContact if the edge is already active.
func (s *Service) Add(ctx context.Context, owner, target ref.UserID) (*schema.Contact, error) {
	if owner == target {
		return nil, fault.New(fault.InvalidOperation, "cannot add yourself as a contact")
	}
	if !target.IsLocalTo(s.serverName) {
		return nil, fault.New(fault.InvalidOperation, "contacts on other servers are not supported")
	}
	targetIdentity, err := s.store.Identity(ctx, target)
	if err != nil {
		return nil, err
	}
	ownerIdentity, err := s.store.Identity(ctx, owner)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UnixMilli()
	edge := &schema.Contact{
		Owner:       owner,
		Contact:     target,
		DisplayName: targetIdentity.DisplayName,
		PublicKey:   targetIdentity.PublicKey,
		AddedTS:     now,
		Active:      true,
	}
	mirror := &schema.Contact{
		Owner:       target,
		Contact:     owner,
		DisplayName: ownerIdentity.DisplayName,
		PublicKey:   ownerIdentity.PublicKey,
		AddedTS:     now,
		Active:      true,
	}
	mirrored, err := s.store.AddContact(ctx, edge, mirror)
	if err != nil {
		return nil, err
	}
	s.logger.Info("contact added",
		"owner", owner.String(),
		"contact", target.String(),
		"mirrored", mirrored,
	)
	return edge, nil
}

// Remove deactivates the edge owner->target. The reverse edge is
// left alone. Fails with fault.NotFound if no active edge exists.
func (s *Service) Remove(ctx context.Context, owner, target ref.UserID) error {
	if err := s.store.RemoveContact(ctx, owner, target); err != nil {
		return err
	}
	s.logger.Info("contact removed", "owner", owner.String(), "contact", target.String())
	return nil
}

// List returns owner's active contacts, oldest first.
func (s *Service) List(ctx context.Context, owner ref.UserID) ([]schema.Contact, error) {
	return s.store.Contacts(ctx, owner)
}

// Conversations returns owner's contacts with the time of the last
// private message exchanged with each, newest first, contacts without
// messages last.
func (s *Service) Conversations(ctx context.Context, owner ref.UserID) ([]schema.Conversation, error) {
	return s.store.Conversations(ctx, owner)
}
