// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/librachat/delivery"
	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/metrics"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/signing"
	"github.com/bureau-foundation/librachat/store"
)

// Preset selects a room's join rule at creation.
type Preset string

const (
	// PresetPublicChat rooms are listed in the public directory and
	// can be joined without an invite.
	PresetPublicChat Preset = "public_chat"

	// PresetPrivateChat rooms require an invite before join.
	PresetPrivateChat Preset = "private_chat"
)

// Limits on ListMessages.
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 1000
)

// Config holds the parameters for New.
type Config struct {
	Store  *store.Store
	Signer *signing.Signer
	Hub    *delivery.Hub
	Clock  clock.Clock
	Logger *slog.Logger

	// DefaultPollTimeout applies when Poll is given a non-positive
	// timeout. Defaults to 30s.
	DefaultPollTimeout time.Duration

	// MaxPollTimeout caps the timeout a caller may request. Defaults
	// to 60s.
	MaxPollTimeout time.Duration
}

// Service is the room and event layer. Every mutation of a room's
// event sequence holds that room's lock from the membership check to
// the publish, so events are appended and delivered in one order per
// room while different rooms proceed independently.
type Service struct {
	store              *store.Store
	signer             *signing.Signer
	hub                *delivery.Hub
	clock              clock.Clock
	logger             *slog.Logger
	serverName         ref.ServerName
	defaultPollTimeout time.Duration
	maxPollTimeout     time.Duration

	locksMu sync.Mutex
	locks   map[ref.RoomID]*sync.Mutex
}

// New creates a Service. Panics if a required field is missing.
func New(config Config) *Service {
	if config.Store == nil {
		panic("rooms.New: Store is required")
	}
	if config.Signer == nil {
		panic("rooms.New: Signer is required")
	}
	if config.Hub == nil {
		panic("rooms.New: Hub is required")
	}
	if config.Clock == nil {
		panic("rooms.New: Clock is required")
	}
	if config.Logger == nil {
		panic("rooms.New: Logger is required")
	}
	if config.DefaultPollTimeout <= 0 {
		config.DefaultPollTimeout = 30 * time.Second
	}
	if config.MaxPollTimeout <= 0 {
		config.MaxPollTimeout = 60 * time.Second
	}
	if config.DefaultPollTimeout > config.MaxPollTimeout {
		config.DefaultPollTimeout = config.MaxPollTimeout
	}
	return &Service{
		store:              config.Store,
		signer:             config.Signer,
		hub:                config.Hub,
		clock:              config.Clock,
		logger:             config.Logger,
		serverName:         config.Store.ServerName(),
		defaultPollTimeout: config.DefaultPollTimeout,
		maxPollTimeout:     config.MaxPollTimeout,
		locks:              make(map[ref.RoomID]*sync.Mutex),
	}
}

// lockRoom serializes mutations of one room. The returned function
// releases the lock.
func (s *Service) lockRoom(room ref.RoomID) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[room]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[room] = lock
	}
	s.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// newEvent builds and signs an event from this server.
func (s *Service) newEvent(room ref.RoomID, sender ref.UserID, content schema.Content, stateKey *string) (*schema.Event, error) {
	event := &schema.Event{
		EventID:        ref.NewEventID(s.serverName),
		RoomID:         room,
		Sender:         sender,
		Type:           content.EventType(),
		StateKey:       stateKey,
		Origin:         s.serverName,
		OriginServerTS: s.clock.Now().UnixMilli(),
		Content:        content,
	}
	signatures, err := s.signer.SignJSON(event)
	if err != nil {
		return nil, fmt.Errorf("signing %s event: %w", event.Type, err)
	}
	event.Signatures = signatures
	return event, nil
}

func (s *Service) memberEvent(room ref.RoomID, sender, target ref.UserID, membership schema.Membership, displayName string) (*schema.Event, error) {
	stateKey := target.String()
	return s.newEvent(room, sender, &schema.MemberContent{
		Membership:  membership,
		DisplayName: displayName,
	}, &stateKey)
}

// append stores event and hands it to the hub. Caller holds the
// room lock.
func (s *Service) append(ctx context.Context, event *schema.Event) error {
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	metrics.EventsAppended.WithLabelValues(event.Type).Inc()
	s.hub.Publish(event)
	return nil
}

func (s *Service) displayName(ctx context.Context, user ref.UserID) string {
	identity, err := s.store.Identity(ctx, user)
	if err != nil {
		return ""
	}
	return identity.DisplayName
}

// CreateRequest is the input to CreateRoom.
type CreateRequest struct {
	Name   string
	Topic  string
	Preset Preset
}

// CreateRoom creates a room owned by creator, appends the signed
// m.room.create event and the creator's join, and returns the room.
// A named room gets an alias derived from the name.
func (s *Service) CreateRoom(ctx context.Context, creator ref.UserID, request CreateRequest) (*schema.Room, error) {
	var public bool
	switch request.Preset {
	case "", PresetPublicChat:
		public = true
	case PresetPrivateChat:
	default:
		return nil, fault.New(fault.InvalidRequest, "unknown preset %q", request.Preset)
	}

	room := &schema.Room{
		RoomID:    ref.NewRoomID(s.serverName),
		Name:      strings.TrimSpace(request.Name),
		Topic:     strings.TrimSpace(request.Topic),
		Creator:   creator,
		IsPublic:  public,
		CreatedTS: s.clock.Now().UnixMilli(),
	}
	if alias, ok := ref.AliasFromName(room.Name, s.serverName); ok {
		room.Alias = alias
	}

	unlock := s.lockRoom(room.RoomID)
	defer unlock()

	create, err := s.newEvent(room.RoomID, creator, &schema.CreateContent{
		Creator:     creator,
		RoomVersion: schema.RoomVersion,
		Name:        room.Name,
		Topic:       room.Topic,
		IsPublic:    public,
	}, new(string))
	if err != nil {
		return nil, err
	}
	join, err := s.memberEvent(room.RoomID, creator, creator, schema.MembershipJoin, s.displayName(ctx, creator))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRoom(ctx, room, create, join); err != nil {
		return nil, err
	}
	for _, event := range []*schema.Event{create, join} {
		metrics.EventsAppended.WithLabelValues(event.Type).Inc()
		s.hub.Publish(event)
	}
	room.JoinedMembers = 1

	s.logger.Info("room created",
		"room_id", room.RoomID.String(),
		"creator", creator.String(),
		"public", public,
	)
	return room, nil
}

// requireRoom returns the room or fault.NotFound.
func (s *Service) requireRoom(ctx context.Context, roomID ref.RoomID) (*schema.Room, error) {
	return s.store.Room(ctx, roomID)
}

// requireJoined fails with fault.AuthorizationError unless user is
// joined to room.
func (s *Service) requireJoined(ctx context.Context, room ref.RoomID, user ref.UserID) error {
	membership, _, err := s.store.Membership(ctx, room, user)
	if err != nil {
		return err
	}
	if membership != schema.MembershipJoin {
		return fault.New(fault.AuthorizationError, "%s is not joined to %s", user, room)
	}
	return nil
}

// Join makes user a member of room. Joining a room the user is
// already in returns the existing join event. Private rooms require a
// pending invite; a user who left a private room needs a new one.
func (s *Service) Join(ctx context.Context, user ref.UserID, roomID ref.RoomID) (*schema.Event, error) {
	room, err := s.requireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	membership, eventID, err := s.store.Membership(ctx, roomID, user)
	if err != nil {
		return nil, err
	}
	switch membership {
	case schema.MembershipJoin:
		return s.store.Event(ctx, eventID)
	case schema.MembershipInvite:
	default:
		if !room.IsPublic {
			return nil, fault.New(fault.AuthorizationError, "%s is invite-only", roomID)
		}
	}

	event, err := s.memberEvent(roomID, user, user, schema.MembershipJoin, s.displayName(ctx, user))
	if err != nil {
		return nil, err
	}
	if err := s.append(ctx, event); err != nil {
		return nil, err
	}
	s.logger.Info("room joined", "room_id", roomID.String(), "user_id", user.String())
	return event, nil
}

// Leave ends user's membership of room. Leaving while invited
// declines the invite. Fails with fault.InvalidOperation if the user
// is not joined or invited.
func (s *Service) Leave(ctx context.Context, user ref.UserID, roomID ref.RoomID) (*schema.Event, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	membership, _, err := s.store.Membership(ctx, roomID, user)
	if err != nil {
		return nil, err
	}
	if membership != schema.MembershipJoin && membership != schema.MembershipInvite {
		return nil, fault.New(fault.InvalidOperation, "%s is not a member of %s", user, roomID)
	}
	event, err := s.memberEvent(roomID, user, user, schema.MembershipLeave, "")
	if err != nil {
		return nil, err
	}
	if err := s.append(ctx, event); err != nil {
		return nil, err
	}
	s.logger.Info("room left", "room_id", roomID.String(), "user_id", user.String())
	return event, nil
}

// InviteFailure names why one invite target was not invited.
type InviteFailure struct {
	Target string `json:"user_mxid"`
	Reason string `json:"error"`
}

// InviteResult reports a batch invite per target.
type InviteResult struct {
	Invited []ref.UserID
	Failed  []InviteFailure
}

// Invite invites each target to room. The inviter must be joined.
// Failures for individual targets (malformed ID, unknown user,
// already a member) are collected in the result rather than failing
// the batch.
func (s *Service) Invite(ctx context.Context, inviter ref.UserID, roomID ref.RoomID, targets []string) (*InviteResult, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fault.New(fault.InvalidRequest, "no users to invite")
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	if err := s.requireJoined(ctx, roomID, inviter); err != nil {
		return nil, err
	}

	result := &InviteResult{Invited: []ref.UserID{}, Failed: []InviteFailure{}}
	seen := make(map[ref.UserID]bool, len(targets))
	for _, raw := range targets {
		target, reason, err := s.inviteOne(ctx, inviter, roomID, raw, seen)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			result.Failed = append(result.Failed, InviteFailure{Target: raw, Reason: reason})
			continue
		}
		result.Invited = append(result.Invited, target)
	}
	s.logger.Info("room invites sent",
		"room_id", roomID.String(),
		"inviter", inviter.String(),
		"invited", len(result.Invited),
		"failed", len(result.Failed),
	)
	return result, nil
}

// inviteOne invites a single target. A non-empty reason is a
// per-target failure; an error aborts the batch.
func (s *Service) inviteOne(ctx context.Context, inviter ref.UserID, roomID ref.RoomID, raw string, seen map[ref.UserID]bool) (ref.UserID, string, error) {
	target, err := ref.ParseUserID(strings.TrimSpace(raw))
	if err != nil {
		return ref.UserID{}, "invalid user ID", nil
	}
	if seen[target] {
		return ref.UserID{}, "duplicate target", nil
	}
	seen[target] = true
	if !target.IsLocalTo(s.serverName) {
		return ref.UserID{}, "federated invites are not supported", nil
	}
	identity, err := s.store.Identity(ctx, target)
	if fault.HasKind(err, fault.NotFound) {
		return ref.UserID{}, "user not found", nil
	}
	if err != nil {
		return ref.UserID{}, "", err
	}

	membership, _, err := s.store.Membership(ctx, roomID, target)
	if err != nil {
		return ref.UserID{}, "", err
	}
	switch membership {
	case schema.MembershipJoin:
		return ref.UserID{}, "already a member", nil
	case schema.MembershipInvite:
		return ref.UserID{}, "already invited", nil
	}

	event, err := s.memberEvent(roomID, inviter, target, schema.MembershipInvite, identity.DisplayName)
	if err != nil {
		return ref.UserID{}, "", err
	}
	if err := s.append(ctx, event); err != nil {
		return ref.UserID{}, "", err
	}
	return target, "", nil
}

// SendMessage appends a signed m.room.message event from sender. The
// sender must be joined to the room.
func (s *Service) SendMessage(ctx context.Context, sender ref.UserID, roomID ref.RoomID, content *schema.MessageContent) (*schema.Event, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if content.MsgType == "" {
		content.MsgType = schema.MsgTypeText
	}
	if err := content.Validate(); err != nil {
		return nil, fault.Wrap(fault.InvalidRequest, err, "invalid message")
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	if err := s.requireJoined(ctx, roomID, sender); err != nil {
		return nil, err
	}
	event, err := s.newEvent(roomID, sender, content, nil)
	if err != nil {
		return nil, err
	}
	if err := s.append(ctx, event); err != nil {
		return nil, err
	}
	s.logger.Debug("message sent",
		"room_id", roomID.String(),
		"event_id", event.EventID.String(),
		"sender", sender.String(),
	)
	return event, nil
}

// canRead reports whether viewer may read room history. Public rooms
// are readable by any authenticated user; private rooms by members.
func (s *Service) canRead(ctx context.Context, room *schema.Room, viewer ref.UserID) error {
	if room.IsPublic {
		return nil
	}
	return s.requireJoined(ctx, room.RoomID, viewer)
}

// ListMessages returns the most recent limit message events in room,
// oldest first. Each event's signature is checked against the current
// server key and the outcome recorded in Unsigned.Verified; an event
// that fails, or that the store could not decode, is returned with
// Verified false rather than dropped.
func (s *Service) ListMessages(ctx context.Context, viewer ref.UserID, roomID ref.RoomID, limit int) ([]*schema.Event, error) {
	room, err := s.requireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, room, viewer); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultMessageLimit
	case limit > MaxMessageLimit:
		limit = MaxMessageLimit
	}

	events, err := s.store.RecentEvents(ctx, roomID, schema.EventTypeMessage, limit)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		if event.Unsigned != nil && event.Unsigned.Unreadable {
			continue
		}
		verified := true
		if err := s.VerifyEvent(event); err != nil {
			if fault.HasKind(err, fault.SigningFault) {
				return nil, err
			}
			verified = false
			s.logger.Warn("stored event failed signature verification",
				"event_id", event.EventID.String(),
				"error", err,
			)
		}
		if event.Unsigned == nil {
			event.Unsigned = &schema.Unsigned{}
		}
		event.Unsigned.Verified = &verified
	}
	return events, nil
}

// VerifyEvent checks event's signature by its origin against the
// currently published server key. Events from other origins cannot
// be verified here and fail.
func (s *Service) VerifyEvent(event *schema.Event) error {
	if event.Origin != s.serverName {
		return fmt.Errorf("event %s originates from %s, not this server", event.EventID, event.Origin)
	}
	public, err := s.signer.PublicKey()
	if err != nil {
		return err
	}
	return signing.VerifyJSON(event, s.serverName, s.signer.KeyID(), public)
}

// Poll waits up to timeout for events in room after since, returning
// events not sent by viewer. A negative since starts from the room's
// current position. A non-positive timeout uses the default; larger
// than the maximum is clamped. Only joined members may poll.
func (s *Service) Poll(ctx context.Context, viewer ref.UserID, roomID ref.RoomID, since int64, timeout time.Duration) (delivery.PollResult, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return delivery.PollResult{}, err
	}
	if err := s.requireJoined(ctx, roomID, viewer); err != nil {
		return delivery.PollResult{}, err
	}
	metrics.ActivePolls.Inc()
	defer metrics.ActivePolls.Dec()
	return s.hub.Poll(ctx, roomID, since, s.ClampPollTimeout(timeout), viewer)
}

// ClampPollTimeout applies the default and maximum poll timeouts.
func (s *Service) ClampPollTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return s.defaultPollTimeout
	case timeout > s.maxPollTimeout:
		return s.maxPollTimeout
	}
	return timeout
}

// Subscribe opens a push subscription to room for a joined member.
// The caller must Close it.
func (s *Service) Subscribe(ctx context.Context, viewer ref.UserID, roomID ref.RoomID) (*delivery.Subscription, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.requireJoined(ctx, roomID, viewer); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(roomID), nil
}

// JoinedRooms lists the rooms user is joined to.
func (s *Service) JoinedRooms(ctx context.Context, user ref.UserID) ([]schema.Room, error) {
	return s.store.JoinedRooms(ctx, user)
}

// PublicRooms lists rooms created with the public preset.
func (s *Service) PublicRooms(ctx context.Context) ([]schema.Room, error) {
	return s.store.PublicRooms(ctx)
}
