// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/rooms"
)

type createRoomRequest struct {
	Name   string       `json:"name"`
	Topic  string       `json:"topic"`
	Preset rooms.Preset `json:"preset"`
}

// CreateRoomResponse is returned by POST /api/createRoom. RoomAlias
// is null for unnamed rooms.
type CreateRoomResponse struct {
	RoomID     ref.RoomID     `json:"room_id"`
	ServerName ref.ServerName `json:"server_name"`
	RoomAlias  *ref.RoomAlias `json:"room_alias"`
}

// HandleCreateRoom serves POST /api/createRoom.
func (s *Server) HandleCreateRoom(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	var request createRoomRequest
	if !s.decode(w, r, &request) {
		return
	}
	room, err := s.rooms.CreateRoom(r.Context(), caller.UserID(), rooms.CreateRequest{
		Name:   request.Name,
		Topic:  request.Topic,
		Preset: request.Preset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := CreateRoomResponse{RoomID: room.RoomID, ServerName: room.RoomID.Server()}
	if !room.Alias.IsZero() {
		response.RoomAlias = &room.Alias
	}
	s.writeJSON(w, http.StatusOK, response)
}

// HandleListRooms serves GET /api/rooms.
func (s *Server) HandleListRooms(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	joined, err := s.rooms.JoinedRooms(r.Context(), caller.UserID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if joined == nil {
		joined = []schema.Room{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]schema.Room{"rooms": joined})
}

// MembershipResponse is returned by join and leave.
type MembershipResponse struct {
	EventID ref.EventID `json:"event_id"`
	RoomID  ref.RoomID  `json:"room_id"`
	State   string      `json:"state"`
}

// HandleJoin serves POST /api/rooms/{room_id}/join.
func (s *Server) HandleJoin(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	s.changeMembership(w, r, caller, s.rooms.Join, "joined")
}

// HandleLeave serves POST /api/rooms/{room_id}/leave.
func (s *Server) HandleLeave(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	s.changeMembership(w, r, caller, s.rooms.Leave, "left")
}

type membershipChange func(ctx context.Context, user ref.UserID, room ref.RoomID) (*schema.Event, error)

func (s *Server) changeMembership(w http.ResponseWriter, r *http.Request, caller *accounts.Caller, change membershipChange, state string) {
	roomID, ok := s.roomPath(w, r)
	if !ok {
		return
	}
	event, err := change(r.Context(), caller.UserID(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MembershipResponse{EventID: event.EventID, RoomID: roomID, State: state})
}

type inviteRequest struct {
	UserMXIDs []string `json:"user_mxids"`
}

// InviteResponse reports a batch invite.
type InviteResponse struct {
	InvitedUsers []ref.UserID          `json:"invited_users"`
	Errors       []rooms.InviteFailure `json:"errors"`
	SuccessCount int                   `json:"success_count"`
}

// HandleInvite serves POST /api/rooms/{room_id}/invite.
func (s *Server) HandleInvite(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	roomID, ok := s.roomPath(w, r)
	if !ok {
		return
	}
	var request inviteRequest
	if !s.decode(w, r, &request) {
		return
	}
	result, err := s.rooms.Invite(r.Context(), caller.UserID(), roomID, request.UserMXIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := InviteResponse{
		InvitedUsers: result.Invited,
		Errors:       result.Failed,
		SuccessCount: len(result.Invited),
	}
	if response.InvitedUsers == nil {
		response.InvitedUsers = []ref.UserID{}
	}
	if response.Errors == nil {
		response.Errors = []rooms.InviteFailure{}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// SendResponse is returned by POST /api/rooms/{room_id}/send/m.room.message.
type SendResponse struct {
	EventID ref.EventID `json:"event_id"`
	RoomID  ref.RoomID  `json:"room_id"`
	Sent    bool        `json:"sent"`
}

// HandleSendMessage serves POST /api/rooms/{room_id}/send/m.room.message.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	roomID, ok := s.roomPath(w, r)
	if !ok {
		return
	}
	var content schema.MessageContent
	if !s.decode(w, r, &content) {
		return
	}
	event, err := s.rooms.SendMessage(r.Context(), caller.UserID(), roomID, &content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SendResponse{EventID: event.EventID, RoomID: roomID, Sent: true})
}

// RoomMessagesResponse is returned by GET /api/rooms/{room_id}/messages.
type RoomMessagesResponse struct {
	Messages []*schema.Event `json:"messages"`
	RoomID   ref.RoomID      `json:"room_id"`
}

// HandleRoomMessages serves GET /api/rooms/{room_id}/messages?limit=N.
func (s *Server) HandleRoomMessages(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	roomID, ok := s.roomPath(w, r)
	if !ok {
		return
	}
	limit, ok := s.intQuery(w, r, "limit", 0)
	if !ok {
		return
	}
	events, err := s.rooms.ListMessages(r.Context(), caller.UserID(), roomID, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*schema.Event{}
	}
	s.writeJSON(w, http.StatusOK, RoomMessagesResponse{Messages: events, RoomID: roomID})
}

// PushedEvent is one event as delivered by poll and stream.
type PushedEvent struct {
	Type string        `json:"type"`
	Data *schema.Event `json:"data"`
}

func pushed(events []*schema.Event) []PushedEvent {
	out := make([]PushedEvent, 0, len(events))
	for _, event := range events {
		out = append(out, PushedEvent{Type: event.Type, Data: event})
	}
	return out
}

// PollResponse is returned by GET /api/rooms/{room_id}/poll.
type PollResponse struct {
	Messages       []PushedEvent `json:"messages"`
	TimeoutReached bool          `json:"timeout_reached"`
	Timestamp      int64         `json:"timestamp"`
	NextBatch      int64         `json:"next_batch"`
}

// HandlePoll serves GET /api/rooms/{room_id}/poll?timeout=S&since=T.
// The timeout is in seconds; since is a next_batch from an earlier
// poll and defaults to the room's current position.
func (s *Server) HandlePoll(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	roomID, ok := s.roomPath(w, r)
	if !ok {
		return
	}
	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			s.writeError(w, r, fault.New(fault.InvalidRequest, "timeout must be a non-negative number of seconds"))
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}
	since, ok := s.intQuery(w, r, "since", -1)
	if !ok {
		return
	}

	result, err := s.rooms.Poll(r.Context(), caller.UserID(), roomID, since, timeout)
	if errors.Is(err, context.Canceled) {
		// The client went away; there is nobody to answer.
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, PollResponse{
		Messages:       pushed(result.Events),
		TimeoutReached: result.TimedOut,
		Timestamp:      s.clock.Now().UnixMilli(),
		NextBatch:      result.NextBatch,
	})
}

// roomPath parses the {room_id} path value.
func (s *Server) roomPath(w http.ResponseWriter, r *http.Request) (ref.RoomID, bool) {
	roomID, err := ref.ParseRoomID(r.PathValue("room_id"))
	if err != nil {
		s.writeError(w, r, err)
		return ref.RoomID{}, false
	}
	return roomID, true
}

// intQuery parses an optional integer query parameter.
func (s *Server) intQuery(w http.ResponseWriter, r *http.Request, name string, fallback int64) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, fault.New(fault.InvalidRequest, "%s must be an integer", name))
		return 0, false
	}
	return value, true
}
