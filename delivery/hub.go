// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
)

// EventSource reads a room's event sequence. *store.Store satisfies it.
type EventSource interface {
	EventsSince(ctx context.Context, room ref.RoomID, since int64, limit int) ([]*schema.Event, error)
	StreamPosition(ctx context.Context, room ref.RoomID) (int64, error)
}

// Config holds the parameters for NewHub.
type Config struct {
	Source EventSource
	Clock  clock.Clock
	Logger *slog.Logger

	// BatchLimit caps the events returned by one Poll. Defaults to 100.
	BatchLimit int

	// StreamBuffer is the channel capacity of a push subscription.
	// Defaults to 64.
	StreamBuffer int
}

// Hub is the per-room broadcast point. Safe for concurrent use.
type Hub struct {
	source       EventSource
	clock        clock.Clock
	logger       *slog.Logger
	batchLimit   int
	streamBuffer int

	mu    sync.Mutex
	rooms map[ref.RoomID]*roomChannel
}

type roomChannel struct {
	// notify is closed by Publish and replaced with a fresh channel.
	notify      chan struct{}
	subscribers map[*Subscription]struct{}
}

// NewHub creates a Hub. Panics if a required field is missing.
func NewHub(config Config) *Hub {
	if config.Source == nil {
		panic("delivery.NewHub: Source is required")
	}
	if config.Clock == nil {
		panic("delivery.NewHub: Clock is required")
	}
	if config.Logger == nil {
		panic("delivery.NewHub: Logger is required")
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 100
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = 64
	}
	return &Hub{
		source:       config.Source,
		clock:        config.Clock,
		logger:       config.Logger,
		batchLimit:   config.BatchLimit,
		streamBuffer: config.StreamBuffer,
		rooms:        make(map[ref.RoomID]*roomChannel),
	}
}

// roomLocked returns the channel state for room, creating it. Caller
// holds h.mu.
func (h *Hub) roomLocked(room ref.RoomID) *roomChannel {
	channel, ok := h.rooms[room]
	if !ok {
		channel = &roomChannel{
			notify:      make(chan struct{}),
			subscribers: make(map[*Subscription]struct{}),
		}
		h.rooms[room] = channel
	}
	return channel
}

func (h *Hub) notifyChannel(room ref.RoomID) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomLocked(room).notify
}

// Publish wakes every poller waiting on event's room and pushes event
// to the room's subscribers. It never blocks on a slow subscriber.
func (h *Hub) Publish(event *schema.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := h.roomLocked(event.RoomID)
	close(channel.notify)
	channel.notify = make(chan struct{})

	for subscription := range channel.subscribers {
		select {
		case subscription.events <- event:
		default:
			h.logger.Warn("dropping slow stream subscriber",
				"room_id", event.RoomID.String(),
				"buffer", cap(subscription.events),
			)
			subscription.overflowed = true
			delete(channel.subscribers, subscription)
			close(subscription.events)
		}
	}
}

// PollResult is the outcome of one Poll.
type PollResult struct {
	Events []*schema.Event

	// NextBatch is the cursor to pass as since on the next poll.
	NextBatch int64

	// TimedOut is true when the wait ended without new events.
	TimedOut bool
}

// Poll returns events in room with a stream ordering greater than
// since, waiting up to timeout for one to arrive. A negative since, or
// one past the room's current position, starts from that position.
// Events sent by viewer are skipped but still advance the cursor.
//
// A timeout returns an empty result, not an error. Cancelling ctx
// abandons the wait and returns ctx.Err().
func (h *Hub) Poll(ctx context.Context, room ref.RoomID, since int64, timeout time.Duration, viewer ref.UserID) (PollResult, error) {
	position, err := h.source.StreamPosition(ctx, room)
	if err != nil {
		return PollResult{}, fmt.Errorf("delivery: stream position: %w", err)
	}
	if since < 0 || since > position {
		since = position
	}

	deadline := h.clock.After(timeout)
	for {
		// Take the channel before querying so a Publish that lands
		// after the query still wakes this wait.
		notify := h.notifyChannel(room)

		events, err := h.source.EventsSince(ctx, room, since, h.batchLimit)
		if err != nil {
			return PollResult{}, fmt.Errorf("delivery: reading events: %w", err)
		}
		visible := events[:0:0]
		for _, event := range events {
			if event.Unsigned != nil && event.Unsigned.StreamOrdering > since {
				since = event.Unsigned.StreamOrdering
			}
			if event.Sender != viewer {
				visible = append(visible, event)
			}
		}
		if len(visible) > 0 {
			return PollResult{Events: visible, NextBatch: since}, nil
		}
		if len(events) > 0 {
			// Only the viewer's own events; look again from the
			// advanced cursor without waiting.
			continue
		}

		select {
		case <-notify:
		case <-deadline:
			return PollResult{NextBatch: since, TimedOut: true}, nil
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		}
	}
}

// Subscription is a push channel for one room.
type Subscription struct {
	hub        *Hub
	room       ref.RoomID
	events     chan *schema.Event
	overflowed bool
	closeOnce  sync.Once
}

// Subscribe opens a push subscription on room. The caller must Close
// it.
func (h *Hub) Subscribe(room ref.RoomID) *Subscription {
	subscription := &Subscription{
		hub:    h,
		room:   room,
		events: make(chan *schema.Event, h.streamBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomLocked(room).subscribers[subscription] = struct{}{}
	return subscription
}

// Events delivers published events. It is closed when the
// subscription overflows or is closed.
func (s *Subscription) Events() <-chan *schema.Event { return s.events }

// Overflowed reports whether the hub dropped this subscription for
// falling behind. Valid once Events is closed.
func (s *Subscription) Overflowed() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.overflowed
}

// Close removes the subscription. Safe to call more than once and
// after an overflow.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		channel := s.hub.rooms[s.room]
		if channel == nil {
			return
		}
		if _, ok := channel.subscribers[s]; ok {
			delete(channel.subscribers, s)
			close(s.events)
		}
	})
}
