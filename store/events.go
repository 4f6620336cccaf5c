// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/librachat/lib/codec"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
)

// CreateRoom inserts room and its initial events in one transaction.
// events normally holds the m.room.create event followed by the
// creator's join.
func (s *Store) CreateRoom(ctx context.Context, room *schema.Room, events ...*schema.Event) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	alias := ""
	if !room.Alias.IsZero() {
		alias = room.Alias.String()
	}
	err = sqlitex.Execute(conn, `INSERT INTO rooms
		(room_id, name, topic, creator, alias, is_public, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			room.RoomID.String(), room.Name, room.Topic, room.Creator.String(),
			alias, boolInt(room.IsPublic), room.CreatedTS,
		}})
	if isConstraintViolation(err) {
		return fault.New(fault.AlreadyExists, "room %s already exists", room.RoomID)
	}
	if err != nil {
		return fmt.Errorf("store: creating room %s: %w", room.RoomID, err)
	}

	for _, event := range events {
		if err := s.insertEvent(conn, event); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvent appends event to its room's sequence and, for
// m.room.member events, records the membership of the state key in
// the same transaction. On success event.Unsigned.StreamOrdering holds
// the assigned position.
func (s *Store) AppendEvent(ctx context.Context, event *schema.Event) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return s.insertEvent(conn, event)
}

func (s *Store) insertEvent(conn *sqlite.Conn, event *schema.Event) error {
	if err := event.Validate(); err != nil {
		return fault.Wrap(fault.InvalidRequest, err, "storing event")
	}

	stored := *event
	stored.Unsigned = nil
	encoded, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("store: encoding event %s: %w", event.EventID, err)
	}
	body, err := codec.Compress(encoded, s.compression)
	if err != nil {
		return fmt.Errorf("store: compressing event %s: %w", event.EventID, err)
	}

	err = sqlitex.Execute(conn, `INSERT INTO events
		(event_id, room_id, type, sender, origin_server_ts, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			event.EventID.String(), event.RoomID.String(), event.Type,
			event.Sender.String(), event.OriginServerTS, body,
		}})
	if isConstraintViolation(err) {
		return fault.New(fault.AlreadyExists, "event %s already exists", event.EventID)
	}
	if err != nil {
		return fmt.Errorf("store: inserting event %s: %w", event.EventID, err)
	}
	ordering := conn.LastInsertRowID()

	if member, ok := event.Content.(*schema.MemberContent); ok {
		err = sqlitex.Execute(conn, `INSERT INTO memberships (room_id, user_id, membership, event_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (room_id, user_id) DO UPDATE SET
				membership = excluded.membership, event_id = excluded.event_id`,
			&sqlitex.ExecOptions{Args: []any{
				event.RoomID.String(), *event.StateKey, string(member.Membership), event.EventID.String(),
			}})
		if err != nil {
			return fmt.Errorf("store: recording membership for %s: %w", *event.StateKey, err)
		}
	}

	if event.Unsigned == nil {
		event.Unsigned = &schema.Unsigned{}
	}
	event.Unsigned.StreamOrdering = ordering
	return nil
}

// eventColumns is the select list queryEvents scans.
const eventColumns = "stream_ordering, body, event_id, room_id, type, sender, origin_server_ts"

// unreadableEvent is the placeholder for a row whose frame does not
// decode, built from the indexed columns.
func unreadableEvent(stmt *sqlite.Stmt) (*schema.Event, error) {
	eventID, err := ref.ParseEventID(stmt.ColumnText(2))
	if err != nil {
		return nil, err
	}
	roomID, err := ref.ParseRoomID(stmt.ColumnText(3))
	if err != nil {
		return nil, err
	}
	sender, err := ref.ParseUserID(stmt.ColumnText(5))
	if err != nil {
		return nil, err
	}
	eventType := stmt.ColumnText(4)
	verified := false
	return &schema.Event{
		EventID:        eventID,
		RoomID:         roomID,
		Sender:         sender,
		Type:           eventType,
		Origin:         sender.Server(),
		OriginServerTS: stmt.ColumnInt64(6),
		Content:        &schema.UnreadableContent{Type: eventType},
		Unsigned: &schema.Unsigned{
			StreamOrdering: stmt.ColumnInt64(0),
			Verified:       &verified,
			Unreadable:     true,
		},
	}, nil
}

// decodeFrame rebuilds an event from its stored frame.
func decodeFrame(ordering int64, body []byte) (*schema.Event, error) {
	encoded, err := codec.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("event at %d: %w", ordering, err)
	}
	var event schema.Event
	if err := json.Unmarshal(encoded, &event); err != nil {
		return nil, fmt.Errorf("decoding event at %d: %w", ordering, err)
	}
	event.Unsigned = &schema.Unsigned{StreamOrdering: ordering}
	return &event, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*schema.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []*schema.Event
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			event, decodeErr := decodeFrame(stmt.ColumnInt64(0), columnBytes(stmt, 1))
			if decodeErr != nil {
				var err error
				if event, err = unreadableEvent(stmt); err != nil {
					return err
				}
				s.logger.Warn("stored event is unreadable",
					"event_id", event.EventID.String(),
					"error", decodeErr,
				)
			}
			events = append(events, event)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: querying events: %w", err)
	}
	return events, nil
}

// Event returns one event by ID. Fails with fault.NotFound.
func (s *Store) Event(ctx context.Context, eventID ref.EventID) (*schema.Event, error) {
	events, err := s.queryEvents(ctx,
		"SELECT "+eventColumns+" FROM events WHERE event_id = ?", eventID.String())
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fault.New(fault.NotFound, "event %s not found", eventID)
	}
	return events[0], nil
}

// EventsSince returns up to limit events in room with a stream
// ordering greater than since, oldest first.
func (s *Store) EventsSince(ctx context.Context, room ref.RoomID, since int64, limit int) ([]*schema.Event, error) {
	return s.queryEvents(ctx, "SELECT "+eventColumns+` FROM events
		WHERE room_id = ? AND stream_ordering > ?
		ORDER BY stream_ordering LIMIT ?`,
		room.String(), since, limit)
}

// RecentEvents returns the most recent limit events of eventType in
// room, oldest first.
func (s *Store) RecentEvents(ctx context.Context, room ref.RoomID, eventType string, limit int) ([]*schema.Event, error) {
	events, err := s.queryEvents(ctx, "SELECT "+eventColumns+` FROM events
		WHERE room_id = ? AND type = ?
		ORDER BY stream_ordering DESC LIMIT ?`,
		room.String(), eventType, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// StreamPosition returns the stream ordering of the newest event in
// room, or 0 for a room with no events.
func (s *Store) StreamPosition(ctx context.Context, room ref.RoomID) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	position, err := queryInt64(conn,
		"SELECT COALESCE(MAX(stream_ordering), 0) FROM events WHERE room_id = ?", room.String())
	if err != nil {
		return 0, fmt.Errorf("store: stream position of %s: %w", room, err)
	}
	return position, nil
}
