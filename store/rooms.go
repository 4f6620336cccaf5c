// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
)

const roomColumns = `r.room_id, r.name, r.topic, r.creator, r.alias, r.is_public, r.created_ts,
	(SELECT COUNT(*) FROM memberships m WHERE m.room_id = r.room_id AND m.membership = 'join')`

func scanRoom(stmt *sqlite.Stmt) (schema.Room, error) {
	roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
	if err != nil {
		return schema.Room{}, fmt.Errorf("store: stored room ID: %w", err)
	}
	creator, err := ref.ParseUserID(stmt.ColumnText(3))
	if err != nil {
		return schema.Room{}, fmt.Errorf("store: creator of %s: %w", roomID, err)
	}
	room := schema.Room{
		RoomID:        roomID,
		Name:          stmt.ColumnText(1),
		Topic:         stmt.ColumnText(2),
		Creator:       creator,
		IsPublic:      stmt.ColumnInt64(5) != 0,
		CreatedTS:     stmt.ColumnInt64(6),
		JoinedMembers: stmt.ColumnInt(7),
	}
	if alias := stmt.ColumnText(4); alias != "" {
		room.Alias, err = ref.ParseRoomAlias(alias)
		if err != nil {
			return schema.Room{}, fmt.Errorf("store: alias of %s: %w", roomID, err)
		}
	}
	return room, nil
}

func (s *Store) queryRooms(ctx context.Context, query string, args ...any) ([]schema.Room, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var rooms []schema.Room
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			room, err := scanRoom(stmt)
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: querying rooms: %w", err)
	}
	return rooms, nil
}

// Room returns one room. Fails with fault.NotFound.
func (s *Store) Room(ctx context.Context, roomID ref.RoomID) (*schema.Room, error) {
	rooms, err := s.queryRooms(ctx,
		"SELECT "+roomColumns+" FROM rooms r WHERE r.room_id = ?", roomID.String())
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, fault.New(fault.NotFound, "room %s not found", roomID)
	}
	return &rooms[0], nil
}

// PublicRooms lists rooms created with the public preset, newest first.
func (s *Store) PublicRooms(ctx context.Context) ([]schema.Room, error) {
	return s.queryRooms(ctx,
		"SELECT "+roomColumns+" FROM rooms r WHERE r.is_public = 1 ORDER BY r.created_ts DESC, r.room_id")
}

// JoinedRooms lists the rooms user is joined to, newest first.
func (s *Store) JoinedRooms(ctx context.Context, user ref.UserID) ([]schema.Room, error) {
	return s.queryRooms(ctx, "SELECT "+roomColumns+` FROM rooms r
		JOIN memberships j ON j.room_id = r.room_id
		WHERE j.user_id = ? AND j.membership = 'join'
		ORDER BY r.created_ts DESC, r.room_id`,
		user.String())
}

// Membership returns user's current membership in room and the event
// that set it. A user with no membership row yields "" and a zero
// event ID.
func (s *Store) Membership(ctx context.Context, room ref.RoomID, user ref.UserID) (schema.Membership, ref.EventID, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", ref.EventID{}, err
	}
	defer s.pool.Put(conn)

	var membership schema.Membership
	var eventID ref.EventID
	err = sqlitex.Execute(conn,
		"SELECT membership, event_id FROM memberships WHERE room_id = ? AND user_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{room.String(), user.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				membership = schema.Membership(stmt.ColumnText(0))
				var err error
				eventID, err = ref.ParseEventID(stmt.ColumnText(1))
				return err
			},
		})
	if err != nil {
		return "", ref.EventID{}, fmt.Errorf("store: membership of %s in %s: %w", user, room, err)
	}
	return membership, eventID, nil
}
