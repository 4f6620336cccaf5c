// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomID is a validated room ID (e.g., "!Yq2pPz6X0Ssz8mS1hH3VmA:example.org").
//
// The local part is opaque. Rooms created on this server get a
// generated local part from NewRoomID; rooms named in requests are
// parsed at the boundary with ParseRoomID.
//
// RoomID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomID struct {
	id string
}

// NewRoomID generates a fresh room ID on server.
func NewRoomID(server ServerName) RoomID {
	return RoomID{id: string(SigilRoom) + newOpaqueLocalpart() + ":" + server.name}
}

// ParseRoomID validates and wraps a raw room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parsePrefixedID(raw, SigilRoom, "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// Server returns the server that created the room.
func (r RoomID) Server() ServerName {
	_, server, _ := parsePrefixedID(r.id, SigilRoom, "room ID")
	return newServerName(server)
}

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
