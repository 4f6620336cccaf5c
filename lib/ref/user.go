// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated user ID (e.g., "@alice:example.org").
//
// Parsing accepts any structurally valid user ID, including IDs from
// other servers whose localparts predate the strict character set.
// NewUserID additionally enforces ValidateLocalpart and is what
// registration uses.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id        string
	localpart string
	server    string
}

// NewUserID builds @localpart:server after validating the localpart.
func NewUserID(localpart string, server ServerName) (UserID, error) {
	if err := ValidateLocalpart(localpart); err != nil {
		return UserID{}, err
	}
	if server.IsZero() {
		return UserID{}, fmt.Errorf("NewUserID: zero server name")
	}
	return MatrixUserID(localpart, server), nil
}

// MatrixUserID constructs a user ID from parts without validating the
// localpart. Use it only for localparts that came out of a parsed ID
// or the identity table.
func MatrixUserID(localpart string, server ServerName) UserID {
	return UserID{id: "@" + localpart + ":" + server.name, localpart: localpart, server: server.name}
}

// ParseUserID validates and wraps a raw user ID string.
func ParseUserID(raw string) (UserID, error) {
	localpart, server, err := parsePrefixedID(raw, SigilUser, "user ID")
	if err != nil {
		return UserID{}, err
	}
	return UserID{id: raw, localpart: localpart, server: server}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'.
func (u UserID) Localpart() string { return u.localpart }

// Server returns the server name of the user's homeserver.
func (u UserID) Server() ServerName { return newServerName(u.server) }

// IsLocalTo reports whether the user belongs to server.
func (u UserID) IsLocalTo(server ServerName) bool {
	return !u.IsZero() && u.server == server.name
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
