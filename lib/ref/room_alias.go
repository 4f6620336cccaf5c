// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomAlias is a validated room alias (e.g., "#general:example.org").
//
// Aliases are human-readable names for rooms. This server derives one
// from the room name at creation time; it is advertised in the public
// room directory as the canonical alias.
//
// RoomAlias is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates and wraps a raw room alias string.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := parsePrefixedID(raw, SigilAlias, "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

// MustParseRoomAlias is like ParseRoomAlias but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseRoomAlias(raw string) RoomAlias {
	a, err := ParseRoomAlias(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomAlias(%q): %v", raw, err))
	}
	return a
}

// AliasFromName derives an alias from a free-form room name:
// lowercased, whitespace folded to '-', characters outside the
// localpart set dropped. Returns the zero value and false when nothing
// usable remains.
func AliasFromName(name string, server ServerName) (RoomAlias, bool) {
	var parts []string
	for _, field := range strings.Fields(strings.ToLower(name)) {
		cleaned := strings.Map(func(r rune) rune {
			if r < 0x80 && allowedChars[r] && r != '/' {
				return r
			}
			return -1
		}, field)
		if cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	localpart := strings.Join(parts, "-")
	if localpart == "" || server.IsZero() {
		return RoomAlias{}, false
	}
	return RoomAlias{alias: "#" + localpart + ":" + server.name}, true
}

// String returns the full room alias string.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value.
func (a RoomAlias) IsZero() bool { return a.alias == "" }

// Localpart returns the alias localpart without the '#' prefix or ':server' suffix.
func (a RoomAlias) Localpart() string {
	if a.alias == "" {
		return ""
	}
	localpart, _, _ := parsePrefixedID(a.alias, SigilAlias, "room alias")
	return localpart
}

// MarshalText implements encoding.TextMarshaler.
func (a RoomAlias) MarshalText() ([]byte, error) {
	return []byte(a.alias), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *RoomAlias) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = RoomAlias{}
		return nil
	}
	parsed, err := ParseRoomAlias(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
