// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"strings"

	"github.com/bureau-foundation/librachat/lib/fault"
)

// maxIDLength is the Matrix limit on the length of a full identifier,
// sigil and server name included.
const maxIDLength = 255

// Sigils.
const (
	SigilUser  byte = '@'
	SigilRoom  byte = '!'
	SigilEvent byte = '$'
	SigilAlias byte = '#'
)

// allowedChars is the set of characters permitted in user localparts
// (per the Matrix spec: a-z, 0-9, and the symbols . _ = - /).
var allowedChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedChars[c] = true
	}
	allowedChars['.'] = true
	allowedChars['_'] = true
	allowedChars['='] = true
	allowedChars['-'] = true
	allowedChars['/'] = true
}

// ValidateLocalpart checks a user localpart against the Matrix
// character set. Registration uses it before issuing an identity;
// parsing a full user ID does not, so historical IDs from other
// servers still parse.
func ValidateLocalpart(localpart string) error {
	if localpart == "" {
		return fault.New(fault.MalformedID, "localpart is empty")
	}
	for i := 0; i < len(localpart); i++ {
		if !allowedChars[localpart[i]] {
			return fault.New(fault.MalformedID,
				"localpart %q: invalid character %q at position %d (allowed: a-z, 0-9, ., _, =, -, /)",
				localpart, localpart[i], i)
		}
	}
	return nil
}

// validateServer checks that a server name is minimally valid:
// non-empty, no control characters or whitespace, no sigils.
func validateServer(server string) error {
	if server == "" {
		return fault.New(fault.MalformedID, "server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == 0x7f || c == '@' || c == '#' || c == '!' || c == '$' || c == '/' {
			return fault.New(fault.MalformedID, "server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parsePrefixedID splits <sigil><localpart>:<server>. The localpart
// ends at the first ':'; everything after it, ports included, is the
// server name.
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fault.New(fault.MalformedID, "invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	if len(identifier) > maxIDLength {
		return "", "", fault.New(fault.MalformedID, "invalid %s: %d characters, maximum is %d", kind, len(identifier), maxIDLength)
	}
	colonIndex := strings.IndexByte(identifier[1:], ':')
	if colonIndex < 0 {
		return "", "", fault.New(fault.MalformedID, "invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fault.New(fault.MalformedID, "invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if err := validateServer(server); err != nil {
		return "", "", fault.Wrap(fault.MalformedID, err, "invalid %s %q", kind, identifier)
	}
	return localpart, server, nil
}

// ParseID splits any sigil-prefixed identifier into its sigil,
// localpart and server name. Unknown sigils are MalformedID.
func ParseID(raw string) (sigil byte, localpart, server string, err error) {
	if raw == "" {
		return 0, "", "", fault.New(fault.MalformedID, "empty identifier")
	}
	var kind string
	switch raw[0] {
	case SigilUser:
		kind = "user ID"
	case SigilRoom:
		kind = "room ID"
	case SigilEvent:
		kind = "event ID"
	case SigilAlias:
		kind = "room alias"
	default:
		return 0, "", "", fault.New(fault.MalformedID, "identifier %q has unknown sigil %q", raw, raw[0])
	}
	localpart, server, err = parsePrefixedID(raw, raw[0], kind)
	if err != nil {
		return 0, "", "", err
	}
	return raw[0], localpart, server, nil
}
