// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rooms implements room lifecycle, membership, and message
// events.
//
// Every event is built and signed here with the server key before it
// reaches the store, then published to the delivery hub. Membership
// follows invite->join->leave or join->leave; a private room can only
// be entered from an invite, and a user who left one needs a new
// invite to return. Public rooms accept a join from no membership or
// after a leave.
package rooms
