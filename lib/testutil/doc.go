// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the homeserver's tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so that tests waiting on long-poll results or stream
// frames never hang. They are the only place test code uses real
// wall-clock timeouts.
//
// [UniqueID] yields distinct localparts and message bodies without
// reading the clock.
//
// [StateDir] creates a state directory holding a fresh database path
// and key files, removed when the test completes.
package testutil
