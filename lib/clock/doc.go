// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the homeserver's injectable time source.
//
// Token expiry, long-poll timeouts, and the revocation sweep all read
// time through a Clock. Production wiring passes Real(). Tests pass
// Fake() and drive time with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go hub.Poll(ctx, room, since, 30*time.Second, viewer)
//	c.WaitForTimers(1)          // the poll has registered its timeout
//	c.Advance(30 * time.Second) // and now it returns empty
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
