// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery fans room events out to waiting clients.
//
// Each room has a notification channel that Publish closes and
// replaces. Long-poll callers (Poll) grab the current channel, query
// the store for events past their cursor, and block on the channel
// only if nothing is there yet, so an event published between the
// query and the wait still wakes them. Push subscribers (Subscribe)
// receive events on a buffered channel; a subscriber whose buffer is
// full is dropped rather than slowing the publisher.
//
// Delivery is at-least-once. Consumers deduplicate by event ID: a
// client that reconnects and polls from its last cursor may see an
// event it already received over a push channel.
package delivery
