// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the homeserver's client HTTP API.
//
// Routes under /api/ other than register and login require an
// "Authorization: Bearer" access token. The websocket stream route
// also accepts the token as an access_token query parameter since
// browsers cannot set headers on a websocket handshake. Every
// authenticated request is charged against a per-identity token
// bucket; register, login and logout are charged per client address.
//
// Errors are written as fault.Body with the status for the error's
// kind. Responses are gzip-compressed when the client accepts it,
// every route answers CORS preflights for any origin, and request
// counts and latencies are exported at /metrics labelled by route
// pattern.
//
// When a federation.Gateway is configured its discovery, key and
// federation routes are served from the same mux.
package api
