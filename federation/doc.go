// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package federation serves the endpoints a remote homeserver uses to
// find and trust this one, and fetches the same documents from remote
// servers.
//
// Gateway answers the .well-known discovery documents, the
// self-signed server key document, and the signed version and public
// room directory responses. It has no write operations. If the
// server signing key cannot be loaded every endpoint fails with a
// 500 rather than serving an unsigned or partial answer.
//
// Client fetches a remote server's key document and accepts it only
// if every published key verifies its own signature.
package federation
