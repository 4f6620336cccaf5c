// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package accesstoken mints and verifies the bearer credentials that
// authenticate client API calls.
//
// Tokens are JWTs signed with EdDSA under a token key that is separate
// from the server's federation signing key. A token names one user
// (sub), carries a random ID (jti), and expires after the configured
// lifetime. Verification checks the algorithm, signature, issuer and
// expiry; it never consults the user table.
//
// Logging out revokes a token before its expiry. Revocations are
// tracked by Digest, a BLAKE3 keyed hash of the raw token string, so
// revoked-token storage never holds usable credentials and a revoked
// token is rejected before its signature is checked.
package accesstoken
