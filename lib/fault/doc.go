// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the error taxonomy shared by every homeserver
// component. A component that rejects a request returns a *Error
// carrying a Kind; the HTTP layer maps the Kind to a status code and a
// Matrix errcode without inspecting message text.
//
// Kinds are coarse on purpose. The message carries the detail a human
// needs; the Kind carries the detail a client branches on.
//
//	if fault.KindOf(err) == fault.NotFound { ... }
package fault
