// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process reports fatal startup errors from main before the
// structured logger exists.
package process
