// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"path/filepath"
	"testing"
)

// StateDir returns a per-test state directory and the database path
// inside it. Nothing is created at the database path.
func StateDir(t *testing.T) (directory, databasePath string) {
	t.Helper()
	directory = t.TempDir()
	return directory, filepath.Join(directory, "homeserver.db")
}
