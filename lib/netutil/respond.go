// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/librachat/lib/fault"
)

// WriteJSON encodes value as the response body with the given status.
// If encoding fails (typically because the client disconnected), the
// error is logged; nothing more can be sent.
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logger.Warn("writing JSON response", "error", err, "status", status)
	}
}

// WriteError writes err as a fault.Body with the status for its kind.
// Server-side faults are logged with their full cause; the client
// sees a generic message.
func WriteError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", string(kind),
			"error", err,
		)
	}
	WriteJSON(w, logger, status, fault.BodyOf(err))
}
