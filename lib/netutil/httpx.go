// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds the JSON bodies the homeserver reads.
//
// Request helpers (DecodeRequest) cap client request bodies at
// MaxRequestSize and reject trailing data. Response helpers
// (ReadResponse, DecodeResponse, ErrorBody) cap bodies fetched from
// remote homeservers at MaxResponseSize.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxRequestSize bounds client request bodies: 1 MiB. Message bodies
// and registration payloads are far smaller.
const MaxRequestSize int64 = 1 << 20

// MaxResponseSize bounds bodies read from remote homeservers: 16 MiB.
const MaxResponseSize int64 = 16 << 20

// ErrRequestTooLarge is returned by DecodeRequest when the body
// exceeds MaxRequestSize.
var ErrRequestTooLarge = errors.New("request body too large")

// DecodeRequest JSON-decodes the request body into v. Unknown fields
// are ignored. An empty body, trailing data after the JSON value, or
// a body larger than MaxRequestSize is an error.
func DecodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestSize))
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return ErrRequestTooLarge
		case errors.Is(err, io.EOF):
			return fmt.Errorf("empty request body")
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("trailing data after request body")
	}
	return nil
}

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for use in a diagnostic
// message. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
