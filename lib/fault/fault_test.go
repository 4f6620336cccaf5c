// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", io.EOF, Internal},
		{"direct", New(NotFound, "room %s", "!a:b"), NotFound},
		{"wrapped", fmt.Errorf("joining: %w", New(InvalidOperation, "left")), InvalidOperation},
		{"wrap cause", Wrap(SigningFault, io.ErrUnexpectedEOF, "loading key"), SigningFault},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := KindOf(test.err); got != test.want {
				t.Errorf("KindOf() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(DecryptionFailure, io.ErrUnexpectedEOF, "envelope %d", 2)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("errors.Is did not find wrapped cause")
	}
	if err.Error() != "envelope 2: unexpected EOF" {
		t.Errorf("Error() = %q", err.Error())
	}
	if Wrap(NotFound, nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		MalformedID:            http.StatusBadRequest,
		InvalidOperation:       http.StatusBadRequest,
		AuthenticationRequired: http.StatusUnauthorized,
		AuthorizationError:     http.StatusForbidden,
		NotFound:               http.StatusNotFound,
		DuplicateContact:       http.StatusConflict,
		AlreadyExists:          http.StatusConflict,
		RateLimited:            http.StatusTooManyRequests,
		SigningFault:           http.StatusInternalServerError,
		Internal:               http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestBodyOfHidesInternalDetail(t *testing.T) {
	body := BodyOf(fmt.Errorf("sqlite: disk I/O error"))
	if body.Kind != Internal || body.ErrCode != ErrCodeUnknown {
		t.Errorf("body = %+v", body)
	}
	if body.Error != "internal server error" {
		t.Errorf("internal message leaked: %q", body.Error)
	}

	body = BodyOf(New(DuplicateContact, "already a contact"))
	if body.Error != "already a contact" || body.ErrCode != ErrCodeDuplicate {
		t.Errorf("body = %+v", body)
	}
}
