// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure at a component boundary.
type Kind string

const (
	// Internal is the kind of any error that carries no *Error in its
	// chain. Storage failures and programming errors land here.
	Internal Kind = "Internal"

	MalformedID            Kind = "MalformedID"
	AuthenticationRequired Kind = "AuthenticationRequired"
	AuthorizationError     Kind = "AuthorizationError"
	NotFound               Kind = "NotFound"
	DuplicateContact       Kind = "DuplicateContact"
	InvalidOperation       Kind = "InvalidOperation"
	SigningFault           Kind = "SigningFault"
	DecryptionFailure      Kind = "DecryptionFailure"

	// InvalidRequest covers request bodies and parameters that fail
	// validation before reaching a component.
	InvalidRequest Kind = "InvalidRequest"

	// AlreadyExists is returned when a username is taken.
	AlreadyExists Kind = "AlreadyExists"

	// RateLimited is returned by the API layer when a caller exceeds
	// its request budget.
	RateLimited Kind = "RateLimited"
)

// Error is a classified failure. Err, when set, is the underlying
// cause and participates in errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. Returns nil if cause is nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// Internal if there is none. A nil error has the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Internal
}

// HasKind reports whether err's chain contains an *Error of kind.
func HasKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code the API layer responds
// with.
func (k Kind) HTTPStatus() int {
	switch k {
	case MalformedID, InvalidRequest, InvalidOperation:
		return http.StatusBadRequest
	case AuthenticationRequired:
		return http.StatusUnauthorized
	case AuthorizationError:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case DuplicateContact, AlreadyExists:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Matrix error codes used in response bodies.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeUserInUse     = "M_USER_IN_USE"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeBadJSON       = "M_BAD_JSON"
	ErrCodeDuplicate     = "M_DUPLICATE"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// ErrCode maps a Kind to a Matrix errcode string.
func (k Kind) ErrCode() string {
	switch k {
	case MalformedID:
		return ErrCodeInvalidParam
	case InvalidRequest:
		return ErrCodeBadJSON
	case InvalidOperation, AuthorizationError:
		return ErrCodeForbidden
	case AuthenticationRequired:
		return ErrCodeMissingToken
	case NotFound:
		return ErrCodeNotFound
	case DuplicateContact:
		return ErrCodeDuplicate
	case AlreadyExists:
		return ErrCodeUserInUse
	case RateLimited:
		return ErrCodeLimitExceeded
	default:
		return ErrCodeUnknown
	}
}

// Body is the JSON shape of an error response.
type Body struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
	Kind    Kind   `json:"kind"`
}

// BodyOf builds the response body for err. Internal errors do not
// leak their message to the client.
func BodyOf(err error) Body {
	kind := KindOf(err)
	message := err.Error()
	if kind == Internal || kind == SigningFault {
		message = "internal server error"
	}
	return Body{ErrCode: kind.ErrCode(), Error: message, Kind: kind}
}
