package auth

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories the gateway reports.
// Every error that leaves the gateway is either an *Error of one of these kinds
// or is treated as KindInternalError by the translator.
type Kind int

const (
	KindInternalError Kind = iota
	KindBadCredentials
	KindAccountLocked
	KindAccountDisabled
	KindAuthServiceError
	KindInvalidToken
	KindInsufficientAccess
	KindInvalidRequest
	KindResourceConflict
	KindNotFound
	KindForbidden
	KindValidationFailure
)

var kindNames = map[Kind]string{
	KindInternalError:      "internal_error",
	KindBadCredentials:     "bad_credentials",
	KindAccountLocked:      "account_locked",
	KindAccountDisabled:    "account_disabled",
	KindAuthServiceError:   "auth_service_error",
	KindInvalidToken:       "invalid_token",
	KindInsufficientAccess: "insufficient_access",
	KindInvalidRequest:     "invalid_request",
	KindResourceConflict:   "resource_conflict",
	KindNotFound:           "not_found",
	KindForbidden:          "forbidden",
	KindValidationFailure:  "validation_failure",
}

// String returns the wire category name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternalError]
}

// Kinds returns every defined kind. Used to keep outcome tables exhaustive.
func Kinds() []Kind {
	return []Kind{
		KindInternalError,
		KindBadCredentials,
		KindAccountLocked,
		KindAccountDisabled,
		KindAuthServiceError,
		KindInvalidToken,
		KindInsufficientAccess,
		KindInvalidRequest,
		KindResourceConflict,
		KindNotFound,
		KindForbidden,
		KindValidationFailure,
	}
}

// Error is a categorized gateway failure. Message is safe to show to callers;
// Err is the underlying cause and is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so callers can write
// errors.Is(err, auth.ErrInvalidToken).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Kind sentinels for errors.Is comparisons.
var (
	ErrBadCredentials     = &Error{Kind: KindBadCredentials}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked}
	ErrAccountDisabled    = &Error{Kind: KindAccountDisabled}
	ErrAuthServiceError   = &Error{Kind: KindAuthServiceError}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrInsufficientAccess = &Error{Kind: KindInsufficientAccess}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrResourceConflict   = &Error{Kind: KindResourceConflict}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrValidationFailure  = &Error{Kind: KindValidationFailure}
	ErrInternal           = &Error{Kind: KindInternalError}
)

// NewError builds a categorized error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func BadCredentials(message string) *Error {
	return NewError(KindBadCredentials, message, nil)
}

func AccountLocked(message string) *Error {
	return NewError(KindAccountLocked, message, nil)
}

func AccountDisabled(message string) *Error {
	return NewError(KindAccountDisabled, message, nil)
}

func AuthServiceError(message string, cause error) *Error {
	return NewError(KindAuthServiceError, message, cause)
}

func InvalidToken(message string, cause error) *Error {
	return NewError(KindInvalidToken, message, cause)
}

func InsufficientAccess(message string) *Error {
	return NewError(KindInsufficientAccess, message, nil)
}

func InvalidRequest(message string) *Error {
	return NewError(KindInvalidRequest, message, nil)
}

// KindOf reports the category of err. Uncategorized errors are KindInternalError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalError
}
