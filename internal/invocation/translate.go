// Package invocation turns failures raised while serving a request into the
// caller-facing outcome: a category, an HTTP status, a Connect code and a
// message that is safe to show.
package invocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/repository"
)

// Outcome is the caller-facing result of a failed invocation.
type Outcome struct {
	Category auth.Kind
	Status   int
	Code     connect.Code
	Message  string
}

// InvocationError wraps a failure raised by the operation behind a request.
// Translate unwraps exactly one level of it.
type InvocationError struct {
	Op  string
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// panicError carries a recovered panic and the stack it was raised from.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Invoke runs fn, wrapping any error or panic it raises in an *InvocationError.
func Invoke(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InvocationError{Op: op, Err: &panicError{value: r, stack: debug.Stack()}}
		}
	}()
	if err := fn(ctx); err != nil {
		return &InvocationError{Op: op, Err: err}
	}
	return nil
}

type kindOutcome struct {
	status int
	code   connect.Code
}

// outcomes covers every auth.Kind.
var outcomes = map[auth.Kind]kindOutcome{
	auth.KindBadCredentials:     {http.StatusUnauthorized, connect.CodeUnauthenticated},
	auth.KindAccountLocked:      {http.StatusUnauthorized, connect.CodeUnauthenticated},
	auth.KindAccountDisabled:    {http.StatusUnauthorized, connect.CodeUnauthenticated},
	auth.KindAuthServiceError:   {http.StatusServiceUnavailable, connect.CodeUnavailable},
	auth.KindInvalidToken:       {http.StatusUnauthorized, connect.CodeUnauthenticated},
	auth.KindInsufficientAccess: {http.StatusForbidden, connect.CodePermissionDenied},
	auth.KindForbidden:          {http.StatusForbidden, connect.CodePermissionDenied},
	auth.KindInvalidRequest:     {http.StatusBadRequest, connect.CodeInvalidArgument},
	auth.KindValidationFailure:  {http.StatusBadRequest, connect.CodeInvalidArgument},
	auth.KindResourceConflict:   {http.StatusConflict, connect.CodeAlreadyExists},
	auth.KindNotFound:           {http.StatusNotFound, connect.CodeNotFound},
	auth.KindInternalError:      {http.StatusInternalServerError, connect.CodeInternal},
}

// Default caller-facing messages per kind, used when an error carries none.
var defaultMessages = map[auth.Kind]string{
	auth.KindBadCredentials:     "invalid credentials",
	auth.KindAccountLocked:      "account is locked",
	auth.KindAccountDisabled:    "account is disabled",
	auth.KindAuthServiceError:   "authentication service unavailable",
	auth.KindInvalidToken:       "invalid or expired token",
	auth.KindInsufficientAccess: "insufficient access",
	auth.KindForbidden:          "forbidden",
	auth.KindInvalidRequest:     "invalid request",
	auth.KindValidationFailure:  "validation failed",
	auth.KindResourceConflict:   "resource conflict",
	auth.KindNotFound:           "resource not found",
	auth.KindInternalError:      "internal error",
}

// Translate maps err to its Outcome. Only categorized messages are echoed;
// an InternalError outcome always carries the generic message.
func Translate(err error) Outcome {
	if err == nil {
		return Outcome{}
	}

	if inv, ok := err.(*InvocationError); ok {
		err = inv.Err
	}

	kind, message := classify(err)
	if kind == auth.KindInternalError || message == "" {
		message = defaultMessages[kind]
	}
	o, ok := outcomes[kind]
	if !ok {
		kind, o, message = auth.KindInternalError, outcomes[auth.KindInternalError], defaultMessages[auth.KindInternalError]
	}
	return Outcome{Category: kind, Status: o.status, Code: o.code, Message: message}
}

func classify(err error) (auth.Kind, string) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr.Kind, authErr.Message
	}
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return auth.KindNotFound, ""
	}
	if hint, ok := constraintViolation(err); ok {
		return auth.KindValidationFailure, "validation failed: " + hint
	}
	return auth.KindInternalError, ""
}

// SQLSTATE codes reported as validation failures.
var sqlStateHints = map[string]string{
	"23503": "referenced record does not exist",
	"23502": "a required value is missing",
	"23505": "a record with the same unique value already exists",
	"22001": "a value is too long",
}

// SQLite reports constraint failures only through the message text.
var sqliteHints = []struct {
	pattern string
	hint    string
}{
	{"FOREIGN KEY constraint failed", sqlStateHints["23503"]},
	{"NOT NULL constraint failed", sqlStateHints["23502"]},
	{"UNIQUE constraint failed", sqlStateHints["23505"]},
	{"string or blob too big", sqlStateHints["22001"]},
}

func constraintViolation(err error) (string, bool) {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		hint, ok := sqlStateHints[pgErr.Field('C')]
		return hint, ok
	}
	msg := err.Error()
	for _, h := range sqliteHints {
		if strings.Contains(msg, h.pattern) {
			return h.hint, true
		}
	}
	return "", false
}

// errorBody is the JSON body written for failed HTTP requests.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Log records err at a level matching its outcome, using the logger carried
// by ctx. Internal errors keep their cause (and panic stack) in the log only.
func Log(ctx context.Context, err error, o Outcome) {
	logger := zerolog.Ctx(ctx)
	switch o.Category {
	case auth.KindInternalError:
		ev := logger.Error().Err(err)
		var p *panicError
		if errors.As(err, &p) {
			ev = ev.Bytes("stack", p.stack)
		}
		ev.Msg("request failed")
	case auth.KindAuthServiceError:
		logger.Error().Err(err).Str("category", o.Category.String()).Msg("collaborator unavailable")
	case auth.KindBadCredentials, auth.KindAccountLocked, auth.KindAccountDisabled, auth.KindInvalidToken:
		logger.Warn().Err(err).Str("category", o.Category.String()).Msg("authentication failed")
	default:
		logger.Debug().Err(err).Str("category", o.Category.String()).Msg("request rejected")
	}
}
