package iam

import (
	"context"

	"github.com/clinigate/authgw/internal/auth"
)

const tracerName = "authgw/services/iam"

// TokenVerifier turns a bearer token into a Principal.
//
// Implementations:
//   - LegacyTokenVerifier: opaque UUID session tokens
//   - ExternalJWTVerifier: JWTs from the external identity provider
//   - TokenDispatcher: routes between the two by token shape
//
// Errors are always *auth.Error: InvalidToken when the token is bad,
// AuthServiceError when a collaborator is unavailable, InsufficientAccess when
// the token is valid but the account may not use it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Principal, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*auth.Principal, error)

// Verify calls f(ctx, token).
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	return f(ctx, token)
}
