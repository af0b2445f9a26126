package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/invocation"
	"github.com/clinigate/authgw/internal/services/iam"
)

// NewAuthnMiddleware verifies the request's bearer token and installs the
// resulting security context for the rest of the chain. The context is ended
// when the handler returns, including when it panics.
//
// Requests without a bearer token pass through unauthenticated; the guards in
// this package reject them where a caller is required. A token that fails
// verification is rejected immediately.
func NewAuthnMiddleware(svc iam.Service, errs *invocation.Writer, sources ...auth.TokenSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r, sources...)
			if errors.Is(err, auth.ErrNoBearerToken) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				errs.WriteError(w, r, auth.InvalidToken("malformed authorization header", err))
				return
			}

			ctx, err := authenticate(r.Context(), svc, token)
			if err != nil {
				errs.WriteError(w, r, err)
				return
			}
			defer svc.End(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate verifies token and begins a security context. The returned
// context also carries a logger annotated with the caller's tenant and client.
func authenticate(ctx context.Context, svc iam.Service, token string) (context.Context, error) {
	principal, err := svc.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}

	ctx, _ = svc.Begin(ctx, principal)

	logger := zerolog.Ctx(ctx).With().
		Str("tenant_id", principal.TenantID).
		Str("client_id", principal.ClientID).
		Str("identity_kind", string(principal.Kind)).
		Logger()
	return logger.WithContext(ctx), nil
}
