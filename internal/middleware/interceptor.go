package middleware

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/invocation"
	"github.com/clinigate/authgw/internal/services/iam"
)

// NewAuthnInterceptor is the Connect counterpart of NewAuthnMiddleware. It
// verifies the bearer token from the request headers and runs the rest of the
// chain inside the resulting security context. Unauthenticated requests
// continue; NewScopeInterceptor decides whether a procedure admits them.
func NewAuthnInterceptor(svc iam.Service, errs *invocation.Writer, sources ...auth.TokenSource) connect.UnaryInterceptorFunc {
	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(
			ctx context.Context,
			req connect.AnyRequest,
		) (connect.AnyResponse, error) {
			token, err := auth.BearerTokenFromHeader(req.Header().Get, sources...)
			if errors.Is(err, auth.ErrNoBearerToken) {
				return next(ctx, req)
			}
			if err != nil {
				return nil, errs.ConnectError(ctx, auth.InvalidToken("malformed authorization header", err))
			}

			authed, err := authenticate(ctx, svc, token)
			if err != nil {
				return nil, errs.ConnectError(ctx, err)
			}
			defer svc.End(authed)

			return next(authed, req)
		})
	})
}

// ProcedureScopes maps a fully qualified procedure name to the scopes that
// admit it. Any one scope suffices; an empty list admits every authenticated
// caller.
type ProcedureScopes map[string][]string

// NewScopeInterceptor enforces ProcedureScopes. Procedures missing from the
// map are denied outright, so a newly added RPC is closed until listed.
func NewScopeInterceptor(procedures ProcedureScopes, errs *invocation.Writer) connect.UnaryInterceptorFunc {
	return connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(
			ctx context.Context,
			req connect.AnyRequest,
		) (connect.AnyResponse, error) {
			scopes, listed := procedures[req.Spec().Procedure]
			if !listed {
				return nil, errs.ConnectError(ctx, auth.NewError(auth.KindForbidden, "procedure is not exposed", nil))
			}

			sc, ok := auth.Store{}.Current(ctx)
			if !ok {
				return nil, errs.ConnectError(ctx, errAuthenticationRequired)
			}
			if err := checkScopes(sc, scopes); err != nil {
				return nil, errs.ConnectError(ctx, err)
			}
			return next(ctx, req)
		})
	})
}
