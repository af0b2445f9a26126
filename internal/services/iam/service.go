package iam

import (
	"context"

	"github.com/clinigate/authgw/internal/auth"
)

// Service is the gateway's identity and access entry point.
//
// It is constructed once at startup by NewIAMService and injected into the
// transport layer. It centralizes:
//   - Token verification (request path)
//   - Credential login (login endpoints)
//   - Authorization context resolution (cached, lazily per request)
//   - The security context lifecycle
type Service interface {
	// =========================================================================
	// Authentication
	// =========================================================================

	// VerifyToken resolves a bearer token to a Principal. UUID-shaped tokens
	// are legacy sessions; everything else is verified as an external JWT.
	VerifyToken(ctx context.Context, token string) (*auth.Principal, error)

	// Login resolves a credential pair plus login details to a Principal.
	// Every attempt is audited.
	Login(ctx context.Context, creds Credentials, details LoginDetails) (*auth.Principal, error)

	// =========================================================================
	// Authorization
	// =========================================================================

	// Authorization returns the permission view for p, served from the
	// authorization cache when possible.
	Authorization(ctx context.Context, p *auth.Principal) (*auth.AuthorizationContext, error)

	// PurgeAuthorizationCache drops every cached authorization context.
	PurgeAuthorizationCache()

	// =========================================================================
	// Security Context Lifecycle
	// =========================================================================

	// Begin installs p into a fresh security context carried by the returned
	// context. Callers must call End on the returned context.
	Begin(ctx context.Context, p *auth.Principal) (context.Context, *auth.SecurityContext)

	// Current returns the security context of the request, if any.
	Current(ctx context.Context) (*auth.SecurityContext, bool)

	// End clears the request's security context.
	End(ctx context.Context)
}
