package auth

import (
	"context"
	"sync"
	"sync/atomic"
)

// AuthorizationSupplier resolves the fine-grained authorization data for a
// principal. It is invoked at most once per request, on first use.
type AuthorizationSupplier func(ctx context.Context, p *Principal) (*AuthorizationContext, error)

// SecurityContext is the per-request view of the authenticated caller.
type SecurityContext struct {
	Principal *Principal

	ctx      context.Context
	supplier AuthorizationSupplier

	once  sync.Once
	authz *AuthorizationContext
	err   error
}

// Scopes returns the caller's granted scopes.
func (s *SecurityContext) Scopes() []string { return s.Principal.Scopes }

// TenantID returns the caller's tenant.
func (s *SecurityContext) TenantID() string { return s.Principal.TenantID }

// OfficeID returns the selected office, if any.
func (s *SecurityContext) OfficeID() *int64 { return s.Principal.OfficeID }

// SessionID returns the login session id.
func (s *SecurityContext) SessionID() string { return s.Principal.SessionID }

// GrantType returns how the credential was obtained.
func (s *SecurityContext) GrantType() string { return s.Principal.GrantType }

// ClientID returns the OAuth client that obtained the credential.
func (s *SecurityContext) ClientID() string { return s.Principal.ClientID }

// Authorization resolves the AuthorizationContext on first call and returns the
// memoized result afterwards. A nil supplier yields an empty context.
func (s *SecurityContext) Authorization() (*AuthorizationContext, error) {
	s.once.Do(func() {
		if s.supplier == nil {
			s.authz = NewAuthorizationContext(PermissionSnapshot{})
			return
		}
		s.authz, s.err = s.supplier(s.ctx, s.Principal)
		if s.err == nil && s.authz == nil {
			s.authz = NewAuthorizationContext(PermissionSnapshot{})
		}
	})
	return s.authz, s.err
}

// Guard returns the predicate evaluator for this request, resolving the
// authorization context if needed.
func (s *SecurityContext) Guard() (Guard, error) {
	authz, err := s.Authorization()
	if err != nil {
		return Guard{}, err
	}
	return NewGuard(s.Principal, authz), nil
}

// holder is the mutable cell installed per request. End clears it so any
// reference to the request context observes an absent principal afterwards.
type holder struct {
	current atomic.Pointer[SecurityContext]
}

type holderContextKey struct{}

// Store manages the request-scoped security context. The zero value is ready
// to use; all state lives in the request's context.Context.
type Store struct{}

// Start installs a new security context for principal and returns the derived
// request context carrying it.
func (Store) Start(ctx context.Context, p *Principal, supplier AuthorizationSupplier) (context.Context, *SecurityContext) {
	sc := &SecurityContext{Principal: p, supplier: supplier}
	h := &holder{}
	h.current.Store(sc)
	ctx = context.WithValue(ctx, holderContextKey{}, h)
	sc.ctx = ctx
	return ctx, sc
}

// Current returns the security context active on ctx. ok is false when no
// context was started or it has already ended.
func (Store) Current(ctx context.Context) (*SecurityContext, bool) {
	h, ok := ctx.Value(holderContextKey{}).(*holder)
	if !ok {
		return nil, false
	}
	sc := h.current.Load()
	return sc, sc != nil
}

// End clears the security context installed on ctx. Calling End on a context
// without one is a no-op.
func (Store) End(ctx context.Context) {
	if h, ok := ctx.Value(holderContextKey{}).(*holder); ok {
		h.current.Store(nil)
	}
}

// Run starts a security context, calls fn with it, and ends it on every exit
// path including a panic in fn.
func (s Store) Run(ctx context.Context, p *Principal, supplier AuthorizationSupplier, fn func(context.Context, *SecurityContext) error) error {
	ctx, sc := s.Start(ctx, p, supplier)
	defer s.End(ctx)
	return fn(ctx, sc)
}

// CurrentPrincipal is a convenience for Store{}.Current returning only the principal.
func CurrentPrincipal(ctx context.Context) (*Principal, bool) {
	sc, ok := Store{}.Current(ctx)
	if !ok {
		return nil, false
	}
	return sc.Principal, true
}
