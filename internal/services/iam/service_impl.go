package iam

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/config"
	"github.com/clinigate/authgw/internal/repository"
	"github.com/clinigate/authgw/internal/telemetry"
)

// iamService implements the Service interface.
type iamService struct {
	tokens TokenVerifier
	logins *CredentialDispatcher
	authz  *AuthorizationCache
	store  auth.Store
}

// IAMServiceDependencies contains all dependencies for IAM service construction.
type IAMServiceDependencies struct {
	Credentials repository.CredentialStore
	Identities  repository.IdentityStore
	Permissions repository.PermissionStore
	Sessions    repository.LegacyTokenStore
	Audit       repository.AuditSink

	// HTTPClient overrides the key fetch client built from OIDC timeouts.
	HTTPClient *http.Client

	Logger  zerolog.Logger
	Metrics *telemetry.AuthMetrics
}

// IAMServiceConfig contains configuration for IAM service construction.
// Separated from dependencies to clearly distinguish config from runtime dependencies.
type IAMServiceConfig struct {
	Config *config.Config
}

// NewIAMService creates the IAM service.
//
// Construction order:
//  1. Authorization cache (permission store)
//  2. Legacy token verifier (session + identity stores)
//  3. External JWT verifier and its key cache, when an issuer is configured
//  4. Token dispatcher over both verifiers
//  5. Patient assertion consumer, when configured
//  6. Credential dispatcher
//
// No network call is made here; signing keys are fetched on first use.
func NewIAMService(deps IAMServiceDependencies, cfg IAMServiceConfig) (Service, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := cfg.Config

	authz, err := NewAuthorizationCache(deps.Permissions, c.Cache.Size, c.Cache.TTL)
	if err != nil {
		return nil, err
	}

	var legacy TokenVerifier
	if deps.Sessions != nil {
		legacy = NewLegacyTokenVerifier(deps.Sessions, deps.Identities)
	}

	var external TokenVerifier
	if c.OIDC.Enabled() {
		verifier, err := newExternalVerifier(c.OIDC, deps)
		if err != nil {
			return nil, fmt.Errorf("create external token verifier: %w", err)
		}
		external = verifier
	}

	var assertions AssertionConsumer
	if c.Assertion.Enabled() {
		consumer, err := NewPatientAssertionConsumer(c.Assertion)
		if err != nil {
			return nil, fmt.Errorf("create patient assertion consumer: %w", err)
		}
		assertions = consumer
	}

	logins := NewCredentialDispatcher(CredentialDispatcherDependencies{
		Credentials: deps.Credentials,
		Identities:  deps.Identities,
		Permissions: deps.Permissions,
		Audit:       deps.Audit,
		Assertions:  assertions,
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
	})

	return &iamService{
		tokens: NewTokenDispatcher(legacy, external, deps.Metrics),
		logins: logins,
		authz:  authz,
	}, nil
}

func newExternalVerifier(oidcCfg config.OIDCConfig, deps IAMServiceDependencies) (*ExternalJWTVerifier, error) {
	client := deps.HTTPClient
	if client == nil {
		client = NewHTTPClient(HTTPTimeouts{
			Dial:           oidcCfg.DialTimeout,
			TLSHandshake:   oidcCfg.TLSHandshakeTimeout,
			ResponseHeader: oidcCfg.ResponseHeaderTimeout,
			Request:        oidcCfg.RequestTimeout,
		})
	}
	keys, err := NewKeyCache(KeyCacheConfig{
		Issuer:       oidcCfg.Issuer,
		DiscoveryURL: oidcCfg.DiscoveryURL,
		DefaultTTL:   oidcCfg.DefaultKeyTTL,
		HTTPClient:   client,
		Metrics:      deps.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return NewExternalJWTVerifier(oidcCfg, keys)
}

func (s *iamService) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	return s.tokens.Verify(ctx, token)
}

func (s *iamService) Login(ctx context.Context, creds Credentials, details LoginDetails) (*auth.Principal, error) {
	return s.logins.Login(ctx, creds, details)
}

func (s *iamService) Authorization(ctx context.Context, p *auth.Principal) (*auth.AuthorizationContext, error) {
	return s.authz.Resolve(ctx, p)
}

func (s *iamService) PurgeAuthorizationCache() {
	s.authz.Purge()
}

func (s *iamService) Begin(ctx context.Context, p *auth.Principal) (context.Context, *auth.SecurityContext) {
	return s.store.Start(ctx, p, s.authz.Supplier())
}

func (s *iamService) Current(ctx context.Context) (*auth.SecurityContext, bool) {
	return s.store.Current(ctx)
}

func (s *iamService) End(ctx context.Context) {
	s.store.End(ctx)
}
