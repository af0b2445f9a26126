package iam

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/config"
	"github.com/clinigate/authgw/internal/telemetry"
)

// signatureAlgorithms are the asymmetric algorithms accepted on external tokens.
var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// DefaultClaimNames are the claim names used when configuration leaves one blank.
var DefaultClaimNames = config.ClaimNames{
	ClientID:         "client_id",
	UserID:           "user_id",
	ServiceAccountID: "service_account_id",
	RequestedTenant:  "requested_tenant",
	Tenants:          "tenants",
	Scopes:           "scp",
	OfficeID:         "office_id",
	SessionID:        "sid",
}

// ExternalJWTVerifier verifies tokens issued by the external identity provider
// and normalizes their claims into a Principal.
//
// Verification:
//  1. Parse the compact JWS, restricted to asymmetric algorithms
//  2. Load a non-expired key set (refreshing synchronously when expired)
//  3. Verify the signature with the key named by kid
//  4. Validate issuer, audience and expiry with zero leeway
//  5. Normalize claims
//
// The verifier is stateless apart from the shared KeyCache and is safe for
// concurrent use.
type ExternalJWTVerifier struct {
	keys         *KeyCache
	issuer       string
	audience     string
	claims       config.ClaimNames
	tenantPrefix string
	now          func() time.Time
}

// NewExternalJWTVerifier creates a verifier backed by keys.
func NewExternalJWTVerifier(cfg config.OIDCConfig, keys *KeyCache) (*ExternalJWTVerifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("key cache is required")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("oidc audience is required")
	}
	prefix := cfg.TenantPrefix
	if prefix == "" {
		prefix = auth.DefaultTenantPrefix
	}
	return &ExternalJWTVerifier{
		keys:         keys,
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		claims:       claimNamesWithDefaults(cfg.Claims),
		tenantPrefix: prefix,
		now:          keys.now,
	}, nil
}

// Verify implements TokenVerifier.
func (v *ExternalJWTVerifier) Verify(ctx context.Context, token string) (_ *auth.Principal, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.VerifyExternalToken")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	// Step 1: Parse
	parsed, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return nil, auth.InvalidToken("malformed token", err)
	}
	if len(parsed.Headers) != 1 {
		return nil, auth.InvalidToken("token must carry exactly one signature", nil)
	}

	// Step 2: Keys. A fetch failure is an outage, not a bad token.
	keySet, err := v.keys.Get(ctx)
	if err != nil {
		return nil, auth.AuthServiceError("signing keys unavailable", err)
	}

	// Step 3: Signature
	standard, raw, err := verifySignature(parsed, keySet)
	if err != nil {
		return nil, err
	}

	// Step 4: Standard claims
	issuer := v.issuer
	if issuer == "" {
		issuer = keySet.Issuer
	}
	if standard.Expiry == nil {
		return nil, auth.InvalidToken("token missing exp claim", nil)
	}
	expected := jwt.Expected{
		Issuer:      issuer,
		AnyAudience: jwt.Audience{v.audience},
		Time:        v.now(),
	}
	if err := standard.ValidateWithLeeway(expected, 0); err != nil {
		return nil, auth.InvalidToken("token claims rejected", err)
	}

	// Step 5: Normalize
	principal, err := v.normalize(raw, standard, issuer)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrIdentityKind, string(principal.Kind)),
		attribute.String(telemetry.AttrTenantID, principal.TenantID),
		attribute.String(telemetry.AttrClientID, principal.ClientID),
	)
	return principal, nil
}

func verifySignature(parsed *jwt.JSONWebToken, keySet *KeySet) (*jwt.Claims, map[string]any, error) {
	kid := parsed.Headers[0].KeyID
	candidates := keySet.Key(kid)
	if kid == "" {
		candidates = keySet.Keys.Keys
	}
	if len(candidates) == 0 {
		return nil, nil, auth.InvalidToken(fmt.Sprintf("unknown signing key %q", kid), nil)
	}

	var lastErr error
	for _, key := range candidates {
		standard := new(jwt.Claims)
		raw := map[string]any{}
		if err := parsed.Claims(key.Key, standard, &raw); err != nil {
			lastErr = err
			continue
		}
		return standard, raw, nil
	}
	return nil, nil, auth.InvalidToken("invalid token signature", lastErr)
}

// normalize maps verified claims onto a Principal.
func (v *ExternalJWTVerifier) normalize(raw map[string]any, standard *jwt.Claims, issuer string) (*auth.Principal, error) {
	names := v.claims

	clientID, ok := auth.ExtractClaimString(raw, names.ClientID)
	if !ok {
		return nil, auth.InvalidToken("token missing client id", nil)
	}

	userID, hasUser := auth.ExtractClaimString(raw, names.UserID)
	serviceAccountID, hasServiceAccount, err := auth.ExtractClaimInt64(raw, names.ServiceAccountID)
	if err != nil {
		return nil, auth.InvalidToken("service account id must be numeric", err)
	}
	if hasUser == hasServiceAccount {
		return nil, auth.InvalidToken("token must carry exactly one of user or service account identity", nil)
	}

	tenant, ok := auth.ExtractTenant(raw, names.RequestedTenant, names.Tenants, v.tenantPrefix)
	if !ok {
		return nil, auth.InvalidToken("tenant could not be determined", nil)
	}

	scopes, err := auth.ExtractScopes(raw, names.Scopes)
	if err != nil {
		return nil, auth.InvalidToken("scope claim malformed", err)
	}

	var officeID *int64
	office, hasOffice, err := auth.ExtractClaimInt64(raw, names.OfficeID)
	if err != nil {
		return nil, auth.InvalidToken("office claim must be numeric", err)
	}
	if hasOffice {
		officeID = &office
	}

	sid, _ := auth.ExtractClaimString(raw, names.SessionID)

	p := auth.Principal{
		TenantID:  tenant,
		Scopes:    scopes,
		OfficeID:  officeID,
		ClientID:  clientID,
		SessionID: auth.SessionID(issuer, sid, standard.ID),
		ExpiresAt: standard.Expiry.Time(),
	}
	if hasUser {
		p.Kind = auth.IdentityExternalProvider
		p.UserIdentity = userID
		p.Username = userID
		p.GrantType = auth.GrantTypeAuthorizationCode
	} else {
		p.Kind = auth.IdentityExternalServiceAccount
		p.UserIdentity = auth.FormatID(serviceAccountID)
		p.GrantType = auth.GrantTypeClientCredentials
	}
	return auth.NewPrincipal(p), nil
}

func claimNamesWithDefaults(c config.ClaimNames) config.ClaimNames {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.ClientID, DefaultClaimNames.ClientID)
	fill(&c.UserID, DefaultClaimNames.UserID)
	fill(&c.ServiceAccountID, DefaultClaimNames.ServiceAccountID)
	fill(&c.RequestedTenant, DefaultClaimNames.RequestedTenant)
	fill(&c.Tenants, DefaultClaimNames.Tenants)
	fill(&c.Scopes, DefaultClaimNames.Scopes)
	fill(&c.OfficeID, DefaultClaimNames.OfficeID)
	fill(&c.SessionID, DefaultClaimNames.SessionID)
	return c
}
