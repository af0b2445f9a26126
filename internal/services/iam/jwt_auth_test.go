package iam

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/config"
)

func TestExternalJWTVerifier_EndUserToken(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)

	claims := idp.userClaims()
	claims["office_id"] = 42
	p, err := v.Verify(context.Background(), idp.sign(t, claims))
	require.NoError(t, err)

	assert.Equal(t, auth.IdentityExternalProvider, p.Kind)
	assert.Equal(t, "u-123", p.UserIdentity)
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, "portal", p.ClientID)
	assert.Equal(t, auth.GrantTypeAuthorizationCode, p.GrantType)
	assert.Equal(t, []string{"user/provider.Appointment.write", "user/provider.Patient.read"}, p.Scopes)
	require.NotNil(t, p.OfficeID)
	assert.Equal(t, int64(42), *p.OfficeID)
	assert.False(t, p.IsClientOnly())
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), p.ExpiresAt, 2*time.Second)

	_, err = uuid.Parse(p.SessionID)
	require.NoError(t, err)
	assert.Equal(t, auth.SessionID(idp.URL(), "upstream-session", "jti-1"), p.SessionID)
}

func TestExternalJWTVerifier_ServiceAccountToken(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)

	claims := idp.userClaims()
	delete(claims, "user_id")
	claims["service_account_id"] = 9001
	delete(claims, "requested_tenant")
	claims["tenants"] = []string{"tenant:acme", "tenant:globex"}

	p, err := v.Verify(context.Background(), idp.sign(t, claims))
	require.NoError(t, err)

	assert.Equal(t, auth.IdentityExternalServiceAccount, p.Kind)
	assert.Equal(t, "9001", p.UserIdentity)
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, auth.GrantTypeClientCredentials, p.GrantType)
	assert.True(t, p.IsClientOnly())
	assert.Empty(t, p.Username)
}

func TestExternalJWTVerifier_ClaimValidation(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"both identities", func(c map[string]any) { c["service_account_id"] = 7 }},
		{"neither identity", func(c map[string]any) { delete(c, "user_id") }},
		{"blank user identity only", func(c map[string]any) { c["user_id"] = "  " }},
		{"non-numeric service account", func(c map[string]any) {
			delete(c, "user_id")
			c["service_account_id"] = "svc-abc"
		}},
		{"missing client id", func(c map[string]any) { delete(c, "client_id") }},
		{"no tenant", func(c map[string]any) { delete(c, "requested_tenant") }},
		{"blank tenant list entry", func(c map[string]any) {
			delete(c, "requested_tenant")
			c["tenants"] = []string{"tenant:"}
		}},
		{"non-numeric office", func(c map[string]any) { c["office_id"] = "main" }},
		{"missing exp", func(c map[string]any) { delete(c, "exp") }},
		{"expired", func(c map[string]any) { c["exp"] = time.Now().Add(-time.Second).Unix() }},
		{"wrong audience", func(c map[string]any) { c["aud"] = "someone-else" }},
		{"wrong issuer", func(c map[string]any) { c["iss"] = "https://evil.example.com" }},
		{"not yet valid", func(c map[string]any) { c["nbf"] = time.Now().Add(time.Hour).Unix() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := idp.userClaims()
			tt.mutate(claims)

			_, err := v.Verify(context.Background(), idp.sign(t, claims))
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrInvalidToken), "got %v", err)
		})
	}
}

func TestExternalJWTVerifier_TenantResolution(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)

	t.Run("requested tenant preferred", func(t *testing.T) {
		claims := idp.userClaims()
		claims["tenants"] = []string{"tenant:globex"}
		p, err := v.Verify(context.Background(), idp.sign(t, claims))
		require.NoError(t, err)
		assert.Equal(t, "acme", p.TenantID)
	})

	t.Run("blank requested tenant falls back to first list entry", func(t *testing.T) {
		claims := idp.userClaims()
		claims["requested_tenant"] = " "
		claims["tenants"] = []string{"tenant:globex", "tenant:acme"}
		p, err := v.Verify(context.Background(), idp.sign(t, claims))
		require.NoError(t, err)
		assert.Equal(t, "globex", p.TenantID)
	})

	t.Run("entry without prefix", func(t *testing.T) {
		claims := idp.userClaims()
		delete(claims, "requested_tenant")
		claims["tenants"] = []string{"initech"}
		p, err := v.Verify(context.Background(), idp.sign(t, claims))
		require.NoError(t, err)
		assert.Equal(t, "initech", p.TenantID)
	})
}

func TestExternalJWTVerifier_ScopeShapes(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)

	claims := idp.userClaims()
	claims["scp"] = "user/provider.Patient.read user/provider.Patient.read system/first-party"
	p, err := v.Verify(context.Background(), idp.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, []string{"system/first-party", "user/provider.Patient.read"}, p.Scopes)

	delete(claims, "scp")
	p, err = v.Verify(context.Background(), idp.sign(t, claims))
	require.NoError(t, err)
	assert.Empty(t, p.Scopes)
}

func TestExternalJWTVerifier_CustomClaimNames(t *testing.T) {
	idp := newTestIdP(t)
	cfg := idp.oidcConfig()
	cfg.Claims = config.ClaimNames{UserID: "sub", Scopes: "scope"}
	cfg.TenantPrefix = "org:"
	v, err := NewExternalJWTVerifier(cfg, idp.keyCache(t))
	require.NoError(t, err)

	claims := idp.userClaims()
	delete(claims, "user_id")
	delete(claims, "requested_tenant")
	claims["sub"] = "alice"
	claims["scope"] = "user/provider.Patient.read"
	claims["tenants"] = []string{"org:acme"}

	p, err := v.Verify(context.Background(), idp.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserIdentity)
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, []string{"user/provider.Patient.read"}, p.Scopes)
}

func TestExternalJWTVerifier_SignatureFailures(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)

	t.Run("malformed", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "not-a-jwt")
		assert.True(t, errors.Is(err, auth.ErrInvalidToken))
	})

	t.Run("unknown kid", func(t *testing.T) {
		token := signWith(t, idp.key, "rotated-away", idp.userClaims())
		_, err := v.Verify(context.Background(), token)
		assert.True(t, errors.Is(err, auth.ErrInvalidToken))
	})

	t.Run("foreign key with known kid", func(t *testing.T) {
		other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		token := signWith(t, other, idp.kid, idp.userClaims())
		_, err = v.Verify(context.Background(), token)
		assert.True(t, errors.Is(err, auth.ErrInvalidToken))
	})
}

func TestExternalJWTVerifier_KeyFetchFailureIsServiceError(t *testing.T) {
	idp := newTestIdP(t)
	v := idp.verifier(t)
	token := idp.sign(t, idp.userClaims())

	idp.setFailing(true)
	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrAuthServiceError), "got %v", err)
	assert.False(t, errors.Is(err, auth.ErrInvalidToken))
}

func TestNewExternalJWTVerifier_Validation(t *testing.T) {
	idp := newTestIdP(t)

	_, err := NewExternalJWTVerifier(idp.oidcConfig(), nil)
	require.Error(t, err)

	cfg := idp.oidcConfig()
	cfg.Audience = ""
	_, err = NewExternalJWTVerifier(cfg, idp.keyCache(t))
	require.Error(t, err)
}
