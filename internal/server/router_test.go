package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clinigate/authgw/internal/auth"
	gwmiddleware "github.com/clinigate/authgw/internal/middleware"
	"github.com/clinigate/authgw/internal/services/iam"
)

// stubIAM serves one provider principal for the token "good" and delegates
// logins to loginFn.
type stubIAM struct {
	principal *auth.Principal
	snapshot  auth.PermissionSnapshot
	loginFn   func(iam.Credentials, iam.LoginDetails) (*auth.Principal, error)

	store auth.Store
}

func newStubIAM() *stubIAM {
	office := int64(3)
	return &stubIAM{
		principal: auth.NewPrincipal(auth.Principal{
			Kind:         auth.IdentityLegacyProvider,
			UserIdentity: "7",
			Username:     "drsmith",
			TenantID:     "acme",
			Scopes:       []string{"openid", "user/provider.*.read"},
			OfficeID:     &office,
			ClientID:     "ehr-web",
			GrantType:    auth.GrantTypePassword,
			SessionID:    "0b5a8f0e-5d43-4c43-9d43-3d0c1b1f6a10",
		}),
		snapshot: auth.PermissionSnapshot{
			RoleSections: map[int64]map[auth.RoleSection]auth.SectionLevel{
				3: {auth.SectionScheduling: auth.SectionReadOnly},
				4: {auth.SectionBilling: auth.SectionReadWrite},
			},
		},
	}
}

func (s *stubIAM) VerifyToken(_ context.Context, token string) (*auth.Principal, error) {
	if token != "good" {
		return nil, auth.InvalidToken("unknown token", nil)
	}
	return s.principal, nil
}

func (s *stubIAM) Login(_ context.Context, creds iam.Credentials, details iam.LoginDetails) (*auth.Principal, error) {
	return s.loginFn(creds, details)
}

func (s *stubIAM) Authorization(context.Context, *auth.Principal) (*auth.AuthorizationContext, error) {
	return auth.NewAuthorizationContext(s.snapshot), nil
}

func (s *stubIAM) PurgeAuthorizationCache() {}

func (s *stubIAM) Begin(ctx context.Context, p *auth.Principal) (context.Context, *auth.SecurityContext) {
	return s.store.Start(ctx, p, s.Authorization)
}

func (s *stubIAM) Current(ctx context.Context) (*auth.SecurityContext, bool) {
	return s.store.Current(ctx)
}

func (s *stubIAM) End(ctx context.Context) {
	s.store.End(ctx)
}

func newTestRouter(svc *stubIAM) chi.Router {
	return NewRouter(RouterOptions{IAM: svc, Logger: zerolog.Nop()})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(newStubIAM()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestLogin_JSONWebForm(t *testing.T) {
	svc := newStubIAM()
	var gotCreds iam.Credentials
	var gotDetails iam.LoginDetails
	svc.loginFn = func(creds iam.Credentials, details iam.LoginDetails) (*auth.Principal, error) {
		gotCreds, gotDetails = creds, details
		return svc.principal, nil
	}

	body := `{"username":"drsmith","password":"hunter2","tenant":"acme"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "drsmith", gotCreds.Username)
	require.NotNil(t, gotCreds.Password)
	assert.Equal(t, "hunter2", *gotCreds.Password)
	assert.Equal(t, iam.WebFormDetails{Tenant: "acme"}, gotDetails)

	resp := decodeBody[PrincipalResponse](t, rec)
	assert.Equal(t, "legacy-provider", resp.Kind)
	assert.Equal(t, "acme", resp.TenantID)
	assert.Equal(t, []string{"openid", "user/provider.*.read"}, resp.Scopes)
	require.NotNil(t, resp.OfficeID)
	assert.EqualValues(t, 3, *resp.OfficeID)
}

func TestLogin_JSONDetailsInheritTenant(t *testing.T) {
	svc := newStubIAM()
	var gotDetails iam.LoginDetails
	svc.loginFn = func(_ iam.Credentials, details iam.LoginDetails) (*auth.Principal, error) {
		gotDetails = details
		return svc.principal, nil
	}

	body := `{"username":"drsmith","password":"hunter2","tenant":"acme","details":{"office":"3","client_id":"scheduler"}}`
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, iam.MapDetails{"tenant": "acme", "office": "3", "client_id": "scheduler"}, gotDetails)
}

func TestLogin_FormPost(t *testing.T) {
	svc := newStubIAM()
	var gotCreds iam.Credentials
	var gotDetails iam.LoginDetails
	svc.loginFn = func(creds iam.Credentials, details iam.LoginDetails) (*auth.Principal, error) {
		gotCreds, gotDetails = creds, details
		return svc.principal, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {"drsmith"},
		"password":   {"hunter2"},
		"tenant":     {"acme"},
		"office":     {"3"},
		"scope":      {"openid user/provider.*.read"},
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "drsmith", gotCreds.Username)
	assert.Equal(t, iam.MapDetails{
		"grant_type": "password",
		"tenant":     "acme",
		"office":     "3",
		"scope":      "openid user/provider.*.read",
	}, gotDetails)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		loginErr error
		panics   bool
		status   int
		category string
	}{
		{"bad credentials", `{"username":"drsmith","password":"x","tenant":"acme"}`, auth.BadCredentials("invalid username or password"), false, http.StatusUnauthorized, "bad_credentials"},
		{"locked", `{"username":"drsmith","password":"x","tenant":"acme"}`, auth.AccountLocked("account is locked"), false, http.StatusUnauthorized, "account_locked"},
		{"store outage", `{"username":"drsmith","password":"x","tenant":"acme"}`, auth.AuthServiceError("credential store unavailable", nil), false, http.StatusServiceUnavailable, "auth_service_error"},
		{"malformed body", `{"username":`, nil, false, http.StatusBadRequest, "invalid_request"},
		{"panic in login", `{"username":"drsmith","password":"x","tenant":"acme"}`, nil, true, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubIAM()
			svc.loginFn = func(iam.Credentials, iam.LoginDetails) (*auth.Principal, error) {
				if tt.panics {
					panic("nil dereference")
				}
				return nil, tt.loginErr
			}

			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body)))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			assert.Equal(t, tt.category, body["error"])
			assert.NotContains(t, body["message"], "nil dereference")
		})
	}
}

func TestWhoAmI(t *testing.T) {
	router := newTestRouter(newStubIAM())

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
		req.Header.Set("Authorization", "Bearer forged")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[WhoAmIResponse](t, rec)
		assert.Equal(t, "drsmith", resp.Principal.Username)
		assert.Equal(t, "0b5a8f0e-5d43-4c43-9d43-3d0c1b1f6a10", resp.Principal.SessionID)
		assert.Equal(t, []int64{3, 4}, resp.Offices)
	})
}

func TestExtraRoutesRunBehindAuthentication(t *testing.T) {
	router := NewRouter(RouterOptions{
		IAM:    newStubIAM(),
		Logger: zerolog.Nop(),
		ExtraRoutes: func(r chi.Router, guards gwmiddleware.Guards) {
			r.With(guards.RequireAccess("Billing", "READ_ONLY")).Get("/billing", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			r.With(guards.RequireAccess("Clinical", "READ_ONLY")).Get("/charts", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		},
	})

	call := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("/billing"))
	assert.Equal(t, http.StatusForbidden, call("/charts"))
}

func TestGatewayWhoAmI(t *testing.T) {
	server := httptest.NewServer(NewH2CHandler(RouterOptions{IAM: newStubIAM(), Logger: zerolog.Nop()}))
	t.Cleanup(server.Close)

	client := connect.NewClient[emptypb.Empty, structpb.Struct](server.Client(), server.URL+GatewayWhoAmIProcedure)

	t.Run("authenticated", func(t *testing.T) {
		req := connect.NewRequest(&emptypb.Empty{})
		req.Header().Set("Authorization", "Bearer good")
		resp, err := client.CallUnary(context.Background(), req)
		require.NoError(t, err)

		doc := resp.Msg.AsMap()
		principal, ok := doc["principal"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "drsmith", principal["username"])
		assert.Equal(t, []any{float64(3), float64(4)}, doc["offices"])
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := client.CallUnary(context.Background(), connect.NewRequest(&emptypb.Empty{}))
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})
}
