package iam

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/config"
	"github.com/clinigate/authgw/internal/db/models"
	"github.com/clinigate/authgw/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testAudience = "authgw"

// testIdP serves a discovery document and a key set for one ECDSA key.
type testIdP struct {
	server *httptest.Server
	key    *ecdsa.PrivateKey
	kid    string

	mu           sync.Mutex
	cacheControl string
	expires      string
	failing      bool
	delay        time.Duration

	discoveryHits atomic.Int32
	keyHits       atomic.Int32
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	idp := &testIdP{key: key, kid: "key-1", cacheControl: "max-age=300"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		idp.discoveryHits.Add(1)
		idp.mu.Lock()
		delay := idp.delay
		idp.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if idp.isFailing() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":   idp.server.URL,
			"jwks_uri": idp.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		idp.keyHits.Add(1)
		idp.mu.Lock()
		cc, expires := idp.cacheControl, idp.expires
		idp.mu.Unlock()
		if cc != "" {
			w.Header().Set("Cache-Control", cc)
		}
		if expires != "" {
			w.Header().Set("Expires", expires)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     idp.kid,
			Algorithm: string(jose.ES256),
			Use:       "sig",
		}}})
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (i *testIdP) URL() string { return i.server.URL }

func (i *testIdP) setCacheControl(v string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cacheControl = v
}

func (i *testIdP) setExpires(v string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.expires = v
}

func (i *testIdP) setFailing(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failing = v
}

func (i *testIdP) isFailing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failing
}

// sign issues a compact JWS over claims with the IdP key.
func (i *testIdP) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	return signWith(t, i.key, i.kid, claims)
}

func signWith(t *testing.T, key *ecdsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader(jose.HeaderKey("kid"), kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	require.NoError(t, err)
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

// userClaims are valid claims for an end-user token.
func (i *testIdP) userClaims() map[string]any {
	return map[string]any{
		"iss":              i.URL(),
		"aud":              testAudience,
		"exp":              time.Now().Add(5 * time.Minute).Unix(),
		"jti":              "jti-1",
		"client_id":        "portal",
		"user_id":          "u-123",
		"requested_tenant": "acme",
		"scp":              []string{"user/provider.Patient.read", "user/provider.Appointment.write"},
		"sid":              "upstream-session",
	}
}

func (i *testIdP) oidcConfig() config.OIDCConfig {
	return config.OIDCConfig{Issuer: i.URL(), Audience: testAudience}
}

func (i *testIdP) keyCache(t *testing.T) *KeyCache {
	t.Helper()
	keys, err := NewKeyCache(KeyCacheConfig{Issuer: i.URL(), HTTPClient: i.server.Client()})
	require.NoError(t, err)
	return keys
}

func (i *testIdP) verifier(t *testing.T) *ExternalJWTVerifier {
	t.Helper()
	v, err := NewExternalJWTVerifier(i.oidcConfig(), i.keyCache(t))
	require.NoError(t, err)
	return v
}

// mockCredentialStore is a testify mock so tests can assert it was never called.
type mockCredentialStore struct {
	mock.Mock
}

func (m *mockCredentialStore) Verify(ctx context.Context, tenant, username, password string) (int64, error) {
	args := m.Called(ctx, tenant, username, password)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCredentialStore) OfficesFor(ctx context.Context, tenant string, userID int64) ([]int64, error) {
	args := m.Called(ctx, tenant, userID)
	offices, _ := args.Get(0).([]int64)
	return offices, args.Error(1)
}

// fakeIdentityStore resolves users and patients from maps.
type fakeIdentityStore struct {
	users    map[int64]*models.User
	patients map[string]*models.Patient // external id → patient
	err      error
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{users: map[int64]*models.User{}, patients: map[string]*models.Patient{}}
}

func (f *fakeIdentityStore) UserByID(ctx context.Context, tenant string, id int64) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok || u.TenantID != tenant {
		return nil, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	return u, nil
}

func (f *fakeIdentityStore) PatientByExternalID(ctx context.Context, tenant, externalID string) (*models.Patient, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.patients[externalID]
	if !ok || p.TenantID != tenant {
		return nil, fmt.Errorf("patient: %w", repository.ErrNotFound)
	}
	return p, nil
}

// fakePermissionStore returns one snapshot for every subject and records calls.
type fakePermissionStore struct {
	mu       sync.Mutex
	snapshot auth.PermissionSnapshot
	err      error
	subjects []repository.PermissionSubject
}

func (f *fakePermissionStore) PermissionsFor(ctx context.Context, subject repository.PermissionSubject) (*auth.PermissionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	if f.err != nil {
		return nil, f.err
	}
	s := f.snapshot
	return &s, nil
}

func (f *fakePermissionStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

// fakeSessionStore maps token hashes to sessions.
type fakeSessionStore struct {
	sessions map[string]*models.LegacySession
	err      error
}

func (f *fakeSessionStore) GetByTokenHash(ctx context.Context, hash string) (*models.LegacySession, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[hash]
	if !ok {
		return nil, fmt.Errorf("session: %w", repository.ErrNotFound)
	}
	return s, nil
}

// recordingAuditSink keeps every event.
type recordingAuditSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (r *recordingAuditSink) Record(ctx context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *recordingAuditSink) last() models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

var errStoreDown = errors.New("connection refused")

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }
