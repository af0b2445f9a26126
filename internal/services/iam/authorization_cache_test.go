package iam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/repository"
)

func cachedPrincipal() *auth.Principal {
	return auth.NewPrincipal(auth.Principal{
		Kind:         auth.IdentityLegacyProvider,
		UserIdentity: "7",
		Username:     "drsmith",
		TenantID:     "acme",
		ClientID:     "ehr-web",
		Scopes:       []string{"user/provider.Patient.read"},
		OfficeID:     int64Ptr(3),
		GrantType:    auth.GrantTypePassword,
	})
}

func TestAuthorizationCache_HitAvoidsStore(t *testing.T) {
	store := &fakePermissionStore{snapshot: auth.PermissionSnapshot{
		Features: map[int64][]auth.Feature{3: {auth.FeatureTelehealth}},
	}}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cache.Resolve(ctx, cachedPrincipal())
	require.NoError(t, err)
	second, err := cache.Resolve(ctx, cachedPrincipal())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.calls())
	assert.True(t, first.FeatureEnabled(auth.FeatureTelehealth))
	assert.Equal(t, 1, cache.Len())

	require.NotNil(t, store.subjects[0].OfficeID)
	assert.Equal(t, int64(3), *store.subjects[0].OfficeID)
}

func TestAuthorizationCache_DistinctKeys(t *testing.T) {
	store := &fakePermissionStore{}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	base := cachedPrincipal()
	other := *base
	other.Scopes = []string{"user/provider.Patient.write"}
	elsewhere := *base
	elsewhere.OfficeID = int64Ptr(4)

	for _, p := range []*auth.Principal{base, auth.NewPrincipal(other), auth.NewPrincipal(elsewhere)} {
		_, err := cache.Resolve(ctx, p)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.calls())
	assert.Equal(t, 3, cache.Len())
}

func TestAuthorizationCache_Expiry(t *testing.T) {
	store := &fakePermissionStore{}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)

	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err = cache.Resolve(ctx, cachedPrincipal())
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = cache.Resolve(ctx, cachedPrincipal())
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls())

	now = now.Add(time.Second)
	_, err = cache.Resolve(ctx, cachedPrincipal())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls())
}

func TestAuthorizationCache_ZeroTTLDisablesCaching(t *testing.T) {
	store := &fakePermissionStore{}
	cache, err := NewAuthorizationCache(store, 0, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := cache.Resolve(context.Background(), cachedPrincipal())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.calls())
	assert.Zero(t, cache.Len())
}

func TestAuthorizationCache_SwitchedOfficeLoadsAllOffices(t *testing.T) {
	store := &fakePermissionStore{}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	switched := *cachedPrincipal()
	switched.OriginalOfficeID = int64Ptr(1)
	_, err = cache.Resolve(ctx, auth.NewPrincipal(switched))
	require.NoError(t, err)
	assert.Nil(t, store.subjects[0].OfficeID)

	// Switching again keeps the original office, so the entry is reused.
	switched.OfficeID = int64Ptr(5)
	_, err = cache.Resolve(ctx, auth.NewPrincipal(switched))
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls())
}

func TestAuthorizationCache_StoreFailureNotCached(t *testing.T) {
	store := &fakePermissionStore{err: errStoreDown}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)

	_, err = cache.Resolve(context.Background(), cachedPrincipal())
	assert.True(t, errors.Is(err, auth.ErrAuthServiceError))
	assert.Zero(t, cache.Len())

	store.err = nil
	_, err = cache.Resolve(context.Background(), cachedPrincipal())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls())
}

func TestAuthorizationCache_PurgeAndNilPrincipal(t *testing.T) {
	store := &fakePermissionStore{}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)

	authz, err := cache.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, authz.Offices())
	assert.Zero(t, store.calls())

	_, err = cache.Resolve(context.Background(), cachedPrincipal())
	require.NoError(t, err)
	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestAuthorizationCache_SuppliesSecurityContext(t *testing.T) {
	store := &fakePermissionStore{snapshot: auth.PermissionSnapshot{
		RoleSections: map[int64]map[auth.RoleSection]auth.SectionLevel{3: {auth.SectionScheduling: auth.SectionReadWrite}},
	}}
	cache, err := NewAuthorizationCache(store, 10, time.Minute)
	require.NoError(t, err)

	err = auth.Store{}.Run(context.Background(), cachedPrincipal(), cache.Supplier(), func(ctx context.Context, sc *auth.SecurityContext) error {
		guard, err := sc.Guard()
		require.NoError(t, err)
		assert.True(t, guard.HasAccess("Scheduling", "READ_ONLY"))
		assert.False(t, guard.HasAccess("Billing", "READ_ONLY"))

		_, err = sc.Authorization()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls())
}

// tenantPermissionStore grants REST access only to the listed tenants.
type tenantPermissionStore struct {
	restTenants map[string]bool
}

func (s tenantPermissionStore) PermissionsFor(_ context.Context, subject repository.PermissionSubject) (*auth.PermissionSnapshot, error) {
	snapshot := &auth.PermissionSnapshot{}
	if s.restTenants[subject.TenantID] {
		snapshot.ExternalAccess = []auth.ExternalAccess{auth.ExternalAccessREST}
	}
	return snapshot, nil
}

func TestAuthorizationCache_TenantsNeverShareEntries(t *testing.T) {
	cache, err := NewAuthorizationCache(tenantPermissionStore{restTenants: map[string]bool{"acme": true}}, 10, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	account := func(tenant string) *auth.Principal {
		return auth.NewPrincipal(auth.Principal{
			Kind:         auth.IdentityExternalServiceAccount,
			UserIdentity: "42",
			TenantID:     tenant,
			ClientID:     "svc",
			Scopes:       []string{"system/Patient.read"},
			GrantType:    auth.GrantTypeClientCredentials,
		})
	}
	acme, globex := account("acme"), account("globex")
	require.Equal(t, auth.CacheKeyFor(acme), auth.CacheKeyFor(globex))

	acmeAuthz, err := cache.Resolve(ctx, acme)
	require.NoError(t, err)
	globexAuthz, err := cache.Resolve(ctx, globex)
	require.NoError(t, err)

	assert.NotSame(t, acmeAuthz, globexAuthz)
	assert.True(t, acmeAuthz.ExternalAccessEnabled(auth.ExternalAccessREST))
	assert.False(t, globexAuthz.ExternalAccessEnabled(auth.ExternalAccessREST))
	assert.Equal(t, 2, cache.Len())
}
