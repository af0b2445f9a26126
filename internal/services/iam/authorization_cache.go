package iam

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/repository"
)

// DefaultAuthorizationCacheSize bounds the number of cached authorization contexts.
const DefaultAuthorizationCacheSize = 10000

type authorizationEntry struct {
	authz     *auth.AuthorizationContext
	expiresAt time.Time
}

// AuthorizationCache memoizes AuthorizationContexts per tenant and cache key so repeat
// requests under the same authorization skip the permission store.
//
// Entries expire after ttl and are checked on read; the cache runs no
// background goroutine.
type AuthorizationCache struct {
	permissions repository.PermissionStore
	entries     *lru.Cache[string, authorizationEntry]
	ttl         time.Duration
	now         func() time.Time
}

// NewAuthorizationCache creates a cache in front of permissions. A zero ttl
// disables caching.
func NewAuthorizationCache(permissions repository.PermissionStore, size int, ttl time.Duration) (*AuthorizationCache, error) {
	if size <= 0 {
		size = DefaultAuthorizationCacheSize
	}
	entries, err := lru.New[string, authorizationEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create authorization cache: %w", err)
	}
	return &AuthorizationCache{
		permissions: permissions,
		entries:     entries,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// Resolve returns the AuthorizationContext for p. It has the signature of
// auth.AuthorizationSupplier.
func (c *AuthorizationCache) Resolve(ctx context.Context, p *auth.Principal) (*auth.AuthorizationContext, error) {
	if p == nil {
		return auth.NewAuthorizationContext(auth.PermissionSnapshot{}), nil
	}

	key := authorizationKey(p)
	if c.ttl > 0 {
		if entry, ok := c.entries.Get(key); ok {
			if c.now().Before(entry.expiresAt) {
				return entry.authz, nil
			}
			c.entries.Remove(key)
		}
	}

	// A switched-office principal shares its key with the original office, so
	// its entry must cover every office the user belongs to.
	office := p.OfficeID
	if p.OriginalOfficeID != nil {
		office = nil
	}
	snapshot, err := c.permissions.PermissionsFor(ctx, repository.PermissionSubject{
		Kind:         p.Kind,
		TenantID:     p.TenantID,
		UserIdentity: p.UserIdentity,
		OfficeID:     office,
	})
	if err != nil {
		return nil, auth.AuthServiceError("permission store unavailable", err)
	}
	authz := auth.NewAuthorizationContext(*snapshot)

	if c.ttl > 0 {
		c.entries.Add(key, authorizationEntry{authz: authz, expiresAt: c.now().Add(c.ttl)})
	}
	return authz, nil
}

// authorizationKey binds the principal's cache key to its tenant and
// identity. The cache key omits the tenant for external principals and the
// username for client-only tokens, and permissions are tenant scoped.
func authorizationKey(p *auth.Principal) string {
	return strings.Join([]string{p.TenantID, string(p.Kind), p.UserIdentity, auth.CacheKeyFor(p)}, "\x00")
}

// Supplier returns Resolve as an auth.AuthorizationSupplier.
func (c *AuthorizationCache) Supplier() auth.AuthorizationSupplier {
	return c.Resolve
}

// Purge drops every cached entry.
func (c *AuthorizationCache) Purge() {
	c.entries.Purge()
}

// Len reports the number of cached entries, expired ones included.
func (c *AuthorizationCache) Len() int {
	return c.entries.Len()
}
