package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Cache key pair names. The order in which DeriveCacheKey appends them is part
// of the key format; changing it invalidates every cached authorization.
const (
	cacheKeyUsername = "username"
	cacheKeyTenant   = "tenant"
	cacheKeyClientID = "client_id"
	cacheKeyScope    = "scope"
	cacheKeyOffice   = "office"
)

// CacheKeyInput is everything that distinguishes one cached authorization from another.
type CacheKeyInput struct {
	// Username is ignored when ClientOnly is set.
	Username   string
	ClientOnly bool

	// Tenant is only part of the key for legacy identities.
	Tenant        string
	IncludeTenant bool

	ClientID string
	Scopes   []string

	Office         *int64
	OriginalOffice *int64
}

type cacheKeyPair struct {
	name  string
	value string
}

// DeriveCacheKey returns a fixed-length hex fingerprint of an authorization.
//
// Pairs are appended in a fixed order (username, tenant, client_id, scope, office)
// and serialized as "{k=v, k=v}" before hashing. The digest is only used for
// uniform fingerprinting, not as a security boundary.
func DeriveCacheKey(in CacheKeyInput) string {
	pairs := make([]cacheKeyPair, 0, 5)

	if !in.ClientOnly {
		pairs = append(pairs, cacheKeyPair{cacheKeyUsername, in.Username})
	}
	if in.IncludeTenant {
		pairs = append(pairs, cacheKeyPair{cacheKeyTenant, in.Tenant})
	}
	pairs = append(pairs, cacheKeyPair{cacheKeyClientID, in.ClientID})

	if len(in.Scopes) > 0 {
		scopes := append([]string(nil), in.Scopes...)
		sort.Strings(scopes)
		pairs = append(pairs, cacheKeyPair{cacheKeyScope, strings.Join(scopes, " ")})
	}

	// The original office wins so a switch-office session keeps its entry.
	office := in.OriginalOffice
	if office == nil {
		office = in.Office
	}
	if office != nil {
		pairs = append(pairs, cacheKeyPair{cacheKeyOffice, strconv.FormatInt(*office, 10)})
	}

	sum := sha256.Sum256([]byte(serializePairs(pairs)))
	return hex.EncodeToString(sum[:])
}

// CacheKeyFor derives the cache key for a principal.
func CacheKeyFor(p *Principal) string {
	return DeriveCacheKey(CacheKeyInput{
		Username:       p.Username,
		ClientOnly:     p.IsClientOnly(),
		Tenant:         p.TenantID,
		IncludeTenant:  p.Kind.IsLegacy(),
		ClientID:       p.ClientID,
		Scopes:         p.Scopes,
		Office:         p.OfficeID,
		OriginalOffice: p.OriginalOfficeID,
	})
}

func serializePairs(pairs []cacheKeyPair) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.name)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	b.WriteByte('}')
	return b.String()
}
