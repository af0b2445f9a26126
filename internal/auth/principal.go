package auth

import (
	"sort"
	"time"
)

// IdentityKind describes which trust source produced a principal.
type IdentityKind string

const (
	// IdentityLegacyProvider is clinical staff authenticated against the tenant credential store
	// or a legacy session token.
	IdentityLegacyProvider IdentityKind = "legacy-provider"
	// IdentityLegacyPatient is a patient authenticated through a signed assertion or legacy session token.
	IdentityLegacyPatient IdentityKind = "legacy-patient"
	// IdentityExternalProvider is an end user authenticated by the external identity provider.
	IdentityExternalProvider IdentityKind = "external-provider"
	// IdentityExternalServiceAccount is a machine client authenticated by the external identity provider.
	IdentityExternalServiceAccount IdentityKind = "external-service-account"
)

// IsLegacy reports whether the identity was issued by an in-house trust source.
func (k IdentityKind) IsLegacy() bool {
	return k == IdentityLegacyProvider || k == IdentityLegacyPatient
}

// Grant types recorded on a principal.
const (
	GrantTypePassword          = "password"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
)

// Principal is the normalized caller identity produced by one authentication event.
//
// A Principal is IMMUTABLE after construction. Use NewPrincipal so scopes are
// normalized; never mutate the fields of a Principal you did not build.
type Principal struct {
	// Kind identifies the trust source.
	Kind IdentityKind

	// UserIdentity is kind-dependent: numeric user id, numeric patient id,
	// or the external subject / service account id.
	UserIdentity string

	// Username is the login name for legacy principals (empty for client-only tokens).
	Username string

	// TenantID is the clinic partition. Empty only for client-only tokens.
	TenantID string

	// Scopes is sorted and de-duplicated.
	Scopes []string

	// OfficeID is the office selected for this session, if any.
	OfficeID *int64

	// OriginalOfficeID is the office the session started in when the caller has
	// since switched offices. Cache keys prefer it so the entry stays stable.
	OriginalOfficeID *int64

	// ClientID is the OAuth client that obtained the credential.
	ClientID string

	// GrantType is one of the GrantType* constants.
	GrantType string

	// SessionID is a UUID stable for the lifetime of a login session.
	SessionID string

	// ExpiresAt is zero when the credential carries no expiry.
	ExpiresAt time.Time
}

// NewPrincipal returns a copy of p with scopes sorted and de-duplicated and
// office pointers copied so the caller's values cannot alias the principal.
func NewPrincipal(p Principal) *Principal {
	out := p
	out.Scopes = NormalizeScopes(p.Scopes)
	out.OfficeID = copyInt64(p.OfficeID)
	out.OriginalOfficeID = copyInt64(p.OriginalOfficeID)
	return &out
}

// HasOffice reports whether an office was selected.
func (p *Principal) HasOffice() bool {
	return p != nil && p.OfficeID != nil
}

// IsClientOnly reports whether the credential represents a client without a user.
func (p *Principal) IsClientOnly() bool {
	return p != nil && p.GrantType == GrantTypeClientCredentials
}

// IsPatient reports whether the principal is a patient.
func (p *Principal) IsPatient() bool {
	return p != nil && p.Kind == IdentityLegacyPatient
}

// IsProvider reports whether the principal is clinical staff.
func (p *Principal) IsProvider() bool {
	return p != nil && (p.Kind == IdentityLegacyProvider || p.Kind == IdentityExternalProvider)
}

// NormalizeScopes sorts and de-duplicates scopes, dropping empty entries.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
