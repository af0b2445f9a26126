package auth

// Scopes that bypass role-section checks. First-party applications and
// sessions acting on behalf of an authorized user are trusted with every section.
const (
	ScopeFirstParty     = "system/first-party"
	ScopeAuthorizedUser = "system/authorized-user"
)

// Guard evaluates access predicates for one request. It performs no I/O and
// is safe to copy.
type Guard struct {
	principal *Principal
	authz     *AuthorizationContext
	scopes    ScopeChecker
}

// NewGuard builds a Guard. A nil authz is treated as an empty context.
func NewGuard(p *Principal, authz *AuthorizationContext) Guard {
	if authz == nil {
		authz = NewAuthorizationContext(PermissionSnapshot{})
	}
	var scopes []string
	if p != nil {
		scopes = p.Scopes
	}
	return Guard{principal: p, authz: authz, scopes: NewScopeChecker(scopes)}
}

func (g Guard) IsPatient() bool {
	return g.principal.IsPatient()
}

func (g Guard) IsProvider() bool {
	return g.principal.IsProvider()
}

// HasFeature reports whether the named feature is enabled in any office the
// caller covers. Unknown names are false.
func (g Guard) HasFeature(name string) bool {
	f, ok := ParseFeature(name)
	if !ok {
		return false
	}
	return g.authz.FeatureEnabled(f)
}

// HasAccess reports whether the caller holds level on the named role section
// in some office. READ_WRITE satisfies READ_ONLY. Unknown names are false.
func (g Guard) HasAccess(section, level string) bool {
	if g.scopes.hasAnyExact([]string{ScopeFirstParty, ScopeAuthorizedUser}) {
		return true
	}
	s, ok := ParseRoleSection(section)
	if !ok {
		return false
	}
	requested, ok := ParseSectionLevel(level)
	if !ok {
		return false
	}
	for _, actual := range g.authz.SectionLevels(s) {
		if QualifiesSectionLevel(actual, requested) {
			return true
		}
	}
	return false
}

// HasExternalAccess reports whether the named external access flag is set.
func (g Guard) HasExternalAccess(name string) bool {
	e, ok := ParseExternalAccess(name)
	if !ok {
		return false
	}
	return g.authz.ExternalAccessEnabled(e)
}

// HasProviderAccess reports whether the caller may act on some provider in
// office with the given access type and level.
func (g Guard) HasProviderAccess(office int64, accessType, level string) bool {
	t, ok := ParseProviderAccessType(accessType)
	if !ok {
		return false
	}
	l, ok := ParseAccessLevel(level)
	if !ok {
		return false
	}
	return g.authz.HasProviderAccess(office, t, l)
}

func (g Guard) HasScope(required string) (bool, error) {
	return g.scopes.HasScope(required)
}

func (g Guard) HasAnyScope(required ...string) (bool, error) {
	return g.scopes.HasAnyScope(required...)
}

// Authorization exposes the underlying context for office/provider resolution.
func (g Guard) Authorization() *AuthorizationContext {
	return g.authz
}
