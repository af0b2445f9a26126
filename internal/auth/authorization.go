package auth

import "sort"

// ProviderAccessType is the kind of access a caller has to a provider's data.
type ProviderAccessType string

const (
	ProviderAccessScheduling ProviderAccessType = "Scheduling"
	ProviderAccessBilling    ProviderAccessType = "Billing"
	ProviderAccessClinical   ProviderAccessType = "Clinical"
)

var providerAccessTypes = map[string]ProviderAccessType{
	string(ProviderAccessScheduling): ProviderAccessScheduling,
	string(ProviderAccessBilling):    ProviderAccessBilling,
	string(ProviderAccessClinical):   ProviderAccessClinical,
}

// ParseProviderAccessType resolves a case-sensitive access type name.
func ParseProviderAccessType(name string) (ProviderAccessType, bool) {
	t, ok := providerAccessTypes[name]
	return t, ok
}

// AccessLevel grades provider access.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessReadOnly
	AccessFull
)

var accessLevelNames = map[string]AccessLevel{
	"None":     AccessNone,
	"ReadOnly": AccessReadOnly,
	"Full":     AccessFull,
}

func (l AccessLevel) String() string {
	for name, v := range accessLevelNames {
		if v == l {
			return name
		}
	}
	return "None"
}

// ParseAccessLevel resolves a case-sensitive access level name.
func ParseAccessLevel(name string) (AccessLevel, bool) {
	l, ok := accessLevelNames[name]
	return l, ok
}

// QualifiesProviderLevel reports whether an actual grant satisfies a request.
// Full satisfies ReadOnly; otherwise levels must match exactly.
func QualifiesProviderLevel(actual, requested AccessLevel) bool {
	return actual == requested || (actual == AccessFull && requested == AccessReadOnly)
}

// RoleSection is a named functional area with graded access.
type RoleSection string

const (
	SectionScheduling    RoleSection = "Scheduling"
	SectionBilling       RoleSection = "Billing"
	SectionClinical      RoleSection = "Clinical"
	SectionPatients      RoleSection = "Patients"
	SectionReports       RoleSection = "Reports"
	SectionSettings      RoleSection = "Settings"
	SectionUsers         RoleSection = "Users"
	SectionPrescriptions RoleSection = "Prescriptions"
)

var roleSections = map[string]RoleSection{
	string(SectionScheduling):    SectionScheduling,
	string(SectionBilling):       SectionBilling,
	string(SectionClinical):      SectionClinical,
	string(SectionPatients):      SectionPatients,
	string(SectionReports):       SectionReports,
	string(SectionSettings):      SectionSettings,
	string(SectionUsers):         SectionUsers,
	string(SectionPrescriptions): SectionPrescriptions,
}

// ParseRoleSection resolves a case-sensitive role section name.
func ParseRoleSection(name string) (RoleSection, bool) {
	s, ok := roleSections[name]
	return s, ok
}

// SectionLevel grades role-section access.
type SectionLevel int

const (
	SectionNone SectionLevel = iota
	SectionReadOnly
	SectionReadWrite
)

var sectionLevelNames = map[string]SectionLevel{
	"NONE":       SectionNone,
	"READ_ONLY":  SectionReadOnly,
	"READ_WRITE": SectionReadWrite,
}

// ParseSectionLevel resolves a case-sensitive section level name.
func ParseSectionLevel(name string) (SectionLevel, bool) {
	l, ok := sectionLevelNames[name]
	return l, ok
}

// QualifiesSectionLevel reports whether an actual section level satisfies a request.
// READ_WRITE satisfies READ_ONLY; otherwise levels must match exactly.
func QualifiesSectionLevel(actual, requested SectionLevel) bool {
	return actual == requested || (actual == SectionReadWrite && requested == SectionReadOnly)
}

// Feature is an office-level product capability.
type Feature string

const (
	FeatureTelehealth     Feature = "Telehealth"
	FeatureEPrescribing   Feature = "EPrescribing"
	FeaturePatientPortal  Feature = "PatientPortal"
	FeatureLabIntegration Feature = "LabIntegration"
	FeatureClaimsClearing Feature = "ClaimsClearing"
	FeatureOnlineBooking  Feature = "OnlineBooking"
)

var features = map[string]Feature{
	string(FeatureTelehealth):     FeatureTelehealth,
	string(FeatureEPrescribing):   FeatureEPrescribing,
	string(FeaturePatientPortal):  FeaturePatientPortal,
	string(FeatureLabIntegration): FeatureLabIntegration,
	string(FeatureClaimsClearing): FeatureClaimsClearing,
	string(FeatureOnlineBooking):  FeatureOnlineBooking,
}

// ParseFeature resolves a case-sensitive feature name.
func ParseFeature(name string) (Feature, bool) {
	f, ok := features[name]
	return f, ok
}

// ExternalAccess is an integration channel an identity may be allowed to use.
type ExternalAccess string

const (
	ExternalAccessREST ExternalAccess = "REST"
	ExternalAccessFHIR ExternalAccess = "FHIR"
	ExternalAccessHL7  ExternalAccess = "HL7"
)

var externalAccessNames = map[string]ExternalAccess{
	string(ExternalAccessREST): ExternalAccessREST,
	string(ExternalAccessFHIR): ExternalAccessFHIR,
	string(ExternalAccessHL7):  ExternalAccessHL7,
}

// ParseExternalAccess resolves a case-sensitive external access name.
func ParseExternalAccess(name string) (ExternalAccess, bool) {
	e, ok := externalAccessNames[name]
	return e, ok
}

// ProviderGrant is one provider the caller may act on. OfficeID is ignored
// for open grants.
type ProviderGrant struct {
	OfficeID   int64
	ProviderID int64
	Type       ProviderAccessType
	Level      AccessLevel
}

// PermissionSnapshot is the raw permission data returned by the permission store.
type PermissionSnapshot struct {
	ProviderGrants     []ProviderGrant
	OpenProviderGrants []ProviderGrant
	RoleSections       map[int64]map[RoleSection]SectionLevel
	Features           map[int64][]Feature
	ExternalAccess     []ExternalAccess
}

// AuthorizationContext is the resolved, read-only permission view for a request.
type AuthorizationContext struct {
	providerGrants []ProviderGrant
	openGrants     []ProviderGrant
	sections       map[int64]map[RoleSection]SectionLevel
	features       map[int64]map[Feature]struct{}
	external       map[ExternalAccess]struct{}
}

// NewAuthorizationContext builds an AuthorizationContext from a snapshot.
// The snapshot is copied; later changes to it are not observed.
func NewAuthorizationContext(s PermissionSnapshot) *AuthorizationContext {
	a := &AuthorizationContext{
		providerGrants: append([]ProviderGrant(nil), s.ProviderGrants...),
		openGrants:     append([]ProviderGrant(nil), s.OpenProviderGrants...),
		sections:       make(map[int64]map[RoleSection]SectionLevel, len(s.RoleSections)),
		features:       make(map[int64]map[Feature]struct{}, len(s.Features)),
		external:       make(map[ExternalAccess]struct{}, len(s.ExternalAccess)),
	}
	for office, levels := range s.RoleSections {
		m := make(map[RoleSection]SectionLevel, len(levels))
		for section, level := range levels {
			m[section] = level
		}
		a.sections[office] = m
	}
	for office, fs := range s.Features {
		m := make(map[Feature]struct{}, len(fs))
		for _, f := range fs {
			m[f] = struct{}{}
		}
		a.features[office] = m
	}
	for _, e := range s.ExternalAccess {
		a.external[e] = struct{}{}
	}
	return a
}

// Offices returns every office the context covers, sorted.
func (a *AuthorizationContext) Offices() []int64 {
	seen := make(map[int64]struct{})
	for office := range a.sections {
		seen[office] = struct{}{}
	}
	for office := range a.features {
		seen[office] = struct{}{}
	}
	for _, g := range a.providerGrants {
		seen[g.OfficeID] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for office := range seen {
		out = append(out, office)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OfficeProviders returns, per office, the providers whose grant of type t
// qualifies for the requested level.
func (a *AuthorizationContext) OfficeProviders(t ProviderAccessType, requested AccessLevel) map[int64][]int64 {
	out := make(map[int64][]int64)
	for _, g := range a.providerGrants {
		if g.Type == t && QualifiesProviderLevel(g.Level, requested) {
			out[g.OfficeID] = append(out[g.OfficeID], g.ProviderID)
		}
	}
	return out
}

// OpenProviders returns the cross-office providers whose grant of type t
// qualifies for the requested level.
func (a *AuthorizationContext) OpenProviders(t ProviderAccessType, requested AccessLevel) []int64 {
	var out []int64
	for _, g := range a.openGrants {
		if g.Type == t && QualifiesProviderLevel(g.Level, requested) {
			out = append(out, g.ProviderID)
		}
	}
	return out
}

// HasProviderAccess reports whether any grant in office qualifies for (t, requested).
func (a *AuthorizationContext) HasProviderAccess(office int64, t ProviderAccessType, requested AccessLevel) bool {
	return len(a.OfficeProviders(t, requested)[office]) > 0
}

// SectionLevels returns the caller's level for section in each office that grants one.
func (a *AuthorizationContext) SectionLevels(section RoleSection) map[int64]SectionLevel {
	out := make(map[int64]SectionLevel)
	for office, levels := range a.sections {
		if level, ok := levels[section]; ok {
			out[office] = level
		}
	}
	return out
}

// FeatureEnabled reports whether f is enabled in any covered office.
func (a *AuthorizationContext) FeatureEnabled(f Feature) bool {
	for _, fs := range a.features {
		if _, ok := fs[f]; ok {
			return true
		}
	}
	return false
}

// ExternalAccessEnabled reports whether the external access flag e is present.
func (a *AuthorizationContext) ExternalAccessEnabled(e ExternalAccess) bool {
	_, ok := a.external[e]
	return ok
}
