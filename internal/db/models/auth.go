package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is clinical staff with tenant-scoped password credentials.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                int64      `bun:"id,pk,autoincrement"`
	TenantID          string     `bun:"tenant_id,notnull"`
	Username          string     `bun:"username,notnull"`
	PasswordHash      string     `bun:"password_hash,notnull"` // bcrypt
	ExternalSubjectID *string    `bun:"external_subject_id"`   // subject at the external identity provider
	Active            bool       `bun:"active,notnull"`
	LockedAt          *time.Time `bun:"locked_at"`
	DisabledAt        *time.Time `bun:"disabled_at"`
	FailedAttempts    int        `bun:"failed_attempts,notnull,default:0"`
	CreatedAt         time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// IsLocked reports whether the account is locked out.
func (u *User) IsLocked() bool {
	return u != nil && u.LockedAt != nil
}

// IsDisabled reports whether the account was disabled by an administrator.
func (u *User) IsDisabled() bool {
	return u != nil && u.DisabledAt != nil
}

// UserOffice grants a user membership of an office.
type UserOffice struct {
	bun.BaseModel `bun:"table:user_offices,alias:uo"`

	TenantID string `bun:"tenant_id,pk"`
	UserID   int64  `bun:"user_id,pk"`
	OfficeID int64  `bun:"office_id,pk"`
}

// Patient is a patient record linked to a long-lived external identity.
type Patient struct {
	bun.BaseModel `bun:"table:patients,alias:p"`

	ID         int64     `bun:"id,pk,autoincrement"`
	TenantID   string    `bun:"tenant_id,notnull"`
	ExternalID string    `bun:"external_id,notnull"`
	Active     bool      `bun:"active,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ProviderGrant gives a user access to a provider's data. A nil OfficeID is
// an open grant valid in every office.
type ProviderGrant struct {
	bun.BaseModel `bun:"table:provider_grants,alias:pg"`

	ID          int64  `bun:"id,pk,autoincrement"`
	TenantID    string `bun:"tenant_id,notnull"`
	UserID      int64  `bun:"user_id,notnull"`
	OfficeID    *int64 `bun:"office_id"`
	ProviderID  int64  `bun:"provider_id,notnull"`
	AccessType  string `bun:"access_type,notnull"`  // Scheduling, Billing, Clinical
	AccessLevel string `bun:"access_level,notnull"` // None, ReadOnly, Full
}

// RoleSectionGrant is a user's level on a role section within one office.
type RoleSectionGrant struct {
	bun.BaseModel `bun:"table:role_section_grants,alias:rsg"`

	TenantID string `bun:"tenant_id,pk"`
	UserID   int64  `bun:"user_id,pk"`
	OfficeID int64  `bun:"office_id,pk"`
	Section  string `bun:"section,pk"`
	Level    string `bun:"level,notnull"` // NONE, READ_ONLY, READ_WRITE
}

// OfficeFeature enables a product feature for an office.
type OfficeFeature struct {
	bun.BaseModel `bun:"table:office_features,alias:of"`

	TenantID string `bun:"tenant_id,pk"`
	OfficeID int64  `bun:"office_id,pk"`
	Feature  string `bun:"feature,pk"`
}

// ExternalAccessGrant enables an integration channel for a user.
type ExternalAccessGrant struct {
	bun.BaseModel `bun:"table:external_access_grants,alias:eag"`

	TenantID string `bun:"tenant_id,pk"`
	UserID   int64  `bun:"user_id,pk"`
	Access   string `bun:"access,pk"` // REST, FHIR, HL7
}

// Legacy session subject kinds.
const (
	SessionSubjectProvider = "provider"
	SessionSubjectPatient  = "patient"
)

// LegacySession is an opaque session token issued by the in-house token store.
// Only the SHA256 hash of the token is stored.
type LegacySession struct {
	bun.BaseModel `bun:"table:legacy_sessions,alias:ls"`

	ID               string     `bun:"id,pk"`
	TokenHash        string     `bun:"token_hash,notnull,unique"`
	TenantID         string     `bun:"tenant_id,notnull"`
	SubjectKind      string     `bun:"subject_kind,notnull"`
	SubjectID        int64      `bun:"subject_id,notnull"`
	Username         string     `bun:"username"`
	ClientID         string     `bun:"client_id,notnull"`
	Scopes           string     `bun:"scopes,notnull,default:''"` // space-delimited
	OfficeID         *int64     `bun:"office_id"`
	OriginalOfficeID *int64     `bun:"original_office_id"`
	CreatedAt        time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	ExpiresAt        time.Time  `bun:"expires_at,notnull"`
	Revoked          bool       `bun:"revoked,notnull,default:false"`
	RevokedAt        *time.Time `bun:"revoked_at"`
}

// Audit outcomes.
const (
	AuditApproved = "approved"
	AuditDenied   = "denied"
)

// AuditEvent records one authentication decision.
type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_events,alias:ae"`

	ID         int64     `bun:"id,pk,autoincrement"`
	OccurredAt time.Time `bun:"occurred_at,notnull,default:current_timestamp"`
	TenantID   string    `bun:"tenant_id"`
	Username   string    `bun:"username"`
	ClientID   string    `bun:"client_id"`
	Method     string    `bun:"method,notnull"` // web_form, password_grant, assertion
	Outcome    string    `bun:"outcome,notnull"`
	Reason     string    `bun:"reason"`
	Principal  string    `bun:"principal"`
}
