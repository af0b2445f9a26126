package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/db/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// CredentialReason categorizes a failed credential verification.
type CredentialReason int

const (
	// CredentialInvalid covers unknown usernames and wrong passwords alike.
	CredentialInvalid CredentialReason = iota
	CredentialLocked
	CredentialDisabled
	// CredentialStoreError means the store itself failed.
	CredentialStoreError
)

func (r CredentialReason) String() string {
	switch r {
	case CredentialInvalid:
		return "invalid"
	case CredentialLocked:
		return "locked"
	case CredentialDisabled:
		return "disabled"
	default:
		return "store_error"
	}
}

// CredentialError is returned by CredentialStore.Verify when verification fails.
type CredentialError struct {
	Reason CredentialReason
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential verification failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("credential verification failed (%s)", e.Reason)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// CredentialStore verifies tenant-scoped username/password credentials.
type CredentialStore interface {
	// Verify returns the numeric user id or a *CredentialError.
	Verify(ctx context.Context, tenant, username, password string) (int64, error)
	// OfficesFor lists the offices the user belongs to.
	OfficesFor(ctx context.Context, tenant string, userID int64) ([]int64, error)
}

// IdentityStore resolves identity records. Misses return ErrNotFound.
type IdentityStore interface {
	UserByID(ctx context.Context, tenant string, id int64) (*models.User, error)
	PatientByExternalID(ctx context.Context, tenant, externalID string) (*models.Patient, error)
}

// PermissionSubject identifies whose permissions to load.
type PermissionSubject struct {
	Kind         auth.IdentityKind
	TenantID     string
	UserIdentity string
	OfficeID     *int64
}

// PermissionStore loads the raw permission snapshot for a subject.
type PermissionStore interface {
	PermissionsFor(ctx context.Context, subject PermissionSubject) (*auth.PermissionSnapshot, error)
}

// LegacyTokenStore looks up opaque session tokens by their SHA256 hash.
type LegacyTokenStore interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.LegacySession, error)
}

// AuditSink records authentication decisions.
type AuditSink interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}
