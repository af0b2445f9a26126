package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinigate/authgw/internal/db/models"
)

// DefaultMaxFailedAttempts locks an account after this many consecutive bad passwords.
const DefaultMaxFailedAttempts = 5

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authgw-dummy-password"), bcrypt.DefaultCost)

// BunUserRepository implements CredentialStore and IdentityStore using Bun ORM
type BunUserRepository struct {
	db                *bun.DB
	maxFailedAttempts int
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db *bun.DB) *BunUserRepository {
	return &BunUserRepository{db: db, maxFailedAttempts: DefaultMaxFailedAttempts}
}

// Create inserts a user together with its office memberships.
func (r *BunUserRepository) Create(ctx context.Context, user *models.User, offices []int64) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		for _, office := range offices {
			membership := &models.UserOffice{TenantID: user.TenantID, UserID: user.ID, OfficeID: office}
			if _, err := tx.NewInsert().Model(membership).Exec(ctx); err != nil {
				return fmt.Errorf("add office %d: %w", office, err)
			}
		}
		return nil
	})
}

// Verify checks a password against the stored bcrypt hash.
func (r *BunUserRepository) Verify(ctx context.Context, tenant, username, password string) (int64, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("tenant_id = ?", tenant).
		Where("username = ?", username).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return 0, &CredentialError{Reason: CredentialInvalid}
		}
		return 0, &CredentialError{Reason: CredentialStoreError, Err: fmt.Errorf("get user: %w", err)}
	}

	if user.IsDisabled() {
		return 0, &CredentialError{Reason: CredentialDisabled}
	}
	if user.IsLocked() {
		return 0, &CredentialError{Reason: CredentialLocked}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if err := r.recordFailure(ctx, user); err != nil {
			return 0, &CredentialError{Reason: CredentialStoreError, Err: err}
		}
		return 0, &CredentialError{Reason: CredentialInvalid}
	}

	if user.FailedAttempts > 0 {
		_, err := r.db.NewUpdate().
			Model((*models.User)(nil)).
			Set("failed_attempts = 0").
			Set("updated_at = ?", time.Now()).
			Where("id = ?", user.ID).
			Exec(ctx)
		if err != nil {
			return 0, &CredentialError{Reason: CredentialStoreError, Err: fmt.Errorf("reset failed attempts: %w", err)}
		}
	}

	return user.ID, nil
}

func (r *BunUserRepository) recordFailure(ctx context.Context, user *models.User) error {
	now := time.Now()
	q := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("failed_attempts = failed_attempts + 1").
		Set("updated_at = ?", now).
		Where("id = ?", user.ID)
	if r.maxFailedAttempts > 0 && user.FailedAttempts+1 >= r.maxFailedAttempts {
		q = q.Set("locked_at = ?", now)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	return nil
}

// OfficesFor lists the offices a user belongs to, ascending.
func (r *BunUserRepository) OfficesFor(ctx context.Context, tenant string, userID int64) ([]int64, error) {
	var offices []int64
	err := r.db.NewSelect().
		Model((*models.UserOffice)(nil)).
		Column("office_id").
		Where("tenant_id = ?", tenant).
		Where("user_id = ?", userID).
		Order("office_id ASC").
		Scan(ctx, &offices)
	if err != nil {
		return nil, fmt.Errorf("list user offices: %w", err)
	}
	return offices, nil
}

// UserByID retrieves a user within a tenant
func (r *BunUserRepository) UserByID(ctx context.Context, tenant string, id int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("tenant_id = ?", tenant).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user by ID: %w", err)
	}
	return user, nil
}

// PatientByExternalID retrieves an active patient by external identity
func (r *BunUserRepository) PatientByExternalID(ctx context.Context, tenant, externalID string) (*models.Patient, error) {
	patient := new(models.Patient)
	err := r.db.NewSelect().
		Model(patient).
		Where("tenant_id = ?", tenant).
		Where("external_id = ?", externalID).
		Where("active = ?", true).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient with external id: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get patient by external ID: %w", err)
	}
	return patient, nil
}

// CreatePatient inserts a patient record
func (r *BunUserRepository) CreatePatient(ctx context.Context, patient *models.Patient) error {
	if _, err := r.db.NewInsert().Model(patient).Exec(ctx); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

// SetPasswordHash updates the stored bcrypt hash and clears any lockout.
func (r *BunUserRepository) SetPasswordHash(ctx context.Context, tenant string, id int64, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("failed_attempts = 0").
		Set("locked_at = NULL").
		Set("updated_at = ?", time.Now()).
		Where("tenant_id = ?", tenant).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}
