package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/uptrace/bun"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/db/models"
)

// BunPermissionRepository implements PermissionStore using Bun ORM.
//
// Office-scoped data is limited to the subject's selected office when one is
// set, otherwise to every office the user belongs to. Rows carrying names
// outside the fixed enumerations are skipped.
type BunPermissionRepository struct {
	db *bun.DB
}

// NewBunPermissionRepository creates a new Bun-based permission store
func NewBunPermissionRepository(db *bun.DB) *BunPermissionRepository {
	return &BunPermissionRepository{db: db}
}

// PermissionsFor loads the permission snapshot for a staff subject. Legacy
// providers are identified by numeric user id, external providers by the
// subject id linked to a staff user. Patients, service accounts and unlinked
// subjects have no staff permissions.
func (r *BunPermissionRepository) PermissionsFor(ctx context.Context, subject PermissionSubject) (*auth.PermissionSnapshot, error) {
	snapshot := &auth.PermissionSnapshot{
		RoleSections: map[int64]map[auth.RoleSection]auth.SectionLevel{},
		Features:     map[int64][]auth.Feature{},
	}
	if subject.Kind != auth.IdentityLegacyProvider && subject.Kind != auth.IdentityExternalProvider {
		return snapshot, nil
	}
	userID, ok, err := r.staffUserID(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !ok {
		return snapshot, nil
	}

	offices, err := r.offices(ctx, subject, userID)
	if err != nil {
		return nil, err
	}
	if err := r.loadProviderGrants(ctx, subject.TenantID, userID, offices, snapshot); err != nil {
		return nil, err
	}
	if err := r.loadRoleSections(ctx, subject.TenantID, userID, offices, snapshot); err != nil {
		return nil, err
	}
	if err := r.loadFeatures(ctx, subject.TenantID, offices, snapshot); err != nil {
		return nil, err
	}
	if err := r.loadExternalAccess(ctx, subject.TenantID, userID, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (r *BunPermissionRepository) staffUserID(ctx context.Context, subject PermissionSubject) (int64, bool, error) {
	if subject.Kind == auth.IdentityLegacyProvider {
		id, err := strconv.ParseInt(subject.UserIdentity, 10, 64)
		return id, err == nil, nil
	}

	var id int64
	err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Column("id").
		Where("tenant_id = ?", subject.TenantID).
		Where("external_subject_id = ?", subject.UserIdentity).
		Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve external subject: %w", err)
	}
	return id, true, nil
}

func (r *BunPermissionRepository) offices(ctx context.Context, subject PermissionSubject, userID int64) ([]int64, error) {
	if subject.OfficeID != nil {
		return []int64{*subject.OfficeID}, nil
	}
	var offices []int64
	err := r.db.NewSelect().
		Model((*models.UserOffice)(nil)).
		Column("office_id").
		Where("tenant_id = ?", subject.TenantID).
		Where("user_id = ?", userID).
		Scan(ctx, &offices)
	if err != nil {
		return nil, fmt.Errorf("list user offices: %w", err)
	}
	return offices, nil
}

func (r *BunPermissionRepository) loadProviderGrants(ctx context.Context, tenant string, userID int64, offices []int64, snapshot *auth.PermissionSnapshot) error {
	var rows []models.ProviderGrant
	err := r.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenant).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list provider grants: %w", err)
	}

	allowed := officeSet(offices)
	for _, row := range rows {
		t, ok := auth.ParseProviderAccessType(row.AccessType)
		if !ok {
			continue
		}
		level, ok := auth.ParseAccessLevel(row.AccessLevel)
		if !ok {
			continue
		}
		grant := auth.ProviderGrant{ProviderID: row.ProviderID, Type: t, Level: level}
		if row.OfficeID == nil {
			snapshot.OpenProviderGrants = append(snapshot.OpenProviderGrants, grant)
			continue
		}
		if _, ok := allowed[*row.OfficeID]; !ok {
			continue
		}
		grant.OfficeID = *row.OfficeID
		snapshot.ProviderGrants = append(snapshot.ProviderGrants, grant)
	}
	return nil
}

func (r *BunPermissionRepository) loadRoleSections(ctx context.Context, tenant string, userID int64, offices []int64, snapshot *auth.PermissionSnapshot) error {
	if len(offices) == 0 {
		return nil
	}
	var rows []models.RoleSectionGrant
	err := r.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenant).
		Where("user_id = ?", userID).
		Where("office_id IN (?)", bun.In(offices)).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list role section grants: %w", err)
	}

	for _, row := range rows {
		section, ok := auth.ParseRoleSection(row.Section)
		if !ok {
			continue
		}
		level, ok := auth.ParseSectionLevel(row.Level)
		if !ok {
			continue
		}
		if snapshot.RoleSections[row.OfficeID] == nil {
			snapshot.RoleSections[row.OfficeID] = map[auth.RoleSection]auth.SectionLevel{}
		}
		snapshot.RoleSections[row.OfficeID][section] = level
	}
	return nil
}

func (r *BunPermissionRepository) loadFeatures(ctx context.Context, tenant string, offices []int64, snapshot *auth.PermissionSnapshot) error {
	if len(offices) == 0 {
		return nil
	}
	var rows []models.OfficeFeature
	err := r.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenant).
		Where("office_id IN (?)", bun.In(offices)).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list office features: %w", err)
	}

	for _, row := range rows {
		if f, ok := auth.ParseFeature(row.Feature); ok {
			snapshot.Features[row.OfficeID] = append(snapshot.Features[row.OfficeID], f)
		}
	}
	return nil
}

func (r *BunPermissionRepository) loadExternalAccess(ctx context.Context, tenant string, userID int64, snapshot *auth.PermissionSnapshot) error {
	var rows []models.ExternalAccessGrant
	err := r.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenant).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("list external access grants: %w", err)
	}

	for _, row := range rows {
		if e, ok := auth.ParseExternalAccess(row.Access); ok {
			snapshot.ExternalAccess = append(snapshot.ExternalAccess, e)
		}
	}
	return nil
}

func officeSet(offices []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(offices))
	for _, o := range offices {
		set[o] = struct{}{}
	}
	return set
}
