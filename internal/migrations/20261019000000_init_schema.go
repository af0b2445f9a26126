package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/clinigate/authgw/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261019000000, down_20261019000000)
}

// schemaTables is ordered parents first; down drops in reverse.
var schemaTables = []struct {
	name  string
	model any
}{
	{"users", (*models.User)(nil)},
	{"user_offices", (*models.UserOffice)(nil)},
	{"patients", (*models.Patient)(nil)},
	{"provider_grants", (*models.ProviderGrant)(nil)},
	{"role_section_grants", (*models.RoleSectionGrant)(nil)},
	{"office_features", (*models.OfficeFeature)(nil)},
	{"external_access_grants", (*models.ExternalAccessGrant)(nil)},
	{"legacy_sessions", (*models.LegacySession)(nil)},
	{"audit_events", (*models.AuditEvent)(nil)},
}

var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_username ON users(tenant_id, username)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_external_subject ON users(tenant_id, external_subject_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_patients_tenant_external_id ON patients(tenant_id, external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_provider_grants_user ON provider_grants(tenant_id, user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_legacy_sessions_expires_at ON legacy_sessions(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_tenant ON audit_events(tenant_id, occurred_at)`,
}

// up_20261019000000 creates the identity, permission, session and audit tables
func up_20261019000000(ctx context.Context, db *bun.DB) error {
	for _, table := range schemaTables {
		fmt.Printf(" [up] creating %s table...", table.name)
		q := db.NewCreateTable().
			Model(table.model).
			IfNotExists()
		if table.name == "user_offices" && IsSQLite(db) {
			q = q.ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
		fmt.Println(" OK")
	}

	if IsPostgreSQL(db) {
		_, err := db.ExecContext(ctx, `
			ALTER TABLE user_offices
			ADD CONSTRAINT fk_user_offices_user
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		`)
		if err != nil {
			return fmt.Errorf("failed to add user_offices FK: %w", err)
		}
	}

	fmt.Print(" [up] creating indexes...")
	for _, stmt := range schemaIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	fmt.Println(" OK")
	return nil
}

// down_20261019000000 drops all tables
func down_20261019000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping all tables...")

	for i := len(schemaTables) - 1; i >= 0; i-- {
		q := db.NewDropTable().
			Model(schemaTables[i].model).
			IfExists()
		if IsPostgreSQL(db) {
			q = q.Cascade()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop %s: %w", schemaTables[i].name, err)
		}
	}

	fmt.Println(" OK")
	return nil
}
