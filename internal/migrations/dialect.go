package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// IsSQLite reports whether db talks to SQLite. The tenant schema only needs
// the inline foreign key workaround there.
func IsSQLite(db *bun.DB) bool {
	return dialectOf(db) == dialect.SQLite
}

// IsPostgreSQL reports whether db talks to PostgreSQL.
func IsPostgreSQL(db *bun.DB) bool {
	return dialectOf(db) == dialect.PG
}

func dialectOf(db *bun.DB) dialect.Name {
	return db.Dialect().Name()
}
