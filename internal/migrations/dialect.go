package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// canAddConstraints reports whether ALTER TABLE ... ADD CONSTRAINT works on db.
// SQLite only accepts CHECK constraints inside CREATE TABLE.
func canAddConstraints(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}
