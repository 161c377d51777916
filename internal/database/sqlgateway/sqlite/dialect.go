package sqlite

import (
	"fmt"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/migration"
)

const SqliteDialect = "sqlite"

type Dialect struct {
	migrationsTable string
}

func NewDialect(migrationsTable string) *Dialect {
	return &Dialect{migrationsTable: migrationsTable}
}

var _ database.Dialect = (*Dialect)(nil)

func (d Dialect) Name() string {
	return SqliteDialect
}

func (d Dialect) InitQuery() string {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`

	return fmt.Sprintf(createSQL, d.migrationsTable)
}

func (d Dialect) TableExistsQuery() (string, []interface{}) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []interface{}{d.migrationsTable}
}

func (d Dialect) ReadVersionsQuery() string {
	return fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version ASC", d.migrationsTable)
}

func (d Dialect) CountVersionQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE version = ?", d.migrationsTable), []interface{}{int64(v)}
}

func (d Dialect) InsertQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("INSERT INTO %s (version) VALUES (?)", d.migrationsTable), []interface{}{int64(v)}
}

func (d Dialect) RemoveQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("DELETE FROM %s WHERE version = ?", d.migrationsTable), []interface{}{int64(v)}
}
