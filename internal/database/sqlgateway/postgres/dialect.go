package postgres

import (
	"fmt"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/migration"
)

const (
	PostgresDialect  = "postgres"
	CockroachDialect = "cockroach"
)

// Dialect - ledger statements for Postgres and wire compatible engines
type Dialect struct {
	name, schema, migrationsTable string
}

var _ database.Dialect = (*Dialect)(nil)

func NewDialect(schema, migrationsTable string) *Dialect {
	return &Dialect{name: PostgresDialect, schema: schema, migrationsTable: migrationsTable}
}

func NewCockroachDialect(schema, migrationsTable string) *Dialect {
	return &Dialect{name: CockroachDialect, schema: schema, migrationsTable: migrationsTable}
}

func (d Dialect) Name() string {
	return d.name
}

// Table returns the schema qualified ledger table name
func (d Dialect) Table() string {
	if d.schema == "" {
		return d.migrationsTable
	}

	return d.schema + "." + d.migrationsTable
}

// InitQuery stamps applied_at with clock_timestamp() because now() is frozen at
// transaction start. The insert is the last statement before commit.
func (d Dialect) InitQuery() string {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		)
	`

	q := fmt.Sprintf(createSQL, d.Table())
	if d.schema != "" {
		q = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", d.schema) + q
	}

	return q
}

func (d Dialect) TableExistsQuery() (string, []interface{}) {
	const existsSQL = `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
	`

	return existsSQL, []interface{}{d.schema, d.migrationsTable}
}

func (d Dialect) ReadVersionsQuery() string {
	return fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version ASC", d.Table())
}

func (d Dialect) CountVersionQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE version = $1", d.Table()), []interface{}{int64(v)}
}

func (d Dialect) InsertQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("INSERT INTO %s (version) VALUES ($1)", d.Table()), []interface{}{int64(v)}
}

func (d Dialect) RemoveQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("DELETE FROM %s WHERE version = $1", d.Table()), []interface{}{int64(v)}
}
