package mysql

import (
	"fmt"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/migration"
)

const (
	MySQLDialect   = "mysql"
	DefaultCharset = "utf8mb4"
)

type Dialect struct {
	migrationsTable, charset string
}

var _ database.Dialect = (*Dialect)(nil)

func NewDialect(migrationsTable, charset string) *Dialect {
	if charset == "" {
		charset = DefaultCharset
	}

	return &Dialect{migrationsTable: migrationsTable, charset: charset}
}

func (d Dialect) Name() string {
	return MySQLDialect
}

func (d Dialect) InitQuery() string {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=%s
	`

	return fmt.Sprintf(createSQL, d.migrationsTable, d.charset)
}

func (d Dialect) TableExistsQuery() (string, []interface{}) {
	const existsSQL = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	return existsSQL, []interface{}{d.migrationsTable}
}

func (d Dialect) ReadVersionsQuery() string {
	return fmt.Sprintf("SELECT `version`, `applied_at` FROM %s ORDER BY `version` ASC", d.migrationsTable)
}

func (d Dialect) CountVersionQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE `version` = ?", d.migrationsTable), []interface{}{int64(v)}
}

func (d Dialect) InsertQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("INSERT INTO %s (`version`) VALUES (?)", d.migrationsTable), []interface{}{int64(v)}
}

func (d Dialect) RemoveQuery(v migration.Version) (string, []interface{}) {
	return fmt.Sprintf("DELETE FROM %s WHERE `version` = ?", d.migrationsTable), []interface{}{int64(v)}
}
