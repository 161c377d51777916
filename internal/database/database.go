package database

import (
	"context"
	"database/sql"
	"github.com/denismitr/pgtern/migration"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"regexp"
	"strings"
)

var ErrInvalidIdentifier = errors.New("invalid sql identifier")

const (
	DefaultMigrationsTable = "schema_migrations"

	// Unbounded - plan every candidate step, any negative count means the same
	Unbounded = -1
)

var identifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type (
	// Executor - anything a statement can run against: a connection, a pool or a transaction
	Executor interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
		QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	}

	// Conn - a single database session able to start transactions,
	// session level locks live as long as it does
	Conn interface {
		Executor
		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	// Dialect - ledger table statements for one database engine
	Dialect interface {
		Name() string
		InitQuery() string
		TableExistsQuery() (string, []interface{})
		ReadVersionsQuery() string
		CountVersionQuery(v migration.Version) (string, []interface{})
		InsertQuery(v migration.Version) (string, []interface{})
		RemoveQuery(v migration.Version) (string, []interface{})
	}

	// Locker - cross process mutual exclusion held for a whole apply call
	Locker interface {
		Lock(ctx context.Context, ex Executor) error
		Unlock(ctx context.Context, ex Executor) error
	}

	Plan struct {
		Direction migration.Direction
		Steps     int
	}
)

var _ Conn = (*sqlx.Conn)(nil)
var _ Executor = (*sqlx.Tx)(nil)
var _ Executor = (*sqlx.DB)(nil)

// ValidateIdentifier guards table names that end up formatted into statements
func ValidateIdentifier(name string) error {
	for _, part := range strings.Split(name, ".") {
		if !identifierRegexp.MatchString(part) {
			return errors.Wrapf(ErrInvalidIdentifier, "[%s]", name)
		}
	}

	return nil
}

// Schedule computes the ordered steps of a plan. It never touches the database.
func Schedule(catalog migration.Migrations, applied migration.VersionSet, p Plan) migration.Migrations {
	if p.Direction == migration.Down {
		return ScheduleForRollback(catalog, applied, p.Steps)
	}

	return ScheduleForMigration(catalog, applied, p.Steps)
}

// ScheduleForMigration - versions not yet applied, oldest first
func ScheduleForMigration(
	catalog migration.Migrations,
	applied migration.VersionSet,
	steps int,
) migration.Migrations {
	scheduled := migration.Migrations{}
	sorted := catalog.Sorted()

	for i := range sorted {
		if steps >= 0 && len(scheduled) >= steps {
			break
		}

		if !applied.Has(sorted[i].Version) {
			scheduled = append(scheduled, sorted[i])
		}
	}

	return scheduled
}

// ScheduleForRollback - applied versions, most recent first
func ScheduleForRollback(
	catalog migration.Migrations,
	applied migration.VersionSet,
	steps int,
) migration.Migrations {
	scheduled := migration.Migrations{}
	sorted := catalog.Sorted()

	for i := len(sorted) - 1; i >= 0; i-- {
		if steps >= 0 && len(scheduled) >= steps {
			break
		}

		if applied.Has(sorted[i].Version) {
			scheduled = append(scheduled, sorted[i])
		}
	}

	return scheduled
}

// Reconcile fails when the ledger references versions the catalog does not have,
// which happens when a migration file is deleted after being applied
func Reconcile(catalog migration.Migrations, applied migration.VersionSet) error {
	known := catalog.VersionSet()

	var unknown []string
	for _, v := range applied.Sorted() {
		if !known.Has(v) {
			unknown = append(unknown, v.String())
		}
	}

	if len(unknown) > 0 {
		return errors.Wrapf(migration.ErrUnknownVersion, "versions [%s]", strings.Join(unknown, ", "))
	}

	return nil
}
