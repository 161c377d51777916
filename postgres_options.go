package pgtern

import (
	"database/sql"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/database/sqlgateway"
	"github.com/jmoiron/sqlx"
	"time"
)

type (
	PostgresOptionFunc  func(*sqlgateway.PostgresOptions, *sqlgateway.ConnectOptions)
	CockroachOptionFunc func(*sqlgateway.CockroachOptions, *sqlgateway.ConnectOptions)
)

// UsePostgres - db is expected to be opened with the pgx driver
func UsePostgres(db *sql.DB, options ...PostgresOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		pgOpts := &sqlgateway.PostgresOptions{
			MigrationsTable: database.DefaultMigrationsTable,
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(pgOpts, connectOpts)
		}

		gateway, err := sqlgateway.NewPostgresGateway(pgOpts)
		if err != nil {
			return err
		}

		connector := sqlgateway.MakeRetryingConnector(sqlx.NewDb(db, "pgx"), connectOpts)

		m.gateway = gateway
		m.connector = connector
		m.closerFns = append(m.closerFns, connector.Close)

		return nil
	}
}

// UseCockroach - CockroachDB over the Postgres wire protocol
func UseCockroach(db *sql.DB, options ...CockroachOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		crdbOpts := &sqlgateway.CockroachOptions{
			MigrationsTable: database.DefaultMigrationsTable,
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(crdbOpts, connectOpts)
		}

		sqlxDB := sqlx.NewDb(db, "pgx")

		gateway, err := sqlgateway.NewCockroachGateway(sqlxDB, crdbOpts)
		if err != nil {
			return err
		}

		connector := sqlgateway.MakeRetryingConnector(sqlxDB, connectOpts)

		m.gateway = gateway
		m.connector = connector
		m.closerFns = append(m.closerFns, connector.Close)

		return nil
	}
}

func WithPostgresMigrationTable(migrationTable string) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.MigrationsTable = migrationTable
	}
}

func WithPostgresSchema(schema string) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.Schema = schema
	}
}

func WithPostgresLockKey(key int64) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.LockKey = key
	}
}

func WithPostgresNoLock() PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.NoLock = true
	}
}

func WithPostgresConnectionTimeout(timeout time.Duration) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithPostgresMaxConnectionAttempts(attempts int) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}

func WithCockroachMigrationTable(migrationTable string) CockroachOptionFunc {
	return func(crdbOpts *sqlgateway.CockroachOptions, connectOpts *sqlgateway.ConnectOptions) {
		crdbOpts.MigrationsTable = migrationTable
	}
}

func WithCockroachSchema(schema string) CockroachOptionFunc {
	return func(crdbOpts *sqlgateway.CockroachOptions, connectOpts *sqlgateway.ConnectOptions) {
		crdbOpts.Schema = schema
	}
}

func WithCockroachNoLock() CockroachOptionFunc {
	return func(crdbOpts *sqlgateway.CockroachOptions, connectOpts *sqlgateway.ConnectOptions) {
		crdbOpts.NoLock = true
	}
}

func WithCockroachConnectionTimeout(timeout time.Duration) CockroachOptionFunc {
	return func(crdbOpts *sqlgateway.CockroachOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithCockroachMaxConnectionAttempts(attempts int) CockroachOptionFunc {
	return func(crdbOpts *sqlgateway.CockroachOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}
