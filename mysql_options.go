package pgtern

import (
	"database/sql"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/database/sqlgateway"
	"github.com/denismitr/pgtern/internal/database/sqlgateway/mysql"
	"github.com/jmoiron/sqlx"
	"time"
)

type MySQLOptionFunc func(*sqlgateway.MySQLOptions, *sqlgateway.ConnectOptions)

// UseMySQL - the DSN needs multiStatements=true for multi statement scripts
// and parseTime=true for the ledger timestamps. MySQL commits DDL implicitly,
// so a failed step may leave part of its schema change behind.
func UseMySQL(db *sql.DB, options ...MySQLOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		mysqlOpts := &sqlgateway.MySQLOptions{
			LockKey:         mysql.DefaultLockKey,
			Charset:         mysql.DefaultCharset,
			MigrationsTable: database.DefaultMigrationsTable,
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(mysqlOpts, connectOpts)
		}

		gateway, err := sqlgateway.NewMySQLGateway(mysqlOpts)
		if err != nil {
			return err
		}

		connector := sqlgateway.MakeRetryingConnector(sqlx.NewDb(db, "mysql"), connectOpts)

		m.gateway = gateway
		m.connector = connector
		m.closerFns = append(m.closerFns, connector.Close)

		return nil
	}
}

func WithMySQLNoLock() MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		mysqlOpts.NoLock = true
	}
}

func WithMySQLLockKey(key string) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		mysqlOpts.LockKey = key
	}
}

func WithMySQLMigrationTable(migrationTable string) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		mysqlOpts.MigrationsTable = migrationTable
	}
}

func WithMySQLCharset(charset string) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		mysqlOpts.Charset = charset
	}
}

func WithMySQLConnectionTimeout(timeout time.Duration) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithMySQLMaxConnectionAttempts(attempts int) MySQLOptionFunc {
	return func(mysqlOpts *sqlgateway.MySQLOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}
