package postgres

import (
	"context"
	"github.com/denismitr/pgtern/migration"
	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestDialect(t *testing.T) {
	t.Run("default schema", func(t *testing.T) {
		d := NewDialect("", "schema_migrations")

		assert.Equal(t, PostgresDialect, d.Name())
		assert.Equal(t, "schema_migrations", d.Table())
		assert.NotContains(t, d.InitQuery(), "CREATE SCHEMA")
		assert.Contains(t, d.InitQuery(), "CREATE TABLE IF NOT EXISTS schema_migrations")
		assert.Contains(t, d.InitQuery(), "DEFAULT clock_timestamp()")
		assert.NotContains(t, d.InitQuery(), "now()")

		q, args := d.InsertQuery(1656244800000)
		assert.Equal(t, "INSERT INTO schema_migrations (version) VALUES ($1)", q)
		assert.Equal(t, []interface{}{int64(1656244800000)}, args)

		_, args = d.TableExistsQuery()
		assert.Equal(t, []interface{}{"", "schema_migrations"}, args)
	})

	t.Run("custom schema", func(t *testing.T) {
		d := NewCockroachDialect("app", "versions")

		assert.Equal(t, CockroachDialect, d.Name())
		assert.Equal(t, "app.versions", d.Table())
		assert.Contains(t, d.InitQuery(), "CREATE SCHEMA IF NOT EXISTS app;")

		q, args := d.RemoveQuery(migration.Version(7))
		assert.Equal(t, "DELETE FROM app.versions WHERE version = $1", q)
		assert.Equal(t, []interface{}{int64(7)}, args)

		assert.Equal(t, "SELECT version, applied_at FROM app.versions ORDER BY version ASC", d.ReadVersionsQuery())
	})
}

func TestLocker(t *testing.T) {
	t.Run("lock key is stable per table", func(t *testing.T) {
		assert.Equal(t, LockKeyFor("schema_migrations"), LockKeyFor("schema_migrations"))
		assert.NotEqual(t, LockKeyFor("schema_migrations"), LockKeyFor("app.schema_migrations"))
	})

	t.Run("key", func(t *testing.T) {
		require.Equal(t, int64(11), NewLocker(11).Key())
	})
}

func TestRowLocker(t *testing.T) {
	t.Run("unlock without lock is a no-op", func(t *testing.T) {
		l := NewRowLocker(nil, "schema_migrations_lock")
		assert.Equal(t, "schema_migrations_lock", l.Table())
		assert.NoError(t, l.Unlock(context.Background(), nil))
	})

	t.Run("lock not available is recognized", func(t *testing.T) {
		busy := errors.Wrap(&pgconn.PgError{Code: "55P03", Message: "could not obtain lock on row"}, "select")
		assert.True(t, isLockNotAvailable(busy))
		assert.False(t, isLockNotAvailable(&pgconn.PgError{Code: "42P01"}))
		assert.False(t, isLockNotAvailable(errors.New("connection reset")))
	})
}
