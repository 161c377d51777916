package sqlgateway

import (
	"context"
	"fmt"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/database/sqlgateway/mysql"
	"github.com/denismitr/pgtern/internal/database/sqlgateway/postgres"
	"github.com/denismitr/pgtern/migration"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
)

func openSqlite(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "pgtern.db") + "?_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func connect(t *testing.T, db *sqlx.DB) *sqlx.Conn {
	t.Helper()

	conn, err := db.Connx(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func sqliteGateway(t *testing.T) *SQLGateway {
	t.Helper()

	g, err := NewSqliteGateway(&SqliteOptions{})
	require.NoError(t, err)

	return g
}

func createTableCatalog(tables ...string) migration.Migrations {
	var result migration.Migrations
	for i, table := range tables {
		result = append(result, migration.New(
			migration.Version(1000+i),
			fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY, name TEXT);", table),
			fmt.Sprintf("DROP TABLE %s;", table),
		))
	}

	return result
}

func tableExists(t *testing.T, conn *sqlx.Conn, table string) bool {
	t.Helper()

	var count int
	err := conn.QueryRowxContext(
		context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		table,
	).Scan(&count)
	require.NoError(t, err)

	return count > 0
}

func TestNewGateways(t *testing.T) {
	t.Run("sqlite defaults", func(t *testing.T) {
		g, err := NewSqliteGateway(&SqliteOptions{})
		require.NoError(t, err)

		assert.Equal(t, "sqlite", g.Dialect())
		locker, ok := g.locker.(*database.TableLocker)
		require.True(t, ok)
		assert.Equal(t, "schema_migrations_lock", locker.Table())
	})

	t.Run("sqlite without lock", func(t *testing.T) {
		g, err := NewSqliteGateway(&SqliteOptions{MigrationsTable: "versions", NoLock: true})
		require.NoError(t, err)

		_, ok := g.locker.(database.NullLocker)
		assert.True(t, ok)
	})

	t.Run("invalid table name is rejected", func(t *testing.T) {
		_, err := NewSqliteGateway(&SqliteOptions{MigrationsTable: "versions; DROP TABLE users"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, database.ErrInvalidIdentifier))

		_, err = NewPostgresGateway(&PostgresOptions{Schema: "bad schema"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, database.ErrInvalidIdentifier))
	})

	t.Run("postgres derives advisory lock key from the table", func(t *testing.T) {
		g, err := NewPostgresGateway(&PostgresOptions{Schema: "app"})
		require.NoError(t, err)

		locker, ok := g.locker.(*postgres.Locker)
		require.True(t, ok)
		assert.Equal(t, postgres.LockKeyFor("app.schema_migrations"), locker.Key())
		assert.Equal(t, "postgres", g.Dialect())
	})

	t.Run("postgres custom lock key", func(t *testing.T) {
		g, err := NewPostgresGateway(&PostgresOptions{LockKey: 42})
		require.NoError(t, err)

		locker, ok := g.locker.(*postgres.Locker)
		require.True(t, ok)
		assert.Equal(t, int64(42), locker.Key())
	})

	t.Run("cockroach locks a row of the lock table", func(t *testing.T) {
		g, err := NewCockroachGateway(nil, &CockroachOptions{MigrationsTable: "versions"})
		require.NoError(t, err)

		locker, ok := g.locker.(*postgres.RowLocker)
		require.True(t, ok)
		assert.Equal(t, "versions_lock", locker.Table())
		assert.Equal(t, "cockroach", g.Dialect())
	})

	t.Run("mysql uses a named lock", func(t *testing.T) {
		g, err := NewMySQLGateway(&MySQLOptions{})
		require.NoError(t, err)

		_, ok := g.locker.(*mysql.Locker)
		assert.True(t, ok)
		assert.Equal(t, "mysql", g.Dialect())
	})
}

func TestSQLGateway_Run(t *testing.T) {
	catalog := createTableCatalog("foo", "bar", "baz")

	t.Run("applies first N versions", func(t *testing.T) {
		for _, n := range []int{0, 1, 2, 3, 5, database.Unbounded} {
			t.Run(fmt.Sprintf("steps %d", n), func(t *testing.T) {
				ctx := context.Background()
				conn := connect(t, openSqlite(t))
				g := sqliteGateway(t)

				report, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: n})
				require.NoError(t, err)

				expected := len(catalog)
				if n >= 0 && n < expected {
					expected = n
				}

				assert.Len(t, report.Committed(), expected)

				applied, err := g.AppliedSet(ctx, conn)
				require.NoError(t, err)
				assert.Equal(t, catalog.Versions()[:expected], applied.Sorted())
			})
		}
	})

	t.Run("second run has nothing to do", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		_, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: database.Unbounded})
		require.NoError(t, err)

		report, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: database.Unbounded})
		require.NoError(t, err)
		assert.True(t, report.Empty())
	})

	t.Run("rollback is most recent first", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		_, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: database.Unbounded})
		require.NoError(t, err)

		report, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Down, Steps: 2})
		require.NoError(t, err)
		assert.Equal(t, []migration.Version{1002, 1001}, report.Committed().Versions())

		assert.True(t, tableExists(t, conn, "foo"))
		assert.False(t, tableExists(t, conn, "bar"))
		assert.False(t, tableExists(t, conn, "baz"))

		applied, err := g.AppliedSet(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, []migration.Version{1000}, applied.Sorted())
	})

	t.Run("unknown ledger version is fatal", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		require.NoError(t, g.Ledger().Init(ctx, conn))
		require.NoError(t, g.Ledger().RecordApplied(ctx, conn, 999))

		report, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: database.Unbounded})
		require.Error(t, err)
		assert.True(t, errors.Is(err, migration.ErrUnknownVersion))
		assert.Contains(t, err.Error(), "999")
		assert.True(t, report.Empty())
		assert.False(t, tableExists(t, conn, "foo"))
	})
}

func TestSQLGateway_Apply(t *testing.T) {
	t.Run("round trip restores applied set", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)
		catalog := createTableCatalog("foo", "bar")

		_, err := g.Apply(ctx, conn, catalog[:1], migration.Up)
		require.NoError(t, err)

		before, err := g.AppliedSet(ctx, conn)
		require.NoError(t, err)

		_, err = g.Apply(ctx, conn, catalog[1:], migration.Up)
		require.NoError(t, err)
		assert.True(t, tableExists(t, conn, "bar"))

		_, err = g.Apply(ctx, conn, catalog[1:], migration.Down)
		require.NoError(t, err)
		assert.False(t, tableExists(t, conn, "bar"))

		after, err := g.AppliedSet(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("partial failure keeps committed steps", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		plan := migration.Migrations{
			migration.New(1, "CREATE TABLE foo (id INTEGER PRIMARY KEY);", "DROP TABLE foo;"),
			migration.New(2, "CREATE TABLE bar (id INTEGER PRIMARY KEY;", "DROP TABLE bar;"),
			migration.New(3, "CREATE TABLE baz (id INTEGER PRIMARY KEY);", "DROP TABLE baz;"),
		}

		report, err := g.Apply(ctx, conn, plan, migration.Up)
		require.Error(t, err)

		var stepErr *migration.StepError
		require.True(t, errors.As(err, &stepErr))
		assert.Equal(t, migration.Version(2), stepErr.Version)
		assert.Equal(t, migration.Up, stepErr.Direction)

		failed, ok := report.Failure()
		require.True(t, ok)
		assert.Equal(t, migration.Version(2), failed.Migration.Version)
		assert.Equal(t, []migration.Version{1}, report.Committed().Versions())
		assert.Equal(t, []migration.Version{3}, report.NotAttempted().Versions())

		applied, err := g.AppliedSet(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, []migration.Version{1}, applied.Sorted())

		assert.True(t, tableExists(t, conn, "foo"))
		assert.False(t, tableExists(t, conn, "baz"))
	})

	t.Run("ledger mutation failure rolls back the script", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		plan := migration.Migrations{
			migration.New(7, "", "CREATE TABLE qux (id INTEGER PRIMARY KEY);"),
		}

		report, err := g.Apply(ctx, conn, plan, migration.Down)
		require.Error(t, err)
		assert.True(t, errors.Is(err, migration.ErrVersionNotApplied))

		_, ok := report.Failure()
		assert.True(t, ok)
		assert.False(t, tableExists(t, conn, "qux"))
	})

	t.Run("blank scripts still change the ledger", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		plan := migration.Migrations{migration.New(5, "  \n", "")}

		_, err := g.Apply(ctx, conn, plan, migration.Up)
		require.NoError(t, err)

		applied, err := g.AppliedSet(ctx, conn)
		require.NoError(t, err)
		assert.True(t, applied.Has(5))

		_, err = g.Apply(ctx, conn, plan, migration.Down)
		require.NoError(t, err)

		applied, err = g.AppliedSet(ctx, conn)
		require.NoError(t, err)
		assert.Len(t, applied, 0)
	})

	t.Run("empty plan does nothing", func(t *testing.T) {
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		report, err := g.Apply(context.Background(), conn, nil, migration.Up)
		require.NoError(t, err)
		assert.True(t, report.Empty())
		assert.False(t, tableExists(t, conn, "schema_migrations"))
	})

	t.Run("invalid direction", func(t *testing.T) {
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		_, err := g.Apply(context.Background(), conn, createTableCatalog("foo"), migration.Direction("sideways"))
		assert.Error(t, err)
	})

	t.Run("cancelled context attempts nothing", func(t *testing.T) {
		conn := connect(t, openSqlite(t))
		g, err := NewSqliteGateway(&SqliteOptions{NoLock: true})
		require.NoError(t, err)

		require.NoError(t, g.Ledger().Init(context.Background(), conn))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := g.Apply(ctx, conn, createTableCatalog("foo", "bar"), migration.Up)
		require.Error(t, err)
		assert.Len(t, report.NotAttempted(), 2)
	})
}

func TestSQLGateway_Lock(t *testing.T) {
	t.Run("second runner observes lock held and changes nothing", func(t *testing.T) {
		ctx := context.Background()
		db := openSqlite(t)
		first := sqliteGateway(t)
		second := sqliteGateway(t)
		firstConn := connect(t, db)
		secondConn := connect(t, db)

		require.NoError(t, first.locker.Lock(ctx, firstConn))

		report, err := second.Run(ctx, secondConn, createTableCatalog("foo"), database.Plan{
			Direction: migration.Up,
			Steps:     database.Unbounded,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, migration.ErrLockHeld))
		assert.True(t, report.Empty())
		assert.False(t, tableExists(t, secondConn, "foo"))

		applied, err := second.AppliedSet(ctx, secondConn)
		require.NoError(t, err)
		assert.Len(t, applied, 0)

		require.NoError(t, first.locker.Unlock(ctx, firstConn))

		_, err = second.Run(ctx, secondConn, createTableCatalog("foo"), database.Plan{
			Direction: migration.Up,
			Steps:     database.Unbounded,
		})
		require.NoError(t, err)
	})

	t.Run("lock is released after a failed run", func(t *testing.T) {
		ctx := context.Background()
		conn := connect(t, openSqlite(t))
		g := sqliteGateway(t)

		broken := migration.Migrations{migration.New(1, "NOT SQL AT ALL", "")}
		_, err := g.Apply(ctx, conn, broken, migration.Up)
		require.Error(t, err)

		_, err = g.Apply(ctx, conn, createTableCatalog("foo"), migration.Up)
		require.NoError(t, err)
	})

	t.Run("force unlock clears a stale lock", func(t *testing.T) {
		ctx := context.Background()
		db := openSqlite(t)
		crashed := sqliteGateway(t)
		g := sqliteGateway(t)
		crashedConn := connect(t, db)
		conn := connect(t, db)

		require.NoError(t, crashed.locker.Lock(ctx, crashedConn))

		require.NoError(t, g.ForceUnlock(ctx, conn))

		_, err := g.Apply(ctx, conn, createTableCatalog("foo"), migration.Up)
		require.NoError(t, err)
	})

	t.Run("force unlock is a no-op for session locks", func(t *testing.T) {
		g, err := NewPostgresGateway(&PostgresOptions{})
		require.NoError(t, err)

		assert.NoError(t, g.ForceUnlock(context.Background(), nil))
	})
}

func TestSQLGateway_Refresh(t *testing.T) {
	ctx := context.Background()
	conn := connect(t, openSqlite(t))
	g := sqliteGateway(t)
	catalog := createTableCatalog("foo", "bar", "baz")

	_, err := g.Run(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: database.Unbounded})
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, "INSERT INTO baz (name) VALUES ('gone after refresh')")
	require.NoError(t, err)

	rolledBack, migrated, err := g.Refresh(ctx, conn, catalog, 2)
	require.NoError(t, err)

	assert.Equal(t, []migration.Version{1002, 1001}, rolledBack.Committed().Versions())
	assert.Equal(t, []migration.Version{1001, 1002}, migrated.Committed().Versions())

	var count int
	require.NoError(t, conn.QueryRowxContext(ctx, "SELECT COUNT(*) FROM baz").Scan(&count))
	assert.Equal(t, 0, count)

	applied, err := g.AppliedSet(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, catalog.Versions(), applied.Sorted())
}

func TestSQLGateway_Pending(t *testing.T) {
	ctx := context.Background()
	conn := connect(t, openSqlite(t))
	g := sqliteGateway(t)
	catalog := createTableCatalog("foo", "bar", "baz")

	pending, err := g.Pending(ctx, conn, catalog, database.Plan{Direction: migration.Up, Steps: database.Unbounded})
	require.NoError(t, err)
	assert.Equal(t, catalog.Versions(), pending.Versions())
	assert.False(t, tableExists(t, conn, "schema_migrations"))

	_, err = g.Apply(ctx, conn, catalog[:1], migration.Up)
	require.NoError(t, err)

	pending, err = g.Pending(ctx, conn, catalog, database.Plan{Direction: migration.Down, Steps: database.Unbounded})
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1000}, pending.Versions())
}
