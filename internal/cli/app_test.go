package cli

import (
	"bytes"
	"context"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func sqliteApp(t *testing.T) (*App, string, *bytes.Buffer) {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "orders")
	require.NoError(t, os.Mkdir(dir, 0o755))

	cfg := &Config{
		Driver: DriverSqlite,
		App:    "orders",
		DBName: filepath.Join(t.TempDir(), "orders.db"),
		Log:    LogPlain,
		SQL:    true,
	}

	var buf bytes.Buffer
	app, closer, err := NewApp(cfg, root, log.New(&buf, "", 0))
	require.NoError(t, err)

	t.Cleanup(func() { _ = closer() })

	return app, dir, &buf
}

func writePair(t *testing.T, dir string, v migration.Version, up, down string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, migration.Filename(v, migration.Up)), []byte(up), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, migration.Filename(v, migration.Down)), []byte(down), 0o644))
}

func TestNewApp(t *testing.T) {
	t.Run("app folder must exist", func(t *testing.T) {
		cfg := &Config{Driver: DriverSqlite, App: "missing", DBName: filepath.Join(t.TempDir(), "x.db"), Log: LogPlain}

		_, _, err := NewApp(cfg, t.TempDir(), log.New(&bytes.Buffer{}, "", 0))
		assert.True(t, errors.Is(err, ErrFolderInvalid))
	})

	t.Run("migrations are read from the app folder", func(t *testing.T) {
		app, dir, _ := sqliteApp(t)
		assert.Equal(t, dir, app.Dir())
	})
}

func TestApp_Commands(t *testing.T) {
	ctx := context.Background()
	app, dir, buf := sqliteApp(t)

	writePair(t, dir, 1, "CREATE TABLE customers (id INTEGER PRIMARY KEY);", "DROP TABLE customers;")
	writePair(t, dir, 2, "CREATE TABLE orders (id INTEGER PRIMARY KEY);", "DROP TABLE orders;")
	writePair(t, dir, 3, "", "")

	plan, err := app.Plan(ctx, migration.Up, -1)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1, 2, 3}, plan.Versions())

	report, err := app.Up(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{1, 2}, report.Committed().Versions())

	report, err = app.Up(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{3}, report.Committed().Versions())

	status, err := app.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 3)
	assert.True(t, status[2].Applied)

	rolledBack, migrated, err := app.Redo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{3}, rolledBack.Committed().Versions())
	assert.Equal(t, []migration.Version{3}, migrated.Committed().Versions())

	report, err = app.Down(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{3}, report.Committed().Versions())

	plan, err = app.Plan(ctx, migration.Down, -1)
	require.NoError(t, err)
	assert.Equal(t, []migration.Version{2, 1}, plan.Versions())

	require.NoError(t, app.Unlock(ctx))

	assert.Contains(t, buf.String(), "CREATE TABLE customers")
}

func TestApp_New(t *testing.T) {
	app, dir, _ := sqliteApp(t)

	up, down, err := app.New()
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(up))
	assert.Equal(t, dir, filepath.Dir(down))

	plan, err := app.Plan(context.Background(), migration.Up, -1)
	require.NoError(t, err)
	assert.Len(t, plan, 1)
}
