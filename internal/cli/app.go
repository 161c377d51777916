package cli

import (
	"context"
	"database/sql"
	"github.com/denismitr/pgtern"
	"github.com/denismitr/pgtern/internal/logger"
	"github.com/denismitr/pgtern/migration"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"log"
	"os"
)

var ErrFolderInvalid = errors.New("migrations folder is invalid")

type (
	CloserFunc func() error

	App struct {
		cfg      *Config
		dir      string
		migrator *pgtern.Migrator
	}
)

// NewApp opens the configured database and builds a migrator reading from
// the app folder under migdir. Log output goes to out.
func NewApp(cfg *Config, migdir string, out logger.Printer) (*App, CloserFunc, error) {
	dir := cfg.MigrationsDir(migdir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, nil, errors.Wrapf(ErrFolderInvalid, "path [%s]", dir)
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open %s database", cfg.Driver)
	}

	lg, syncFn, err := newLogger(cfg, out)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	m, closer, err := pgtern.NewMigrator(
		pgtern.UseLogger(lg),
		databaseOption(cfg, db),
		pgtern.UseLocalFolderSource(dir),
	)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	closeAll := func() error {
		err := closer()
		if dbErr := db.Close(); err == nil {
			err = dbErr
		}
		syncFn()
		return err
	}

	return &App{cfg: cfg, dir: dir, migrator: m}, closeAll, nil
}

func newLogger(cfg *Config, out logger.Printer) (logger.Logger, func(), error) {
	noop := func() {}

	switch cfg.Log {
	case LogPlain:
		return logger.NewBWLogger(out, cfg.SQL, cfg.Debug), noop, nil
	case LogJSON:
		zl, err := logger.NewJSONLogger(cfg.SQL, cfg.Debug)
		if err != nil {
			return nil, nil, err
		}
		return zl, func() { _ = zl.Sync() }, nil
	default:
		return logger.NewColorLogger(out, cfg.SQL, cfg.Debug), noop, nil
	}
}

func databaseOption(cfg *Config, db *sql.DB) pgtern.OptionFunc {
	switch cfg.Driver {
	case DriverCockroach:
		return pgtern.UseCockroach(
			db,
			pgtern.WithCockroachMigrationTable(cfg.MigrationsTable),
			pgtern.WithCockroachSchema(cfg.Schema),
		)
	case DriverMySQL:
		return pgtern.UseMySQL(
			db,
			pgtern.WithMySQLMigrationTable(cfg.MigrationsTable),
		)
	case DriverSqlite:
		return pgtern.UseSqlite(
			db,
			pgtern.WithSqliteMigrationTable(cfg.MigrationsTable),
		)
	default:
		return pgtern.UsePostgres(
			db,
			pgtern.WithPostgresMigrationTable(cfg.MigrationsTable),
			pgtern.WithPostgresSchema(cfg.Schema),
		)
	}
}

func NewStdoutPrinter() logger.Printer {
	return log.New(os.Stdout, "", 0)
}

func (app *App) Dir() string {
	return app.dir
}

// Up applies n pending migrations, a negative n applies all of them
func (app *App) Up(ctx context.Context, n int) (*migration.Report, error) {
	return app.migrator.Migrate(ctx, pgtern.WithSteps(n))
}

// Down reverts the n most recently applied migrations
func (app *App) Down(ctx context.Context, n int) (*migration.Report, error) {
	return app.migrator.Rollback(ctx, pgtern.WithSteps(n))
}

func (app *App) Redo(ctx context.Context, n int) (*migration.Report, *migration.Report, error) {
	return app.migrator.Refresh(ctx, pgtern.WithSteps(n))
}

func (app *App) Plan(ctx context.Context, d migration.Direction, n int) (migration.Migrations, error) {
	return app.migrator.Pending(ctx, d, pgtern.WithSteps(n))
}

func (app *App) Status(ctx context.Context) ([]pgtern.MigrationStatus, error) {
	return app.migrator.Status(ctx)
}

func (app *App) New() (string, string, error) {
	return app.migrator.CreateMigration()
}

func (app *App) Unlock(ctx context.Context) error {
	return app.migrator.ForceUnlock(ctx)
}
