package sqlgateway

import (
	"context"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/database/sqlgateway/mysql"
	"github.com/denismitr/pgtern/internal/database/sqlgateway/postgres"
	"github.com/denismitr/pgtern/internal/database/sqlgateway/sqlite"
	"github.com/denismitr/pgtern/internal/logger"
	"github.com/denismitr/pgtern/migration"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"time"
)

// UnlockTimeout bounds lock release, which runs even when the caller context is cancelled
const UnlockTimeout = 10 * time.Second

type (
	PostgresOptions struct {
		MigrationsTable string
		Schema          string
		// LockKey overrides the advisory lock key derived from the table name
		LockKey int64
		NoLock  bool
	}

	CockroachOptions struct {
		MigrationsTable string
		Schema          string
		NoLock          bool
	}

	MySQLOptions struct {
		MigrationsTable string
		Charset         string
		LockKey         string
		NoLock          bool
	}

	SqliteOptions struct {
		MigrationsTable string
		NoLock          bool
	}
)

// clearer is implemented by lockers whose lock outlives the session
type clearer interface {
	Clear(ctx context.Context, ex database.Executor) error
}

type SQLGateway struct {
	dialect database.Dialect
	locker  database.Locker
	ledger  *Ledger
	txm     *TxManager
	lg      logger.Logger
}

func newGateway(dialect database.Dialect, locker database.Locker, txm *TxManager) *SQLGateway {
	lg := &logger.NullLogger{}
	if txm == nil {
		txm = NewTxManager()
	}

	return &SQLGateway{
		dialect: dialect,
		locker:  locker,
		ledger:  NewLedger(dialect, lg),
		txm:     txm,
		lg:      lg,
	}
}

func tableOrDefault(table string) (string, error) {
	if table == "" {
		table = database.DefaultMigrationsTable
	}

	if err := database.ValidateIdentifier(table); err != nil {
		return "", err
	}

	return table, nil
}

func NewPostgresGateway(opts *PostgresOptions, cfn ...TxConfigFunc) (*SQLGateway, error) {
	table, err := tableOrDefault(opts.MigrationsTable)
	if err != nil {
		return nil, err
	}

	if opts.Schema != "" {
		if err := database.ValidateIdentifier(opts.Schema); err != nil {
			return nil, err
		}
	}

	dialect := postgres.NewDialect(opts.Schema, table)

	var locker database.Locker = database.NullLocker{}
	if !opts.NoLock {
		key := opts.LockKey
		if key == 0 {
			key = postgres.LockKeyFor(dialect.Table())
		}
		locker = postgres.NewLocker(key)
	}

	return newGateway(dialect, locker, NewTxManager(cfn...)), nil
}

// NewCockroachGateway locks a row of a lock table from a separate session of db
// since CockroachDB accepts advisory lock calls without providing mutual exclusion
func NewCockroachGateway(db *sqlx.DB, opts *CockroachOptions, cfn ...TxConfigFunc) (*SQLGateway, error) {
	table, err := tableOrDefault(opts.MigrationsTable)
	if err != nil {
		return nil, err
	}

	if opts.Schema != "" {
		if err := database.ValidateIdentifier(opts.Schema); err != nil {
			return nil, err
		}
	}

	dialect := postgres.NewCockroachDialect(opts.Schema, table)

	var locker database.Locker = database.NullLocker{}
	if !opts.NoLock {
		locker = postgres.NewRowLocker(db, dialect.Table()+"_lock")
	}

	return newGateway(dialect, locker, NewTxManager(cfn...)), nil
}

func NewMySQLGateway(opts *MySQLOptions, cfn ...TxConfigFunc) (*SQLGateway, error) {
	table, err := tableOrDefault(opts.MigrationsTable)
	if err != nil {
		return nil, err
	}

	var locker database.Locker = database.NullLocker{}
	if !opts.NoLock {
		locker = mysql.NewLocker(opts.LockKey)
	}

	return newGateway(mysql.NewDialect(table, opts.Charset), locker, NewTxManager(cfn...)), nil
}

func NewSqliteGateway(opts *SqliteOptions) (*SQLGateway, error) {
	table, err := tableOrDefault(opts.MigrationsTable)
	if err != nil {
		return nil, err
	}

	var locker database.Locker = database.NullLocker{}
	if !opts.NoLock {
		locker = database.NewTableLocker(table+"_lock", sqlx.QUESTION)
	}

	return newGateway(sqlite.NewDialect(table), locker, NewTxManager()), nil
}

func (g *SQLGateway) SetLogger(lg logger.Logger) {
	g.lg = lg
	g.ledger.lg = lg
}

func (g *SQLGateway) Dialect() string {
	return g.dialect.Name()
}

func (g *SQLGateway) Ledger() *Ledger {
	return g.ledger
}

func (g *SQLGateway) Entries(ctx context.Context, ex database.Executor) ([]migration.Entry, error) {
	return g.ledger.Entries(ctx, ex)
}

func (g *SQLGateway) AppliedSet(ctx context.Context, ex database.Executor) (migration.VersionSet, error) {
	return g.ledger.AppliedSet(ctx, ex)
}

// Pending computes a plan from the current ledger without taking the lock or changing anything
func (g *SQLGateway) Pending(
	ctx context.Context,
	ex database.Executor,
	catalog migration.Migrations,
	p database.Plan,
) (migration.Migrations, error) {
	if !p.Direction.Valid() {
		return nil, errors.Errorf("invalid migration direction [%s]", p.Direction)
	}

	applied, err := g.ledger.AppliedSet(ctx, ex)
	if err != nil {
		return nil, err
	}

	if err := database.Reconcile(catalog, applied); err != nil {
		return nil, err
	}

	return database.Schedule(catalog, applied, p), nil
}

// Apply executes an already computed plan, one transaction per step
func (g *SQLGateway) Apply(
	ctx context.Context,
	conn database.Conn,
	plan migration.Migrations,
	d migration.Direction,
) (*migration.Report, error) {
	if !d.Valid() {
		return nil, errors.Errorf("invalid migration direction [%s]", d)
	}

	report := migration.NewReport(d, plan)
	if report.Empty() {
		return report, nil
	}

	err := g.execUnderLock(ctx, conn, func() error {
		return g.applyReport(ctx, conn, report)
	})

	return report, err
}

// Run reads the ledger, reconciles it with the catalog, plans and applies,
// all under the same lock so no other runner can change the applied set in between
func (g *SQLGateway) Run(
	ctx context.Context,
	conn database.Conn,
	catalog migration.Migrations,
	p database.Plan,
) (*migration.Report, error) {
	if !p.Direction.Valid() {
		return nil, errors.Errorf("invalid migration direction [%s]", p.Direction)
	}

	report := migration.NewReport(p.Direction, nil)

	err := g.execUnderLock(ctx, conn, func() error {
		applied, err := g.ledger.AppliedSet(ctx, conn)
		if err != nil {
			return err
		}

		if err := database.Reconcile(catalog, applied); err != nil {
			return err
		}

		scheduled := database.Schedule(catalog, applied, p)
		if len(scheduled) == 0 {
			g.lg.Debugf("nothing to %s", p.Direction)
			return nil
		}

		report = migration.NewReport(p.Direction, scheduled)

		return g.applyReport(ctx, conn, report)
	})

	return report, err
}

// Refresh reverts the last steps versions and applies them again under one lock
func (g *SQLGateway) Refresh(
	ctx context.Context,
	conn database.Conn,
	catalog migration.Migrations,
	steps int,
) (*migration.Report, *migration.Report, error) {
	rolledBack := migration.NewReport(migration.Down, nil)
	migrated := migration.NewReport(migration.Up, nil)

	err := g.execUnderLock(ctx, conn, func() error {
		applied, err := g.ledger.AppliedSet(ctx, conn)
		if err != nil {
			return err
		}

		if err := database.Reconcile(catalog, applied); err != nil {
			return err
		}

		scheduled := database.ScheduleForRollback(catalog, applied, steps)
		if len(scheduled) == 0 {
			g.lg.Debugf("nothing to refresh")
			return nil
		}

		rolledBack = migration.NewReport(migration.Down, scheduled)
		if err := g.applyReport(ctx, conn, rolledBack); err != nil {
			return err
		}

		reapply := make(migration.Migrations, 0, len(scheduled))
		for i := len(scheduled) - 1; i >= 0; i-- {
			reapply = append(reapply, scheduled[i])
		}

		migrated = migration.NewReport(migration.Up, reapply)

		return g.applyReport(ctx, conn, migrated)
	})

	return rolledBack, migrated, err
}

// ForceUnlock removes a stale lock row left by a crashed run. Session scoped
// locks die with their session and need nothing.
func (g *SQLGateway) ForceUnlock(ctx context.Context, ex database.Executor) error {
	c, ok := g.locker.(clearer)
	if !ok {
		g.lg.Debugf("%s lock is released with the session, nothing to clear", g.dialect.Name())
		return nil
	}

	if err := c.Clear(ctx, ex); err != nil {
		return err
	}

	g.lg.Successf("migrations lock cleared")

	return nil
}

func (g *SQLGateway) execUnderLock(ctx context.Context, conn database.Conn, f func() error) (err error) {
	if err := g.locker.Lock(ctx, conn); err != nil {
		return errors.Wrap(err, "database lock failed")
	}

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), UnlockTimeout)
		defer cancel()

		if unlockErr := g.locker.Unlock(unlockCtx, conn); unlockErr != nil {
			if err == nil {
				err = errors.Wrap(unlockErr, "database unlock failed")
			} else {
				g.lg.Error(unlockErr)
			}
		}
	}()

	if err := g.ledger.Init(ctx, conn); err != nil {
		return err
	}

	return f()
}

// applyReport runs the steps of the report in order and stops at the first failure,
// committed steps stay committed
func (g *SQLGateway) applyReport(ctx context.Context, conn database.Conn, report *migration.Report) error {
	d := report.Direction

	for i := range report.Steps {
		m := report.Steps[i].Migration

		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "%s interrupted before version %s", d, m.Version)
		}

		g.lg.Debugf("running %s for version %s", d, m.Version)

		err := g.txm.ReadWrite(ctx, conn, func(ctx context.Context, tx *sqlx.Tx) error {
			return g.applyOne(ctx, tx, m, d)
		})

		if err != nil {
			report.Fail(i, err)
			stepErr := report.Err()
			g.lg.Error(stepErr)
			return stepErr
		}

		report.Commit(i)
		g.lg.Successf("%s: version %s", d, m.Version)
	}

	return nil
}

func (g *SQLGateway) applyOne(ctx context.Context, tx database.Executor, m *migration.Migration, d migration.Direction) error {
	if !m.Blank(d) {
		script := m.Script(d)
		g.lg.SQL(script)

		if _, err := tx.ExecContext(ctx, script); err != nil {
			return errors.Wrapf(err, "could not run %s script", m.Filename(d))
		}
	}

	if d == migration.Up {
		return g.ledger.RecordApplied(ctx, tx, m.Version)
	}

	return g.ledger.RecordReverted(ctx, tx, m.Version)
}
