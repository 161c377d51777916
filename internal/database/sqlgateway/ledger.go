package sqlgateway

import (
	"context"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/logger"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
)

// Ledger reads and mutates the applied versions table. It never begins or
// commits transactions, callers pass a *sqlx.Tx when atomicity with a script matters.
type Ledger struct {
	dialect database.Dialect
	lg      logger.Logger
}

func NewLedger(dialect database.Dialect, lg logger.Logger) *Ledger {
	if lg == nil {
		lg = &logger.NullLogger{}
	}

	return &Ledger{dialect: dialect, lg: lg}
}

func (l *Ledger) Init(ctx context.Context, ex database.Executor) error {
	q := l.dialect.InitQuery()
	l.lg.SQL(q)

	if _, err := ex.ExecContext(ctx, q); err != nil {
		return errors.Wrapf(err, "could not create %s migrations table", l.dialect.Name())
	}

	return nil
}

func (l *Ledger) Exists(ctx context.Context, ex database.Executor) (bool, error) {
	q, args := l.dialect.TableExistsQuery()
	l.lg.SQL(q, args...)

	var count int
	if err := ex.QueryRowxContext(ctx, q, args...).Scan(&count); err != nil {
		return false, errors.Wrap(err, "could not check migrations table existence")
	}

	return count > 0, nil
}

// Entries returns ledger rows ascending, a missing table means nothing was applied yet
func (l *Ledger) Entries(ctx context.Context, ex database.Executor) ([]migration.Entry, error) {
	exists, err := l.Exists(ctx, ex)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, nil
	}

	q := l.dialect.ReadVersionsQuery()
	l.lg.SQL(q)

	rows, err := ex.QueryxContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "could not read migration versions")
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			l.lg.Error(closeErr)
		}
	}()

	var result []migration.Entry
	for rows.Next() {
		var e migration.Entry
		if err := rows.StructScan(&e); err != nil {
			return nil, errors.Wrap(err, "could not scan migration version")
		}

		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read migration versions iteration failed")
	}

	return result, nil
}

func (l *Ledger) AppliedSet(ctx context.Context, ex database.Executor) (migration.VersionSet, error) {
	entries, err := l.Entries(ctx, ex)
	if err != nil {
		return nil, err
	}

	set := migration.NewVersionSet()
	for _, e := range entries {
		set.Add(e.Version)
	}

	return set, nil
}

func (l *Ledger) RecordApplied(ctx context.Context, ex database.Executor, v migration.Version) error {
	countQuery, countArgs := l.dialect.CountVersionQuery(v)
	l.lg.SQL(countQuery, countArgs...)

	var count int
	if err := ex.QueryRowxContext(ctx, countQuery, countArgs...).Scan(&count); err != nil {
		return errors.Wrapf(err, "could not check migration version %s", v)
	}

	if count > 0 {
		return errors.Wrapf(migration.ErrDuplicateVersion, "version %s is already in the ledger", v)
	}

	insertQuery, args := l.dialect.InsertQuery(v)
	l.lg.SQL(insertQuery, args...)

	res, err := ex.ExecContext(ctx, insertQuery, args...)
	if err != nil {
		return errors.Wrapf(err, "could not insert migration version %s", v)
	}

	if affected, err := res.RowsAffected(); err == nil && affected != 1 {
		return errors.Errorf("inserting migration version %s affected %d rows", v, affected)
	}

	return nil
}

func (l *Ledger) RecordReverted(ctx context.Context, ex database.Executor, v migration.Version) error {
	removeQuery, args := l.dialect.RemoveQuery(v)
	l.lg.SQL(removeQuery, args...)

	res, err := ex.ExecContext(ctx, removeQuery, args...)
	if err != nil {
		return errors.Wrapf(err, "could not remove migration version %s", v)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "could not confirm removal of migration version %s", v)
	}

	if affected == 0 {
		return errors.Wrapf(migration.ErrVersionNotApplied, "version %s", v)
	}

	return nil
}
