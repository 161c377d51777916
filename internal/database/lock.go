package database

import (
	"context"
	"fmt"
	"github.com/denismitr/pgtern/migration"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type NullLocker struct{}

var _ Locker = (*NullLocker)(nil)

func (NullLocker) Lock(context.Context, Executor) error {
	return nil
}

func (NullLocker) Unlock(context.Context, Executor) error {
	return nil
}

// TableLocker serializes runs through a single row lock table, used for SQLite
// where a second session cannot hold a lock without blocking the writer. Unlike
// session locks the row outlives a crashed process and has to be removed with Clear.
type TableLocker struct {
	table    string
	bindType int
	owner    string
}

var _ Locker = (*TableLocker)(nil)

func NewTableLocker(table string, bindType int) *TableLocker {
	return &TableLocker{table: table, bindType: bindType, owner: uuid.NewString()}
}

func (l *TableLocker) Owner() string {
	return l.owner
}

func (l *TableLocker) Table() string {
	return l.table
}

func (l *TableLocker) Lock(ctx context.Context, ex Executor) error {
	if err := l.createTable(ctx, ex); err != nil {
		return err
	}

	insertSQL := sqlx.Rebind(l.bindType, fmt.Sprintf("INSERT INTO %s (id, owner) VALUES (1, ?)", l.table))
	if _, err := ex.ExecContext(ctx, insertSQL, l.owner); err != nil {
		var holder string
		selectSQL := fmt.Sprintf("SELECT owner FROM %s WHERE id = 1", l.table)
		if scanErr := ex.QueryRowxContext(ctx, selectSQL).Scan(&holder); scanErr == nil {
			return errors.Wrapf(migration.ErrLockHeld, "lock table [%s] owner [%s]", l.table, holder)
		}

		return errors.Wrapf(err, "could not acquire lock in table [%s]", l.table)
	}

	return nil
}

func (l *TableLocker) Unlock(ctx context.Context, ex Executor) error {
	deleteSQL := sqlx.Rebind(l.bindType, fmt.Sprintf("DELETE FROM %s WHERE id = 1 AND owner = ?", l.table))
	if _, err := ex.ExecContext(ctx, deleteSQL, l.owner); err != nil {
		return errors.Wrapf(err, "could not release lock in table [%s]", l.table)
	}

	return nil
}

// Clear removes the lock row whoever holds it
func (l *TableLocker) Clear(ctx context.Context, ex Executor) error {
	if err := l.createTable(ctx, ex); err != nil {
		return err
	}

	if _, err := ex.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = 1", l.table)); err != nil {
		return errors.Wrapf(err, "could not clear lock table [%s]", l.table)
	}

	return nil
}

func (l *TableLocker) createTable(ctx context.Context, ex Executor) error {
	const createSQL = `
		CREATE TABLE IF NOT EXISTS %s (
			id INT PRIMARY KEY,
			owner VARCHAR(64) NOT NULL,
			locked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`

	if _, err := ex.ExecContext(ctx, fmt.Sprintf(createSQL, l.table)); err != nil {
		return errors.Wrapf(err, "could not create lock table [%s]", l.table)
	}

	return nil
}
