package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/migration"
	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// lock_not_available
const lockNotAvailable = "55P03"

// RowLocker holds FOR UPDATE NOWAIT on the single row of a lock table, inside a
// transaction on a session of its own. CockroachDB accepts advisory lock calls
// without enforcing them, a row lock is enforced and dies with its session.
type RowLocker struct {
	db    *sqlx.DB
	table string
	conn  *sqlx.Conn
	tx    *sqlx.Tx
}

var _ database.Locker = (*RowLocker)(nil)

func NewRowLocker(db *sqlx.DB, table string) *RowLocker {
	return &RowLocker{db: db, table: table}
}

func (l *RowLocker) Table() string {
	return l.table
}

// Lock takes the row lock from a separate session. The lock row is created on ex
// the first time, a plain read of it could wait behind another runner's lock.
func (l *RowLocker) Lock(ctx context.Context, ex database.Executor) error {
	if l.tx != nil {
		return errors.Errorf("lock table [%s] is already locked by this runner", l.table)
	}

	const createSQL = `CREATE TABLE IF NOT EXISTS %s (id INT PRIMARY KEY)`
	if _, err := ex.ExecContext(ctx, fmt.Sprintf(createSQL, l.table)); err != nil {
		return errors.Wrapf(err, "could not create lock table [%s]", l.table)
	}

	for attempt := 1; ; attempt++ {
		err := l.lockRow(ctx)
		if err == nil {
			return nil
		}

		if !errors.Is(err, sql.ErrNoRows) || attempt > 1 {
			return err
		}

		insertSQL := fmt.Sprintf("INSERT INTO %s (id) VALUES (1) ON CONFLICT (id) DO NOTHING", l.table)
		if _, err := ex.ExecContext(ctx, insertSQL); err != nil {
			return errors.Wrapf(err, "could not prepare lock row in [%s]", l.table)
		}
	}
}

func (l *RowLocker) lockRow(ctx context.Context) error {
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return errors.Wrap(err, "could not open lock session")
	}

	// database/sql rolls a transaction back when its context is done,
	// the lock has to stay until Unlock
	tx, err := conn.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "could not begin lock transaction")
	}

	var id int
	selectSQL := fmt.Sprintf("SELECT id FROM %s WHERE id = 1 FOR UPDATE NOWAIT", l.table)
	if err := tx.QueryRowxContext(ctx, selectSQL).Scan(&id); err != nil {
		_ = tx.Rollback()
		_ = conn.Close()

		if errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if isLockNotAvailable(err) {
			return errors.Wrapf(migration.ErrLockHeld, "lock table [%s]", l.table)
		}

		return errors.Wrapf(err, "could not lock row in [%s]", l.table)
	}

	l.conn, l.tx = conn, tx

	return nil
}

func (l *RowLocker) Unlock(_ context.Context, _ database.Executor) error {
	if l.tx == nil {
		return nil
	}

	rbErr := l.tx.Rollback()
	closeErr := l.conn.Close()
	l.conn, l.tx = nil, nil

	if rbErr != nil {
		return errors.Wrapf(rbErr, "could not release lock table [%s]", l.table)
	}

	if closeErr != nil {
		return errors.Wrap(closeErr, "could not close lock session")
	}

	return nil
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}
