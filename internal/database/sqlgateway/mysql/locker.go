package mysql

import (
	"context"
	"database/sql"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
)

const DefaultLockKey = "pgtern_migrations"

// Locker uses a named lock with zero timeout so a held lock fails fast
type Locker struct {
	lockKey string
}

var _ database.Locker = (*Locker)(nil)

func NewLocker(lockKey string) *Locker {
	if lockKey == "" {
		lockKey = DefaultLockKey
	}

	return &Locker{lockKey: lockKey}
}

func (l *Locker) Lock(ctx context.Context, ex database.Executor) error {
	var acquired sql.NullInt64
	if err := ex.QueryRowxContext(ctx, "SELECT GET_LOCK(?, 0)", l.lockKey).Scan(&acquired); err != nil {
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock", l.lockKey)
	}

	if !acquired.Valid {
		return errors.Errorf("could not obtain [%s] exclusive MySQL DB lock", l.lockKey)
	}

	if acquired.Int64 != 1 {
		return errors.Wrapf(migration.ErrLockHeld, "named lock [%s]", l.lockKey)
	}

	return nil
}

func (l *Locker) Unlock(ctx context.Context, ex database.Executor) error {
	var released sql.NullInt64
	if err := ex.QueryRowxContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockKey).Scan(&released); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.lockKey)
	}

	if released.Int64 != 1 {
		return errors.Errorf("named lock [%s] was not held by this session", l.lockKey)
	}

	return nil
}
