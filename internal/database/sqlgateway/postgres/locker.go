package postgres

import (
	"context"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
	"hash/fnv"
)

// Locker takes a session level advisory lock, released explicitly
// or by the server when the session ends
type Locker struct {
	lockKey int64
}

var _ database.Locker = (*Locker)(nil)

func NewLocker(lockKey int64) *Locker {
	return &Locker{lockKey: lockKey}
}

// LockKeyFor derives the advisory lock key from the ledger table name
func LockKeyFor(table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(table))
	return int64(h.Sum64())
}

func (l *Locker) Key() int64 {
	return l.lockKey
}

func (l *Locker) Lock(ctx context.Context, ex database.Executor) error {
	var acquired bool
	if err := ex.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockKey).Scan(&acquired); err != nil {
		return errors.Wrapf(err, "could not obtain [%d] advisory lock", l.lockKey)
	}

	if !acquired {
		return errors.Wrapf(migration.ErrLockHeld, "advisory lock [%d]", l.lockKey)
	}

	return nil
}

func (l *Locker) Unlock(ctx context.Context, ex database.Executor) error {
	var released bool
	if err := ex.QueryRowxContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey).Scan(&released); err != nil {
		return errors.Wrapf(err, "could not release [%d] advisory lock", l.lockKey)
	}

	if !released {
		return errors.Errorf("advisory lock [%d] was not held by this session", l.lockKey)
	}

	return nil
}
