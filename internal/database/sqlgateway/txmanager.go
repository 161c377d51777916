package sqlgateway

import (
	"context"
	"database/sql"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"strings"
)

var ErrTxDeadlock = errors.New("transaction deadlock occurred")

// TxConfig - configures tx
type TxConfig struct {
	Iso sql.IsolationLevel
}

type TxConfigFunc func(*TxConfig)

// ISO - isolation level type
type ISO int

const (
	DefaultIsolation ISO = iota
	Serializable
	RepeatableRead
	ReadCommitted
)

// Isolation tx config function
func Isolation(iso ISO) TxConfigFunc {
	return func(txCfg *TxConfig) {
		switch iso {
		case Serializable:
			txCfg.Iso = sql.LevelSerializable
		case RepeatableRead:
			txCfg.Iso = sql.LevelRepeatableRead
		case ReadCommitted:
			txCfg.Iso = sql.LevelReadCommitted
		default:
			txCfg.Iso = sql.LevelDefault
		}
	}
}

type TxCallback func(context.Context, *sqlx.Tx) error

// TxManager runs callbacks in read-write transactions started on a dedicated connection
type TxManager struct {
	cfg TxConfig
}

func NewTxManager(cfn ...TxConfigFunc) *TxManager {
	txCfg := TxConfig{Iso: sql.LevelDefault}
	for _, fn := range cfn {
		fn(&txCfg)
	}

	return &TxManager{cfg: txCfg}
}

func (txm *TxManager) ReadWrite(ctx context.Context, conn database.Conn, cb TxCallback) error {
	txx, err := conn.BeginTxx(ctx, &sql.TxOptions{Isolation: txm.cfg.Iso})
	if err != nil {
		return errors.Wrapf(err, "could not start transaction. isolation: %d", txm.cfg.Iso)
	}

	if err := cb(ctx, txx); err != nil {
		if isDeadlock(err) {
			err = errors.Wrapf(ErrTxDeadlock, "isolation: %d, on callback: %s", txm.cfg.Iso, err.Error())
		}

		if rbErr := txx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Wrap(err, " : ROLLBACK : "+rbErr.Error())
		}

		return err
	}

	if err := txx.Commit(); err != nil {
		if isDeadlock(err) {
			return errors.Wrapf(ErrTxDeadlock, "isolation: %d, on commit: %s", txm.cfg.Iso, err.Error())
		}

		return errors.Wrapf(err, "could not commit transaction. isolation: %d", txm.cfg.Iso)
	}

	return nil
}

func isDeadlock(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "deadlock")
}
