package pgtern

import (
	"github.com/denismitr/pgtern/internal/logger"
	"github.com/denismitr/pgtern/internal/source"
	"github.com/denismitr/pgtern/migration"
	"go.uber.org/zap"
	"io/fs"
)

type OptionFunc func(*Migrator) error

func UseColorLogger(p logger.Printer, printSql, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewColorLogger(p, printSql, printDebug)
		return nil
	}
}

func UseBWLogger(p logger.Printer, printSql, printDebug bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewBWLogger(p, printSql, printDebug)
		return nil
	}
}

// UseZapLogger routes migration output through an existing zap logger
func UseZapLogger(sugar *zap.SugaredLogger, printSql bool) OptionFunc {
	return func(m *Migrator) error {
		m.lg = logger.NewZapLogger(sugar, printSql)
		return nil
	}
}

func UseLogger(lg logger.Logger) OptionFunc {
	return func(m *Migrator) error {
		m.lg = lg
		return nil
	}
}

// UseLocalFolderSource reads migrations from a folder, the only source
// CreateMigration can write to. Put it after the logger option to have
// the source log through it.
func UseLocalFolderSource(folder string) OptionFunc {
	return func(m *Migrator) error {
		m.selector = source.NewLocalFileSource(folder, m.lg, nil)
		return nil
	}
}

// UseFSSource reads migrations from the root of fsys, e.g. an embed.FS passed through fs.Sub
func UseFSSource(fsys fs.FS) OptionFunc {
	return func(m *Migrator) error {
		m.selector = source.NewFSSource(fsys)
		return nil
	}
}

func UseInMemorySource(migrations ...*migration.Migration) OptionFunc {
	return func(m *Migrator) error {
		s, err := source.NewInMemorySource(migrations...)
		if err != nil {
			return err
		}

		m.selector = s
		return nil
	}
}
