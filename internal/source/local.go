package source

import (
	"context"
	"github.com/denismitr/pgtern/internal/logger"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
	"io/fs"
	"os"
	"path/filepath"
)

type LocalFileSource struct {
	folder string
	lg     logger.Logger
	gen    *migration.Generator
}

var _ Source = (*LocalFileSource)(nil)

func NewLocalFileSource(folder string, lg logger.Logger, gen *migration.Generator) *LocalFileSource {
	if lg == nil {
		lg = &logger.NullLogger{}
	}

	if gen == nil {
		gen = migration.DefaultGenerator()
	}

	return &LocalFileSource{folder: folder, lg: lg, gen: gen}
}

func (lfs *LocalFileSource) Folder() string {
	return lfs.folder
}

func (lfs *LocalFileSource) IsValid() bool {
	info, err := os.Stat(lfs.folder)
	if os.IsNotExist(err) || err != nil {
		return false
	}

	return info.IsDir()
}

func (lfs *LocalFileSource) Select(ctx context.Context) (migration.Migrations, error) {
	if !lfs.IsValid() {
		return nil, errors.Errorf("migrations folder [%s] does not exist", lfs.folder)
	}

	migrations, err := Discover(ctx, os.DirFS(lfs.folder))
	if err != nil {
		return nil, errors.Wrapf(err, "folder [%s]", lfs.folder)
	}

	lfs.lg.Debugf("discovered %d migrations in %s", len(migrations), lfs.folder)

	return migrations, nil
}

// Create writes an empty up/down pair under a fresh version
func (lfs *LocalFileSource) Create() (string, string, error) {
	v := lfs.gen.Next()

	upPath := filepath.Join(lfs.folder, migration.Filename(v, migration.Up))
	downPath := filepath.Join(lfs.folder, migration.Filename(v, migration.Down))

	if err := createExclusive(upPath); err != nil {
		return "", "", err
	}

	if err := createExclusive(downPath); err != nil {
		if rmErr := os.Remove(upPath); rmErr != nil {
			lfs.lg.Error(rmErr)
		}

		return "", "", err
	}

	lfs.lg.Successf("created migration %s", v)

	return upPath, downPath, nil
}

func createExclusive(filename string) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errors.Wrapf(migration.ErrAlreadyExists, "[%s]", filename)
		}

		return errors.Wrapf(err, "could not create file [%s]", filename)
	}

	if cErr := f.Close(); cErr != nil {
		return errors.Wrapf(cErr, "could not close file %s", filename)
	}

	return nil
}
