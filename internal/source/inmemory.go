package source

import (
	"context"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
	"io/fs"
)

// FSSource discovers migrations in any file system, embed.FS included
type FSSource struct {
	fsys fs.FS
}

var _ Selector = (*FSSource)(nil)

func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

func (s *FSSource) Select(ctx context.Context) (migration.Migrations, error) {
	return Discover(ctx, s.fsys)
}

type InMemorySource struct {
	migrations migration.Migrations
}

var _ Selector = (*InMemorySource)(nil)

func NewInMemorySource(migrations ...*migration.Migration) (*InMemorySource, error) {
	seen := migration.NewVersionSet()
	for _, m := range migrations {
		if seen.Has(m.Version) {
			return nil, errors.Wrapf(migration.ErrDuplicateVersion, "version %s", m.Version)
		}

		seen.Add(m.Version)
	}

	return &InMemorySource{migrations: migration.Migrations(migrations).Sorted()}, nil
}

func (c *InMemorySource) Select(ctx context.Context) (migration.Migrations, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.migrations.Sorted(), nil
}
