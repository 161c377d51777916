package source

import (
	"context"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
)

const DefaultMigrationsFolder = "./migrations"

var filenameRegexp = regexp.MustCompile(`^(?P<version>.+)_(?P<direction>up|down)\.sql$`)

type Selector interface {
	Select(ctx context.Context) (migration.Migrations, error)
}

type Source interface {
	Selector

	IsValid() bool
	Create() (upPath string, downPath string, err error)
}

type pairFiles struct {
	up, down string
}

// Discover reads every migration pair in the root of fsys and returns them ascending.
// Directories and dot files are skipped, any other stray file is an error.
func Discover(ctx context.Context, fsys fs.FS) (migration.Migrations, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "could not list migration files")
	}

	pairs := make(map[migration.Version]*pairFiles)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		v, d, err := parseFilename(name)
		if err != nil {
			return nil, err
		}

		p, ok := pairs[v]
		if !ok {
			p = &pairFiles{}
			pairs[v] = p
		}

		existing := &p.up
		if d == migration.Down {
			existing = &p.down
		}

		if *existing != "" {
			return nil, errors.Wrapf(migration.ErrDuplicateVersion, "files [%s] and [%s]", *existing, name)
		}

		*existing = name
	}

	versions := make([]migration.Version, 0, len(pairs))
	for v := range pairs {
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	for _, v := range versions {
		if pairs[v].up == "" || pairs[v].down == "" {
			return nil, errors.Wrapf(migration.ErrIncompletePair, "version %s", v)
		}
	}

	result := make(migration.Migrations, len(versions))
	g, ctx := errgroup.WithContext(ctx)

	for i := range versions {
		i, v := i, versions[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			up, err := fs.ReadFile(fsys, pairs[v].up)
			if err != nil {
				return errors.Wrapf(err, "could not read [%s]", pairs[v].up)
			}

			down, err := fs.ReadFile(fsys, pairs[v].down)
			if err != nil {
				return errors.Wrapf(err, "could not read [%s]", pairs[v].down)
			}

			result[i] = migration.New(v, string(up), string(down))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func parseFilename(name string) (migration.Version, migration.Direction, error) {
	matches := filenameRegexp.FindStringSubmatch(path.Base(name))
	if len(matches) != 3 {
		return 0, "", errors.Wrapf(migration.ErrMalformedVersion, "file [%s] is not a migration file", name)
	}

	v, err := migration.ParseVersion(matches[1])
	if err != nil {
		return 0, "", errors.Wrapf(err, "file [%s]", name)
	}

	return v, migration.Direction(matches[2]), nil
}
