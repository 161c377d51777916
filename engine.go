package pgtern

import (
	"context"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/source"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
)

const (
	Up        = migration.Up
	Down      = migration.Down
	Unbounded = database.Unbounded
)

// Discover reads the catalog of migration pairs from a local folder
func Discover(ctx context.Context, dir string) (migration.Migrations, error) {
	return source.NewLocalFileSource(dir, nil, nil).Select(ctx)
}

// Plan computes the steps for a direction without touching any database.
// A negative count plans every candidate, zero plans nothing. Applied
// versions missing from the catalog fail with ErrUnknownVersion.
func Plan(
	catalog migration.Migrations,
	applied migration.VersionSet,
	d migration.Direction,
	count int,
) (migration.Migrations, error) {
	if !d.Valid() {
		return nil, errors.Errorf("invalid migration direction [%s]", d)
	}

	if err := database.Reconcile(catalog, applied); err != nil {
		return nil, err
	}

	return database.Schedule(catalog, applied, database.Plan{Direction: d, Steps: count}), nil
}

// Generate creates an empty up/down pair with a fresh version in dir
func Generate(dir string) (string, string, error) {
	return source.NewLocalFileSource(dir, nil, nil).Create()
}
