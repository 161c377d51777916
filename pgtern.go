package pgtern

import (
	"context"
	"github.com/denismitr/pgtern/internal/database"
	"github.com/denismitr/pgtern/internal/database/sqlgateway"
	"github.com/denismitr/pgtern/internal/logger"
	"github.com/denismitr/pgtern/internal/source"
	"github.com/denismitr/pgtern/migration"
	"github.com/pkg/errors"
	"sort"
	"time"
)

var (
	ErrGatewayNotInitialized = errors.New("database gateway has not been initialized")
	ErrSourceIsReadOnly      = errors.New("migration source does not support creating migrations")
)

// Engine errors, matched with errors.Is
var (
	ErrMalformedVersion  = migration.ErrMalformedVersion
	ErrIncompletePair    = migration.ErrIncompletePair
	ErrDuplicateVersion  = migration.ErrDuplicateVersion
	ErrVersionNotApplied = migration.ErrVersionNotApplied
	ErrUnknownVersion    = migration.ErrUnknownVersion
	ErrLockHeld          = migration.ErrLockHeld
	ErrAlreadyExists     = migration.ErrAlreadyExists
)

type CloserFunc func() error

// MigrationStatus - one line of the status listing. Missing marks a ledger
// entry whose migration files are gone.
type MigrationStatus struct {
	Version   migration.Version
	Applied   bool
	AppliedAt time.Time
	Missing   bool
}

type Migrator struct {
	lg        logger.Logger
	gateway   *sqlgateway.SQLGateway
	connector sqlgateway.Connector
	selector  source.Selector
	closerFns []CloserFunc
}

// NewMigrator creates a migrator from option callbacks. A database option
// (UsePostgres, UseCockroach, UseMySQL, UseSqlite) is required, the source
// defaults to the local ./migrations folder.
func NewMigrator(opts ...OptionFunc) (*Migrator, CloserFunc, error) {
	m := new(Migrator)
	m.lg = &logger.NullLogger{}

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			return nil, nil, err
		}
	}

	if m.gateway == nil || m.connector == nil {
		return nil, nil, ErrGatewayNotInitialized
	}

	if m.selector == nil {
		m.selector = source.NewLocalFileSource(source.DefaultMigrationsFolder, m.lg, nil)
	}

	m.gateway.SetLogger(m.lg)

	return m, m.close, nil
}

// Migrate applies pending migrations oldest first, all of them unless WithSteps says otherwise
func (m *Migrator) Migrate(ctx context.Context, cfs ...ActionConfigurator) (*migration.Report, error) {
	return m.run(ctx, migration.Up, cfs...)
}

// Rollback reverts applied migrations most recent first, all of them unless WithSteps says otherwise
func (m *Migrator) Rollback(ctx context.Context, cfs ...ActionConfigurator) (*migration.Report, error) {
	return m.run(ctx, migration.Down, cfs...)
}

// Refresh first rolls back the migrations and then migrates them again
func (m *Migrator) Refresh(ctx context.Context, cfs ...ActionConfigurator) (*migration.Report, *migration.Report, error) {
	act := newAction(cfs...)

	migrations, conn, err := m.prepare(ctx)
	if err != nil {
		return nil, nil, err
	}

	rolledBack, migrated, err := m.gateway.Refresh(ctx, conn, migrations, act.steps)
	if err != nil {
		m.lg.Error(err)
		return rolledBack, migrated, err
	}

	return rolledBack, migrated, nil
}

// Apply executes a plan computed earlier, see Plan. The plan is not checked
// against the ledger again, ledger invariants still hold per step.
func (m *Migrator) Apply(ctx context.Context, plan migration.Migrations, d migration.Direction) (*migration.Report, error) {
	conn, err := m.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}

	report, err := m.gateway.Apply(ctx, conn, plan, d)
	if err != nil {
		m.lg.Error(err)
		return report, err
	}

	return report, nil
}

// Pending is a dry run: the steps Migrate or Rollback would take right now
func (m *Migrator) Pending(ctx context.Context, d migration.Direction, cfs ...ActionConfigurator) (migration.Migrations, error) {
	act := newAction(cfs...)

	migrations, conn, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}

	return m.gateway.Pending(ctx, conn, migrations, database.Plan{Direction: d, Steps: act.steps})
}

// Status lists every known version with its ledger state, ascending
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, conn, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := m.gateway.Entries(ctx, conn)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[migration.Version]*MigrationStatus, len(migrations))
	for _, mg := range migrations {
		byVersion[mg.Version] = &MigrationStatus{Version: mg.Version}
	}

	for _, e := range entries {
		st, ok := byVersion[e.Version]
		if !ok {
			st = &MigrationStatus{Version: e.Version, Missing: true}
			byVersion[e.Version] = st
		}

		st.Applied = true
		st.AppliedAt = e.AppliedAt
	}

	result := make([]MigrationStatus, 0, len(byVersion))
	for _, st := range byVersion {
		result = append(result, *st)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })

	return result, nil
}

// CreateMigration writes a new empty up/down pair, the source must be a local folder
func (m *Migrator) CreateMigration() (string, string, error) {
	s := m.Source()
	if s == nil {
		return "", "", ErrSourceIsReadOnly
	}

	return s.Create()
}

// ForceUnlock removes a lock left behind by a crashed run
func (m *Migrator) ForceUnlock(ctx context.Context) error {
	conn, err := m.connector.Connect(ctx)
	if err != nil {
		return err
	}

	return m.gateway.ForceUnlock(ctx, conn)
}

// Source - returns migrator selector if it implements the full source.Source interface
func (m *Migrator) Source() source.Source {
	if s, ok := m.selector.(source.Source); ok {
		return s
	}

	return nil
}

func (m *Migrator) run(ctx context.Context, d migration.Direction, cfs ...ActionConfigurator) (*migration.Report, error) {
	act := newAction(cfs...)

	migrations, conn, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}

	report, err := m.gateway.Run(ctx, conn, migrations, database.Plan{Direction: d, Steps: act.steps})
	if err != nil {
		m.lg.Error(err)
		return report, err
	}

	return report, nil
}

func (m *Migrator) prepare(ctx context.Context) (migration.Migrations, database.Conn, error) {
	migrations, err := m.selector.Select(ctx)
	if err != nil {
		m.lg.Error(err)
		return nil, nil, err
	}

	conn, err := m.connector.Connect(ctx)
	if err != nil {
		m.lg.Error(err)
		return nil, nil, err
	}

	return migrations, conn, nil
}

// Close the migrator
func (m *Migrator) close() error {
	if m.gateway == nil {
		return ErrGatewayNotInitialized
	}

	var result error
	for i := len(m.closerFns) - 1; i >= 0; i-- {
		if err := m.closerFns[i](); err != nil {
			m.lg.Error(err)
			if result == nil {
				result = err
			}
		}
	}

	return result
}
