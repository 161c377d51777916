package migration

import (
	"sort"
	"strings"
	"time"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

type (
	// Migration - one up script and one down script sharing a version
	Migration struct {
		Version Version
		Up      string
		Down    string
	}

	// Entry - one row of the ledger
	Entry struct {
		Version   Version   `db:"version"`
		AppliedAt time.Time `db:"applied_at"`
	}
)

func New(version Version, up, down string) *Migration {
	return &Migration{Version: version, Up: up, Down: down}
}

// Script returns the SQL text to execute for the given direction
func (m *Migration) Script(d Direction) string {
	if d == Down {
		return m.Down
	}

	return m.Up
}

// Blank reports whether the script for the direction contains nothing to run
func (m *Migration) Blank(d Direction) bool {
	return strings.TrimSpace(m.Script(d)) == ""
}

func (m *Migration) Filename(d Direction) string {
	return Filename(m.Version, d)
}

// Filename follows the <version>_<direction>.sql convention
func Filename(v Version, d Direction) string {
	return v.String() + "_" + string(d) + ".sql"
}

// Migrations - a catalog of migration pairs
type Migrations []*Migration

func (m Migrations) Versions() []Version {
	result := make([]Version, 0, len(m))
	for i := range m {
		result = append(result, m[i].Version)
	}
	return result
}

func (m Migrations) VersionSet() VersionSet {
	return NewVersionSet(m.Versions()...)
}

func (m Migrations) Find(v Version) (*Migration, bool) {
	for i := range m {
		if m[i].Version == v {
			return m[i], true
		}
	}

	return nil, false
}

// Sorted returns an ascending copy leaving the receiver untouched
func (m Migrations) Sorted() Migrations {
	result := make(Migrations, len(m))
	copy(result, m)
	sort.Sort(result)
	return result
}

func (m Migrations) Len() int {
	return len(m)
}

func (m Migrations) Less(i, j int) bool {
	return m[i].Version < m[j].Version
}

func (m Migrations) Swap(i, j int) {
	m[i], m[j] = m[j], m[i]
}
