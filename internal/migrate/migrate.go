// Package migrate defines the ordered schema migration registry. Each
// migration carries a monotonically increasing version number and is applied
// at most once per data directory; the lifecycle controller wraps every
// application in its own backup so a failed Apply is always re-run against a
// restored pre-migration snapshot, never against half-migrated data.
package migrate

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is a single schema change step.
type Migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

// Registry is an immutable, version-ordered migration list.
type Registry struct {
	migrations []Migration
}

// NewRegistry builds a registry from the given migrations, sorted by version.
// Duplicate or non-positive versions are rejected.
func NewRegistry(migrations []Migration) (*Registry, error) {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	seen := make(map[int]bool, len(sorted))
	for _, m := range sorted {
		if m.Version <= 0 {
			return nil, fmt.Errorf("migration %q: version must be positive, got %d", m.Name, m.Version)
		}
		if seen[m.Version] {
			return nil, fmt.Errorf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
	}
	return &Registry{migrations: sorted}, nil
}

// MustRegistry is NewRegistry that panics on invalid input. Intended for the
// static built-in list, where an invalid registry is a programming error.
func MustRegistry(migrations []Migration) *Registry {
	r, err := NewRegistry(migrations)
	if err != nil {
		panic(err)
	}
	return r
}

// SchemaVersion returns the highest registered version, or 0 for an empty
// registry.
func (r *Registry) SchemaVersion() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Pending returns, in ascending version order, every migration whose version
// exceeds current.
func (r *Registry) Pending(current int) []Migration {
	var out []Migration
	for _, m := range r.migrations {
		if m.Version > current {
			out = append(out, m)
		}
	}
	return out
}

// Default returns the built-in migration list for the application schema.
// Version 1 is the baseline: table creation itself is handled by the
// idempotent schema ensure step, so the baseline records only that the
// directory has passed through versioned migration at least once.
func Default() *Registry {
	return MustRegistry([]Migration{
		{Version: 1, Name: "baseline", Apply: func(*sql.DB) error { return nil }},
	})
}
