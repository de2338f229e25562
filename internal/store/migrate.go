package store

import "fmt"

// Migrator is handed to each Migration step. All steps of one open share a
// single write transaction.
type Migrator interface {
	// OldVersion is the version stored before this open started.
	OldVersion() int
	HasCollection(name string) bool
	CreateCollection(spec CollectionSpec) error
	HasIndex(collection, index string) bool
	// CreateIndex adds an index to an existing collection and backfills it.
	CreateIndex(collection string, index IndexSpec) error
}

// Migration upgrades the schema to Version.
type Migration struct {
	Version int
	Apply   func(m Migrator) error
}

// TargetVersion returns the version of the last migration.
func TargetVersion(migrations []Migration) int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// EnsureCollection creates the collection unless it already exists, then adds
// any of its indexes that are missing.
func EnsureCollection(m Migrator, spec CollectionSpec) error {
	if !m.HasCollection(spec.Name) {
		return m.CreateCollection(spec)
	}
	for _, idx := range spec.Indexes {
		if err := EnsureIndex(m, spec.Name, idx); err != nil {
			return err
		}
	}
	return nil
}

// EnsureIndex creates the index unless it already exists.
func EnsureIndex(m Migrator, collection string, idx IndexSpec) error {
	if m.HasIndex(collection, idx.Name) {
		return nil
	}
	return m.CreateIndex(collection, idx)
}

// runMigrations applies every step newer than current, in order, and returns
// the new version.
func runMigrations(m Migrator, current int, migrations []Migration) (int, error) {
	last := 0
	for _, mig := range migrations {
		if mig.Version <= last {
			return current, fmt.Errorf("migration versions must increase: %d after %d", mig.Version, last)
		}
		last = mig.Version
	}

	if current > last {
		return current, fmt.Errorf("stored %d, target %d: %w", current, last, ErrSchemaDowngrade)
	}

	version := current
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := mig.Apply(m); err != nil {
			return current, fmt.Errorf("upgrade to version %d: %w", mig.Version, err)
		}
		version = mig.Version
	}

	return version, nil
}
