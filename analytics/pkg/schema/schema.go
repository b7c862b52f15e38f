// Package schema applies the PostgreSQL schema migrations.
package schema

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Status is the schema version after a migration run.
type Status struct {
	Version uint
	Dirty   bool
}

// Up applies all pending up migrations from sourceURL (e.g.
// "file://migrations") to the database at dbURL.
func Up(sourceURL, dbURL string) (Status, error) {
	return run(sourceURL, dbURL, func(m *migrate.Migrate) error { return m.Up() })
}

// Down rolls back the given number of migrations; steps <= 0 rolls back all.
func Down(sourceURL, dbURL string, steps int) (Status, error) {
	return run(sourceURL, dbURL, func(m *migrate.Migrate) error {
		if steps <= 0 {
			return m.Down()
		}
		return m.Steps(-steps)
	})
}

// Version reports the current schema version without changing it.
func Version(sourceURL, dbURL string) (Status, error) {
	return run(sourceURL, dbURL, func(*migrate.Migrate) error { return nil })
}

func run(sourceURL, dbURL string, step func(*migrate.Migrate) error) (Status, error) {
	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return Status{}, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Status{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return Status{Version: version, Dirty: dirty}, nil
}
