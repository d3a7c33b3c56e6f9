package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationStatus is the schema version after a migration run.
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Changed bool
}

// SourceURL turns a migrations directory into a golang-migrate source URL.
// Values that already carry a scheme are returned unchanged.
func SourceURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return "file://" + path
}

// MigrateUp applies every pending migration from path to the database at
// dbURL. ErrNoChange is not an error.
func MigrateUp(ctx context.Context, path, dbURL string) (MigrationStatus, error) {
	return run(ctx, path, dbURL, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back steps migrations.
func MigrateDown(ctx context.Context, path, dbURL string, steps int) (MigrationStatus, error) {
	if steps <= 0 {
		return MigrationStatus{}, fmt.Errorf("steps must be positive, got %d", steps)
	}
	return run(ctx, path, dbURL, func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

func run(ctx context.Context, path, dbURL string, apply func(*migrate.Migrate) error) (MigrationStatus, error) {
	m, err := migrate.New(SourceURL(path), dbURL)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	done := make(chan error, 1)
	go func() { done <- apply(m) }()

	var status MigrationStatus
	select {
	case err = <-done:
	case <-ctx.Done():
		m.GracefulStop <- true
		err = <-done
		if err == nil {
			err = ctx.Err()
		}
	}
	switch {
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		return status, fmt.Errorf("failed to run migrations: %w", err)
	default:
		status.Changed = true
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return status, fmt.Errorf("failed to read migration version: %w", err)
	}
	status.Version = version
	status.Dirty = dirty
	return status, nil
}
