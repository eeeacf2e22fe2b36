package store

import (
	"embed"
	"errors"
	"fmt"

	config "example.com/blogfeed/internal/init"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the schema of the configured driver and returns.
func Migrate(cfg *config.Config) error {
	switch cfg.StoreDriver {
	case "", "cassandra":
		if err := ensureKeyspace(cfg); err != nil {
			return fmt.Errorf("failed to ensure keyspace: %w", err)
		}
		return runCassandraMigrations(cfg)
	case "sqlite":
		return runSQLiteMigrations(cfg.SQLitePath)
	case "memory":
		logg.Info("store", "Memory store has no schema to migrate")
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func runCassandraMigrations(cfg *config.Config) error {
	dbURL := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)
	return runMigrations("migrations/cassandra", dbURL)
}

func runSQLiteMigrations(path string) error {
	return runMigrations("migrations/sqlite", "sqlite://"+path)
}

// --- Migration runner ---

func runMigrations(dir, dbURL string) error {
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logg.Info("store", "No new migrations to apply")
	} else {
		logg.Info("store", "Migrations applied successfully")
	}
	return nil
}
