// Package testhelper provides shared setup for tempgres integration tests:
// server coordinates from the environment and an embedded todos migration set.
package testhelper

import (
	"context"
	"embed"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/tempgres/tempgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the embedded todos migration set used by the test suite.
func Migrations(tb testing.TB) *tempgres.MigrationSet {
	tb.Helper()

	set, err := tempgres.NewMigrationSet(migrationsFS, "migrations")
	if err != nil {
		tb.Fatalf("failed to load test migrations: %v", err)
	}
	return set
}

// Config returns a Config pointing at the PostgreSQL server described by the
// conventional PG* environment variables, with the embedded todos migration
// set attached. It fails the test immediately if the server is unreachable;
// the integration suite requires a running server and must not degrade
// silently.
func Config(tb testing.TB) *tempgres.Config {
	tb.Helper()

	config, err := tempgres.ConfigFromEnv()
	if err != nil {
		tb.Fatalf("failed to read server coordinates: %v", err)
	}
	config.Migrations = Migrations(tb)

	conn := adminConnect(tb, config)
	if err := conn.Ping(context.Background()); err != nil {
		tb.Fatalf("PostgreSQL not available: %v", err)
	}
	return config
}

// DatabaseExists reports whether a database with the given name exists on
// the server described by config.
func DatabaseExists(tb testing.TB, config *tempgres.Config, name string) bool {
	tb.Helper()

	conn := adminConnect(tb, config)

	var exists bool
	err := conn.QueryRow(context.Background(),
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name,
	).Scan(&exists)
	if err != nil {
		tb.Fatalf("failed to check database existence: %v", err)
	}
	return exists
}

// EphemeralDatabaseCount counts databases on the server whose name carries
// the generated test_ prefix.
func EphemeralDatabaseCount(tb testing.TB, config *tempgres.Config) int {
	tb.Helper()

	conn := adminConnect(tb, config)

	var count int
	err := conn.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM pg_database WHERE datname LIKE 'test\_%'`,
	).Scan(&count)
	if err != nil {
		tb.Fatalf("failed to count ephemeral databases: %v", err)
	}
	return count
}

// BackendCount returns the number of backend sessions currently connected to
// the named database, excluding the counting connection itself.
func BackendCount(tb testing.TB, config *tempgres.Config, name string) int {
	tb.Helper()

	conn := adminConnect(tb, config)

	var count int
	err := conn.QueryRow(context.Background(), `
		SELECT COUNT(*)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, name).Scan(&count)
	if err != nil {
		tb.Fatalf("failed to count backends: %v", err)
	}
	return count
}

// adminConnect opens a connection to the postgres maintenance database with
// full privileges, closed automatically at test cleanup.
func adminConnect(tb testing.TB, config *tempgres.Config) *pgx.Conn {
	tb.Helper()

	url := adminURL(config)
	conn, err := pgx.Connect(context.Background(), url)
	if err != nil {
		tb.Fatalf("failed to connect to %s: %v", url, err)
	}
	tb.Cleanup(func() {
		_ = conn.Close(context.Background())
	})
	return conn
}

func adminURL(config *tempgres.Config) string {
	if config.Password == "" {
		return fmt.Sprintf("postgres://%s@%s:%d/postgres", config.User, config.Host, config.Port)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/postgres",
		config.User, config.Password, config.Host, config.Port)
}
