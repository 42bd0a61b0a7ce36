// Package tempgres provisions fully isolated, disposable PostgreSQL databases
// for integration tests.
//
// Each [TestDB] owns exactly one uniquely named database on the target server.
// Construction blocks until the database exists and the configured migration
// set has been applied, so a ready instance always has a deterministic schema.
// Teardown terminates any lingering backend sessions against the database and
// drops it, so nothing survives a test run on the shared server.
//
// # Basic Usage
//
// The typical pattern provisions a database per test (or per package in
// TestMain) and lets the library tear it down at scope exit:
//
//	//go:embed migrations/*.sql
//	var migrationsFS embed.FS
//
//	func TestUserRepository(t *testing.T) {
//		ctx := context.Background()
//
//		migrations, err := tempgres.NewMigrationSet(migrationsFS, "migrations")
//		if err != nil {
//			t.Fatal(err)
//		}
//
//		db := tempgres.Setup(t, &tempgres.Config{
//			Host:       "localhost",
//			Port:       5432,
//			User:       "postgres",
//			Password:   "postgres",
//			Migrations: migrations,
//		})
//
//		pool, err := db.Pool(ctx)
//		if err != nil {
//			t.Fatal(err)
//		}
//
//		_, err = pool.Exec(ctx, "INSERT INTO users (name) VALUES ($1)", "Alice")
//		if err != nil {
//			t.Fatal(err)
//		}
//	}
//
// Outside of tests, use [New] and call [TestDB.Close] yourself, typically via
// defer. Close must run exactly once; a second call returns an error rather
// than silently succeeding, because a double teardown indicates a bug in the
// caller's lifecycle handling.
//
// # Migrations
//
// Migrations are supplied as a versioned, ordered set of goose SQL files
// (NNNNN_name.sql with -- +goose Up / -- +goose Down sections), usually
// embedded with go:embed so tests need no filesystem access at run time.
// [MigrationSet.Reset] first reverts every recorded migration and then applies
// all of them in ascending order, producing the same schema whether the
// database is brand new or its name was somehow reused on the server.
//
// # Failure Policy
//
// Every failure is fatal to the operation that hit it: unreachable server,
// duplicate database name ([ErrDatabaseExists]), failed migration step, failed
// backend termination or drop. Nothing is retried and nothing is swallowed —
// the caller is a test harness, and a masked provisioning or teardown error
// means tests run against a corrupt fixture or leak databases on the server.
//
// # Requirements
//
//   - PostgreSQL 12 or higher
//   - a role allowed to CREATE DATABASE and to terminate its own backends
package tempgres
