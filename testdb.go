package tempgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

// adminDatabase is the maintenance database used for CREATE DATABASE and
// DROP DATABASE. The target database cannot be created or dropped by a
// connection that is itself connected to it.
const adminDatabase = "postgres"

// ErrDatabaseExists is returned by New when the generated database name
// already exists on the server. With 128-bit random names this indicates
// either astronomically bad luck or leftover state from a previous run;
// either way the instance is not usable and no rename or retry is attempted.
var ErrDatabaseExists = errors.New("database already exists")

// TestDB is one ephemeral database on a PostgreSQL server. A ready instance
// owns exactly one physical database, schema-migrated to the full in-order
// application of its migration set, and drops it exactly once on Close.
//
// A TestDB is not designed for concurrent Close calls, but the connection
// pools it hands out are safe for concurrent use by parallel test code.
type TestDB struct {
	config *Config
	name   string

	mu      sync.Mutex
	closers []func() error // pools handed out, closed before drop
	closed  bool
}

// New provisions an ephemeral database: it generates a unique name, creates
// the database through an administrative connection, and applies the full
// migration set. It blocks until the database is fully usable; callers never
// observe a partially created instance.
//
// Any failure is fatal to provisioning. If migrations fail after the database
// was created, the database is dropped again before the error is returned so
// the server is not polluted with a half-provisioned leftover.
func New(ctx context.Context, config *Config) (*TestDB, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db := &TestDB{
		config: config,
		name:   newDatabaseName(),
	}

	if err := db.create(ctx); err != nil {
		return nil, err
	}

	if err := db.migrate(ctx); err != nil {
		// Sweep the half-provisioned database so it does not leak.
		if dropErr := db.terminateAndDrop(ctx); dropErr != nil {
			err = multierror.Append(err, dropErr)
		}
		return nil, err
	}

	return db, nil
}

// Setup provisions an ephemeral database and registers its teardown with
// tb.Cleanup, so the database is guaranteed to be dropped when the test
// scope ends. Any provisioning or teardown failure fails the test.
func Setup(tb testing.TB, config *Config) *TestDB {
	tb.Helper()

	ctx := context.Background()
	db, err := New(ctx, config)
	if err != nil {
		tb.Fatalf("failed to provision test database: %v", err)
	}
	tb.Cleanup(func() {
		if err := db.Close(context.Background()); err != nil {
			tb.Errorf("failed to tear down test database %s: %v", db.Name(), err)
		}
	})
	return db
}

// Name returns the generated database name.
func (db *TestDB) Name() string {
	return db.name
}

// ServerURL returns the URL of the server-level administrative endpoint,
// without a database selected. The password segment is omitted entirely when
// the password is empty.
func (db *TestDB) ServerURL() string {
	c := db.config
	if c.Password == "" {
		return fmt.Sprintf("postgres://%s@%s:%d", c.User, c.Host, c.Port)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
}

// URL returns the operational URL of the ephemeral database itself.
func (db *TestDB) URL() string {
	return fmt.Sprintf("%s/%s", db.ServerURL(), db.name)
}

// Close tears the database down: it closes every pool handed out by this
// instance, forcibly terminates any remaining backend sessions against the
// database, and drops it. It blocks until the database is fully removed.
//
// Close is designed to run exactly once. A second call returns an error
// immediately; it never silently succeeds, since reaching it means the
// caller's lifecycle handling is broken. Teardown failures are likewise
// returned loudly because they leak a real database on the shared server.
func (db *TestDB) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return fmt.Errorf("test database %s is already closed", db.name)
	}
	db.closed = true
	closers := db.closers
	db.closers = nil
	db.mu.Unlock()

	var result *multierror.Error
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close pool: %w", err))
		}
	}

	if err := db.terminateAndDrop(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// create opens a short-lived administrative connection and creates the
// database. A duplicate name is reported as ErrDatabaseExists.
func (db *TestDB) create(ctx context.Context) error {
	conn, err := db.connectAdmin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()

	_, err = conn.Exec(ctx, fmt.Sprintf(
		"CREATE DATABASE %s",
		pgx.Identifier{db.name}.Sanitize(),
	))
	if err != nil {
		if isDuplicateDatabase(err) {
			return fmt.Errorf("failed to create database %s: %w", db.name, ErrDatabaseExists)
		}
		return fmt.Errorf("failed to create database %s: %w", db.name, err)
	}

	return nil
}

// migrate opens an operational connection to the new database and brings it
// to the baseline schema.
func (db *TestDB) migrate(ctx context.Context) error {
	connConfig, err := pgx.ParseConfig(db.URL())
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	sqlDB := stdlib.OpenDB(*connConfig)
	defer func() { _ = sqlDB.Close() }()

	if err := db.config.Migrations.Reset(ctx, sqlDB); err != nil {
		return fmt.Errorf("failed to migrate database %s: %w", db.name, err)
	}

	return nil
}

// terminateAndDrop forcibly closes every backend session connected to the
// database except the terminator's own, then drops the database. Both steps
// run on a short-lived administrative connection; the server refuses to drop
// a database with active connections, so the termination must come first.
func (db *TestDB) terminateAndDrop(ctx context.Context) error {
	conn, err := db.connectAdmin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()

	_, err = conn.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()
	`, db.name)
	if err != nil {
		return fmt.Errorf("failed to terminate backends of %s: %w", db.name, err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(
		"DROP DATABASE %s",
		pgx.Identifier{db.name}.Sanitize(),
	))
	if err != nil {
		return fmt.Errorf("failed to drop database %s: %w", db.name, err)
	}

	return nil
}

// connectAdmin opens a direct connection to the maintenance database on the
// server endpoint. Connection failure means the environment is misconfigured
// and is surfaced immediately; nothing is retried.
func (db *TestDB) connectAdmin(ctx context.Context) (*pgx.Conn, error) {
	url := fmt.Sprintf("%s/%s", db.ServerURL(), adminDatabase)
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", db.ServerURL(), err)
	}
	return conn, nil
}

// registerCloser records a pool to be closed before the database is dropped.
// It fails if the instance is already closed so a late Pool call cannot leave
// a dangling connection behind.
func (db *TestDB) registerCloser(close func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return fmt.Errorf("test database %s is already closed", db.name)
	}
	db.closers = append(db.closers, close)
	return nil
}

// isDuplicateDatabase reports whether err is the server rejecting CREATE
// DATABASE because the name is taken (SQLSTATE 42P04).
func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateDatabase
}
