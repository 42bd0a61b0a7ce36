package tempgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Pool builds a bounded connection pool on the ephemeral database. Pool
// exhaustion blocks the acquiring caller until a connection frees up (or the
// caller's context expires) rather than failing immediately. The pool may be
// requested any number of times; every pool handed out is closed
// automatically when the TestDB is closed, before the database is dropped.
func (db *TestDB) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(db.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if db.config.MaxConns > 0 {
		poolConfig.MaxConns = db.config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for %s: %w", db.name, err)
	}

	// NewWithConfig does not dial; make the pool fail at construction time
	// on bad coordinates instead of on first use.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", db.name, err)
	}

	if err := db.registerCloser(func() error {
		pool.Close()
		return nil
	}); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// DB builds a database/sql handle on the ephemeral database for consumers of
// the standard interface. The handle shares the lifecycle rules of Pool: it
// is bounded by Config.MaxConns and closed automatically on Close.
func (db *TestDB) DB(ctx context.Context) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(db.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	sqlDB := stdlib.OpenDB(*connConfig)
	if db.config.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(db.config.MaxConns))
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", db.name, err)
	}

	if err := db.registerCloser(sqlDB.Close); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return sqlDB, nil
}
