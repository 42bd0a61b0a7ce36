package tempgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// MigrationSet is an ordered, versioned collection of reversible schema
// migrations, typically embedded in the test binary with go:embed. Files
// follow the goose SQL format and are ordered by their numeric version
// prefix.
type MigrationSet struct {
	fsys fs.FS
}

// NewMigrationSet creates a MigrationSet from the .sql files under dir in
// fsys. Pass "." as dir if the files sit at the root of fsys.
func NewMigrationSet(fsys fs.FS, dir string) (*MigrationSet, error) {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration directory %s: %w", dir, err)
	}

	entries, err := fs.Glob(sub, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no .sql migrations found in %s", dir)
	}

	return &MigrationSet{fsys: sub}, nil
}

// Reset brings db to the deterministic baseline schema: it reverts every
// migration currently recorded as applied, then applies the full set in
// ascending order. On a freshly created database the revert pass is a no-op;
// it exists to guard against a reused database name carrying stale history.
//
// Any failing step aborts the whole run with the underlying database error.
// Partial application is not repaired here; the caller must treat the error
// as a fatal provisioning failure.
func (s *MigrationSet) Reset(ctx context.Context, db *sql.DB) error {
	// Provider.Close is deliberately not called: it would close db, which
	// the caller owns.
	provider, err := goose.NewProvider(goose.DialectPostgres, db, s.fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	if _, err := provider.DownTo(ctx, 0); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
