package tempgres_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/tempgres/tempgres"
	"github.com/tempgres/tempgres/internal/testhelper"
)

func TestNew(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	config := testhelper.Config(t)

	t.Run("ProvisionsMigratedDatabase", func(t *testing.T) {
		db, err := tempgres.New(ctx, config)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close(context.Background()) })

		require.True(t, strings.HasPrefix(db.Name(), "test_"))
		require.True(t, testhelper.DatabaseExists(t, config, db.Name()),
			"database should exist on the server once New returns")

		// New blocks until migrated, so the schema is queryable immediately.
		conn, err := pgx.Connect(ctx, db.URL())
		require.NoError(t, err)
		defer func() { _ = conn.Close(ctx) }()

		var count int
		err = conn.QueryRow(ctx, "SELECT COUNT(*) FROM todos").Scan(&count)
		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("returns error if nil is given", func(t *testing.T) {
		_, err := tempgres.New(ctx, nil)
		require.Error(t, err)
	})

	t.Run("returns error if invalid config is given", func(t *testing.T) {
		_, err := tempgres.New(ctx, &tempgres.Config{Host: "localhost"})
		require.Error(t, err)
	})

	t.Run("DistinctNames", func(t *testing.T) {
		first := tempgres.Setup(t, config)
		second := tempgres.Setup(t, config)
		require.NotEqual(t, first.Name(), second.Name())
	})
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	config := testhelper.Config(t)
	config.Host = "unreachable.invalid"

	_, err := tempgres.New(ctx, config)
	require.Error(t, err, "an unreachable server must fail provisioning before anything is created")
}

func TestNew_MigrationFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	config := testhelper.Config(t)

	broken, err := tempgres.NewMigrationSet(fstest.MapFS{
		"00001_broken.sql": &fstest.MapFile{
			Data: []byte("-- +goose Up\nCREATE TABLE broken (id WAT);\n-- +goose Down\nDROP TABLE broken;\n"),
		},
	}, ".")
	require.NoError(t, err)
	config.Migrations = broken

	before := testhelper.EphemeralDatabaseCount(t, config)

	_, err = tempgres.New(ctx, config)
	require.Error(t, err, "a failing migration step must abort provisioning")

	require.Equal(t, before, testhelper.EphemeralDatabaseCount(t, config),
		"the half-provisioned database should be swept, not leaked")
}

func TestClose(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	config := testhelper.Config(t)

	t.Run("DropsDatabase", func(t *testing.T) {
		db, err := tempgres.New(ctx, config)
		require.NoError(t, err)
		name := db.Name()

		require.NoError(t, db.Close(ctx))
		require.False(t, testhelper.DatabaseExists(t, config, name),
			"database should be gone after Close")

		// Per the data model: connecting to the dropped database fails.
		_, err = pgx.Connect(ctx, db.URL())
		require.Error(t, err)
	})

	t.Run("TerminatesLingeringBackends", func(t *testing.T) {
		db, err := tempgres.New(ctx, config)
		require.NoError(t, err)
		name := db.Name()

		// A stale session opened outside the instance's pools. Close must
		// evict it or DROP DATABASE would be refused.
		stale, err := pgx.Connect(ctx, db.URL())
		require.NoError(t, err)
		defer func() { _ = stale.Close(context.Background()) }()

		require.NoError(t, db.Close(ctx))
		require.False(t, testhelper.DatabaseExists(t, config, name))
		require.Zero(t, testhelper.BackendCount(t, config, name),
			"no backend should remain connected to the dropped database")
	})

	t.Run("ClosesHandedOutPools", func(t *testing.T) {
		db, err := tempgres.New(ctx, config)
		require.NoError(t, err)

		pool, err := db.Pool(ctx)
		require.NoError(t, err)

		require.NoError(t, db.Close(ctx))

		require.Error(t, pool.Ping(ctx), "pools must be unusable after Close")
	})

	t.Run("SecondCloseFails", func(t *testing.T) {
		db, err := tempgres.New(ctx, config)
		require.NoError(t, err)

		require.NoError(t, db.Close(ctx))

		err = db.Close(ctx)
		require.Error(t, err, "a second Close must fail loudly, not silently succeed")
		require.Contains(t, err.Error(), "already closed")
	})
}

func TestEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	config := testhelper.Config(t)

	db, err := tempgres.New(ctx, config)
	require.NoError(t, err)
	name := db.Name()

	pool, err := db.Pool(ctx)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		"INSERT INTO todos (title, completed) VALUES ($1, $2)", "write tests", true)
	require.NoError(t, err)

	rows, err := pool.Query(ctx, "SELECT title, completed FROM todos")
	require.NoError(t, err)
	defer rows.Close()

	type todo struct {
		title     string
		completed bool
	}
	var todos []todo
	for rows.Next() {
		var td todo
		require.NoError(t, rows.Scan(&td.title, &td.completed))
		todos = append(todos, td)
	}
	require.NoError(t, rows.Err())
	rows.Close()

	require.Len(t, todos, 1)
	require.Equal(t, "write tests", todos[0].title)
	require.True(t, todos[0].completed)

	require.NoError(t, db.Close(ctx))
	require.False(t, testhelper.DatabaseExists(t, config, name))
}

func TestConcurrentInstances(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	config := testhelper.Config(t)

	const workers = 4
	names := make(chan string, workers)

	for i := 0; i < workers; i++ {
		t.Run(fmt.Sprintf("worker_%d", i), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			db := tempgres.Setup(t, config)
			names <- db.Name()

			pool, err := db.Pool(ctx)
			require.NoError(t, err)

			_, err = pool.Exec(ctx, "INSERT INTO todos (title) VALUES ('isolated')")
			require.NoError(t, err)

			var count int
			err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM todos").Scan(&count)
			require.NoError(t, err)
			require.Equal(t, 1, count, "each instance sees only its own rows")
		})
	}

	t.Cleanup(func() {
		close(names)
		seen := make(map[string]struct{})
		for name := range names {
			_, dup := seen[name]
			require.False(t, dup, "concurrent instances collided on name %s", name)
			seen[name] = struct{}{}
		}
	})
}
