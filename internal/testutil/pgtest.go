// Package testutil holds integration test fixtures.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	gooseTable    = "goose_db_version"
)

// Postgres returns a migrated database for an integration test and empties
// its tables when the test ends.
//
// POSTGRES_URL selects an existing server. Without it the test is skipped,
// unless PGTEST_CONTAINERS=1 asks for a throwaway container.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		if os.Getenv("PGTEST_CONTAINERS") != "1" {
			t.Skip("POSTGRES_URL not set")
		}
		dsn = startContainer(ctx, t)
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "open database")
	t.Cleanup(func() { _ = db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(pingCtx), "connect to database")

	require.NoError(t, goose.SetDialect("postgres"))
	goose.SetLogger(goose.NopLogger())
	require.NoError(t, goose.UpContext(ctx, db, migrationsDir(t)), "apply migrations")

	t.Cleanup(func() { truncate(ctx, t, db) })
	return db
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("coverage"),
		postgres.WithUsername("coverage"),
		postgres.WithPassword("coverage"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start %s", postgresImage)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// migrationsDir resolves migrations/ relative to this source file, so the
// result does not depend on which package's test is running.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok, "locate testutil source")
	dir := filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir(), "%s is not a directory", dir)
	return dir
}

// truncate empties the application tables. goose's version table survives
// so later tests skip the migrations.
func truncate(ctx context.Context, t *testing.T, db *sql.DB) {
	rows, err := db.QueryContext(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename <> $1`, gooseTable)
	if err != nil {
		t.Logf("list tables: %v", err)
		return
	}
	var tables []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			tables = append(tables, name)
		}
	}
	_ = rows.Close()
	if len(tables) == 0 {
		return
	}

	stmt := "TRUNCATE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE" // #nosec G202 -- names come from pg_tables
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		t.Logf("truncate: %v", err)
	}
}
