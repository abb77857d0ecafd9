//go:build integration

// Package dbtest starts a migrated Postgres for integration tests.
//
// Run with: go test -tags=integration ./...
//
// DATABASE_URL, when set, is used instead of starting a container. The
// database it points to must already have migrations/ applied.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/esign/internal/db"
)

// Image is the Postgres image used for integration tests.
const Image = "postgres:16-alpine"

// MigrationsDir returns the absolute path of the repository's migrations.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

// Postgres returns a connection to a freshly migrated database. The test is
// skipped when Docker is unavailable.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		conn, err := db.Open(ctx, dsn, db.DefaultPoolConfig())
		if err != nil {
			t.Fatalf("failed to open DATABASE_URL: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	up, err := filepath.Glob(filepath.Join(MigrationsDir(), "*.up.sql"))
	if err != nil || len(up) == 0 {
		t.Fatalf("no migrations found in %s: %v", MigrationsDir(), err)
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("esign"),
		postgres.WithUsername("esign"),
		postgres.WithPassword("esign"),
		postgres.WithInitScripts(up...),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable (is Docker running?): %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	cfg := db.DefaultPoolConfig()
	cfg.PingTimeout = 30 * time.Second
	conn, err := db.Open(ctx, dsn, cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres container: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
