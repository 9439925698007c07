// Package testutil provides a migrated Postgres database to integration
// tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/agentregistry/internal/idgen"
	"github.com/mbd888/agentregistry/migrations"
)

const image = "postgres:16-alpine"

// server is shared by every test in the binary; the container reaper removes
// it when the process exits.
var server struct {
	once sync.Once
	dsn  string
	err  error
}

func baseDSN(ctx context.Context) (string, error) {
	if dsn := os.Getenv("POSTGRES_URL"); dsn != "" {
		return dsn, nil
	}
	server.once.Do(func() {
		ctr, err := tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase("agentregistry"),
			tcpostgres.WithUsername("registry"),
			tcpostgres.WithPassword("registry"),
			tcpostgres.BasicWaitStrategies(),
			testcontainers.WithEnv(map[string]string{"TZ": "UTC", "PGTZ": "UTC"}),
		)
		if err != nil {
			server.err = err
			return
		}
		server.dsn, server.err = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	return server.dsn, server.err
}

// PGTest returns a handle on a schema private to t, already migrated, and a
// cleanup that drops it. POSTGRES_URL selects an existing server; otherwise
// one container is started per test binary. Without either the test is
// skipped.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn, err := baseDSN(ctx)
	if err != nil {
		t.Skipf("no POSTGRES_URL and no container runtime: %v", err)
	}

	admin, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	schema := "t_" + idgen.New()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("pgtest: create schema: %v", err)
	}

	drop := func() {
		_, _ = admin.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close()
	}

	scoped, err := withSearchPath(dsn, schema)
	if err != nil {
		drop()
		t.Fatalf("pgtest: %v", err)
	}
	db, err := sql.Open("postgres", scoped)
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err == nil {
		err = migrations.Up(ctx, db)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		drop()
		t.Fatalf("pgtest: prepare %s: %v", schema, err)
	}

	return db, func() {
		_ = db.Close()
		drop()
	}
}

// withSearchPath points every connection opened from dsn at schema.
func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
