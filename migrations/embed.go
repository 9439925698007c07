// Package migrations embeds the goose SQL migrations so binaries and tests
// can apply them without a checkout.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Run executes a goose command ("up", "down", "status", ...) against db using
// the embedded migrations.
func Run(ctx context.Context, db *sql.DB, command string, args ...string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("migrations: %s: %w", command, err)
	}
	return nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	return Run(ctx, db, "up")
}
