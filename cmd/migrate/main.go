// Command migrate applies the registry schema with the goose migrations
// embedded in the binary.
//
//	migrate up
//	migrate down-to 2
//	migrate --database-url postgres://... status
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/mbd888/agentregistry/internal/logging"
	"github.com/mbd888/agentregistry/migrations"
)

type cli struct {
	app *kingpin.Application

	databaseURL *string
	timeout     *time.Duration
	logLevel    *string

	upToVersion   *int64
	downToVersion *int64
}

func newCLI() *cli {
	app := kingpin.New("migrate", "Manage the agent registry PostgreSQL schema.")
	c := &cli{
		app:         app,
		databaseURL: app.Flag("database-url", "PostgreSQL DSN.").Envar("DATABASE_URL").Required().String(),
		timeout:     app.Flag("timeout", "Give up after this long.").Default("2m").Duration(),
		logLevel:    app.Flag("log-level", "debug, info, warn or error.").Envar("LOG_LEVEL").Default("info").String(),
	}

	app.Command("up", "Apply every pending migration.")
	app.Command("down", "Roll back the most recent migration.")
	app.Command("redo", "Roll back and re-apply the most recent migration.")
	app.Command("status", "List migrations and whether each is applied.")
	app.Command("version", "Print the current schema version.")
	c.upToVersion = app.Command("up-to", "Apply migrations up to a version.").
		Arg("version", "Target version.").Required().Int64()
	c.downToVersion = app.Command("down-to", "Roll back to a version.").
		Arg("version", "Target version.").Required().Int64()
	return c
}

// gooseArgs maps a parsed command to goose's command and arguments.
func (c *cli) gooseArgs(command string) (string, []string) {
	switch command {
	case "up-to":
		return command, []string{strconv.FormatInt(*c.upToVersion, 10)}
	case "down-to":
		return command, []string{strconv.FormatInt(*c.downToVersion, 10)}
	default:
		return command, nil
	}
}

func main() {
	_ = godotenv.Load()

	c := newCLI()
	command := kingpin.MustParse(c.app.Parse(os.Args[1:]))
	logger := logging.New(*c.logLevel, "text")

	ctx, cancel := context.WithTimeout(context.Background(), *c.timeout)
	defer cancel()

	if err := run(ctx, *c.databaseURL, c, command); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration finished", "command", command)
}

func run(ctx context.Context, dsn string, c *cli, command string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	gooseCmd, args := c.gooseArgs(command)
	return migrations.Run(ctx, db, gooseCmd, args...)
}
