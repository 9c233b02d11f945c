package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"

	"github.com/kwesidev/backend-bundles/db"
)

// Applies the embedded schema migrations. Supports "up" (default) and
// "down" which rolls back a single step.
func main() {
	_ = godotenv.Load()

	direction := flag.String("direction", "up", "up or down")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	src, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		log.Fatalf("load migrations: %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, pgxURL(dbURL))
	if err != nil {
		log.Fatalf("initialise migrator: %v", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	switch *direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		log.Fatalf("unknown direction %q", *direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate %s: %v", *direction, err)
	}
	log.Printf("migrate %s complete", *direction)
}

// pgxURL rewrites a postgres:// connection string to the scheme the pgx/v5
// migrate driver registers under.
func pgxURL(raw string) string {
	if strings.HasPrefix(raw, "postgresql://") {
		return "pgx5://" + strings.TrimPrefix(raw, "postgresql://")
	}
	if strings.HasPrefix(raw, "postgres://") {
		return "pgx5://" + strings.TrimPrefix(raw, "postgres://")
	}
	return raw
}
