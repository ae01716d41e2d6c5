package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"

	"github.com/lapak-dev/backend-lapak/internal/app"
)

func main() {
	var (
		source = flag.String("source", "file://db/migrations", "migration source URL")
		down   = flag.Bool("down", false, "roll back the most recent migration instead of applying")
		steps  = flag.Int("steps", 0, "apply exactly n steps (negative rolls back); 0 means all the way up")
	)
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New(*source, dbURL)
	if err != nil {
		log.Fatalf("open migrations: %v", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Printf("close migrations: source=%v database=%v", srcErr, dbErr)
		}
	}()

	switch {
	case *steps != 0:
		err = m.Steps(*steps)
	case *down:
		err = m.Steps(-1)
	default:
		err = app.RunMigrations(m)
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no pending migrations")
			return
		}
		log.Fatalf("migrate: %v", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil {
		if errors.Is(verr, migrate.ErrNilVersion) {
			log.Println("schema has no applied migrations")
			return
		}
		log.Printf("read version: %v", verr)
		return
	}
	log.Printf("schema at version %d (dirty=%v)", version, dirty)
}
