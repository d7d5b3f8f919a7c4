package main

import (
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"trip-route-service/internal/adapters/repositories"
	"trip-route-service/internal/config"
	"trip-route-service/internal/platform/db"
	"trip-route-service/internal/platform/logging"
)

// dbtool prepares a PostgreSQL database: schema plus the seed trip.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	logger, err := logging.New(logging.Config{Level: config.Get("LOG_LEVEL", "info"), Format: "console"})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	databaseURL := config.Get("DATABASE_URL", "")
	if strings.TrimSpace(databaseURL) == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	conn, err := db.Open(databaseURL)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	seedPath := config.Get("SEED_PATH", "data/seeds/locations.json")
	if err := initAndSeed(conn, seedPath, logger); err != nil {
		logger.Fatal("prepare database", zap.Error(err))
	}
}

func initAndSeed(conn *sql.DB, seedPath string, logger *zap.Logger) error {
	logger.Info("initializing database schema")
	if err := repositories.InitSchema(conn); err != nil {
		return err
	}
	logger.Info("schema ready")

	logger.Info("seeding database", zap.String("path", seedPath))
	if err := repositories.SeedFromJSON(conn, db.Postgres, seedPath, time.Now()); err != nil {
		return err
	}
	logger.Info("seeding complete")
	return nil
}
