package main

import (
	"context"
	"log"
	"os"
	"time"

	"chapel-auth/config"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer db.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "up":
		if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
			logger.Fatalf("migrations: %v", err)
		}
		logger.Printf("migrations applied")
	case "status":
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		status, err := store.GetMigrationStatus(ctx, db)
		if err != nil {
			logger.Fatalf("migration status: %v", err)
		}
		logger.Printf("dialect=%s current=%d latest=%d pending=%t",
			status.Dialect, status.CurrentVersion, status.LatestVersion, status.HasPending)
	default:
		logger.Fatalf("unknown command %q (use up or status)", cmd)
	}
}
