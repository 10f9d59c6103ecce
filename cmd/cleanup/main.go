package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/irisdrone/parkwatch/config"
	"github.com/irisdrone/parkwatch/database"
	"github.com/irisdrone/parkwatch/services"
	"go.uber.org/zap"
)

func main() {
	days := flag.Int("days", services.DefaultRetentionDays, "keep snapshots newer than this many days")
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.URL, log)
	if err != nil {
		log.Fatal("❌ Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := services.NewSnapshotPruner(db, nil, nil, log).CleanOldSnapshots(ctx, *days)
	if err != nil {
		log.Fatal("❌ Cleanup failed", zap.Error(err))
	}
	log.Info("🧹 Cleanup finished successfully", zap.Int64("deleted", deleted), zap.Int("daysToKeep", *days))
}
