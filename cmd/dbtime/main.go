// Command dbtime prints the database clock and timezone next to the zone the
// server uses for snapshot hour buckets.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/irisdrone/parkwatch/config"
	"github.com/irisdrone/parkwatch/database"
	"go.uber.org/zap"
)

func main() {
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

	var dbNow, dbTZ string
	switch cfg.Database.Driver {
	case database.DriverSQLite:
		db.Raw("SELECT datetime('now')").Scan(&dbNow)
		dbTZ = "UTC (sqlite)"
	default:
		db.Raw("SELECT NOW()::text").Scan(&dbNow)
		db.Raw("SHOW timezone").Scan(&dbTZ)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("❌ Invalid timezone", zap.Error(err))
	}
	now := time.Now()

	fmt.Printf("DB Time:                 %s\n", dbNow)
	fmt.Printf("DB Configured Timezone:  %s\n", dbTZ)
	fmt.Printf("App Time (UTC):          %s\n", now.UTC().Format(time.RFC3339))
	fmt.Printf("Snapshot Timezone:       %s\n", loc)
	fmt.Printf("Snapshot Hour Bucket:    %d\n", now.In(loc).Hour())
}
