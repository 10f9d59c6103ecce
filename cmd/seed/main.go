package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/irisdrone/parkwatch/config"
	"github.com/irisdrone/parkwatch/database"
	"github.com/irisdrone/parkwatch/models"
	"github.com/irisdrone/parkwatch/services"
	"go.uber.org/zap"
)

type demoCamera struct {
	name        string
	description string
	streamURL   string
	spaces      int
}

var demoCameras = []demoCamera{
	{name: "Camera 08 (Main)", description: "Main entrance - Zone A", streamURL: "cam-08", spaces: 10},
	{name: "Camera 01 (Side)", description: "Side lot - Zone B", streamURL: "cam-01", spaces: 8},
}

// Grid layout in frame pixels
const (
	gridColumns = 5
	spaceWidth  = 90
	spaceHeight = 140
	gridOriginX = 30
	gridOriginY = 350
	gridGap     = 10
)

// gridZones lays out n rectangular spaces, numbered from 1, left to right
func gridZones(n int) []services.ZoneInput {
	zones := make([]services.ZoneInput, n)
	for i := range zones {
		col, row := i%gridColumns, i/gridColumns
		x := float64(gridOriginX + col*(spaceWidth+gridGap))
		y := float64(gridOriginY + row*(spaceHeight+gridGap))
		zones[i] = services.ZoneInput{
			Name:        fmt.Sprintf("Space %d", i+1),
			SpaceNumber: i + 1,
			Coordinates: models.Polygon{
				{X: x, Y: y},
				{X: x + spaceWidth, Y: y},
				{X: x + spaceWidth, Y: y + spaceHeight},
				{X: x, Y: y + spaceHeight},
			},
		}
	}
	return zones
}

func main() {
	noSync := flag.Bool("no-sync", false, "do not push zones to the detector")
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

	store := services.NewOccupancyStore(db, nil, log)
	if !*noSync {
		detector := services.NewDetectorClient(cfg.Detector.URL, cfg.Detector.Timeout, nil, log)
		services.NewDetectionSync(store, detector, nil, nil, nil, log)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Info("🌱 Starting parking seed", zap.Bool("sync", !*noSync))
	if err := seed(ctx, store, log); err != nil {
		log.Fatal("❌ Seed failed", zap.Error(err))
	}
	log.Info("✅ Seed finished")
}

func seed(ctx context.Context, store *services.OccupancyStore, log *zap.Logger) error {
	existing, err := store.ListCameras(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]models.Camera, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}

	for _, demo := range demoCameras {
		camera, ok := byName[demo.name]
		if !ok {
			created, err := store.CreateCamera(ctx, services.CameraInput{
				Name:        demo.name,
				Description: &demo.description,
				StreamURL:   &demo.streamURL,
			})
			if err != nil {
				return fmt.Errorf("create camera %q: %w", demo.name, err)
			}
			camera = *created
			log.Info("✨ Camera created", zap.String("name", camera.Name), zap.String("id", camera.ID))
		}

		if len(camera.ParkingZones) > 0 {
			log.Info("⚠️ Camera already has zones, skipping", zap.String("name", camera.Name))
			continue
		}

		zones, err := store.BulkCreateZones(ctx, camera.ID, gridZones(demo.spaces))
		switch {
		case errors.Is(err, services.ErrSyncFailure):
			// zones are stored; the server resyncs them on startup
			log.Warn("⚠️ Zones created but detector sync failed", zap.String("name", camera.Name), zap.Error(err))
		case err != nil:
			return fmt.Errorf("create zones for %q: %w", demo.name, err)
		}
		log.Info("📦 Zones created", zap.String("name", camera.Name), zap.Int("count", len(zones)))
	}
	return nil
}
