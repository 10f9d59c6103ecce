package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/irisdrone/parkwatch/config"
	"github.com/irisdrone/parkwatch/database"
	"github.com/irisdrone/parkwatch/handlers"
	"github.com/irisdrone/parkwatch/metrics"
	"github.com/irisdrone/parkwatch/natsserver"
	"github.com/irisdrone/parkwatch/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

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

	if err := run(cfg, log); err != nil {
		log.Fatal("❌ Failed to start server", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Embedded NATS carries zone, occupancy and snapshot events
	ns, err := natsserver.New(natsserver.Config{Port: cfg.NATS.Port}, log)
	if err != nil {
		return err
	}
	defer ns.Shutdown()

	feedHub := services.NewFeedHub(ns.Conn(), m, log)
	go feedHub.Run(ctx)

	clock := quartz.NewReal()
	detector := services.NewDetectorClient(cfg.Detector.URL, cfg.Detector.Timeout, m, log)
	store := services.NewOccupancyStore(db, ns, log)
	detectionSync := services.NewDetectionSync(store, detector, ns, clock, m, log)
	recorder := services.NewSnapshotRecorder(db, clock, loc, ns, m, log)
	pruner := services.NewSnapshotPruner(db, clock, m, log)

	scheduler := services.NewScheduler(recorder, pruner, services.SchedulerConfig{
		SnapshotInterval:  cfg.Snapshot.Interval,
		RetentionDays:     cfg.RetentionDays(),
		RetentionInterval: cfg.Retention.Interval,
	}, clock, m, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// The detector may have restarted with an empty zone table
	go func() {
		if err := detectionSync.ResyncAll(ctx); err != nil {
			log.Warn("⚠️ Initial zone resync incomplete", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handlers.New(handlers.Deps{
		Store:    store,
		Sync:     detectionSync,
		Live:     services.NewLiveStatus(store, detector, cfg.Status.CacheTTL, m, log),
		Recorder: recorder,
		History:  services.NewHistoryAggregator(db, clock, loc, log),
		Pruner:   pruner,
		Feeds:    feedHub,
		Clock:    clock,
		Log:      log,
	}).Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("🚀 Server running", zap.String("addr", "http://localhost:"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
