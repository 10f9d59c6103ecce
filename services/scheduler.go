package services

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/metrics"
	"go.uber.org/zap"
)

// Ticker tags, used to trap tickers in tests
const (
	TagSnapshotTicker  = "snapshot"
	TagRetentionTicker = "retention"
)

// DefaultSnapshotInterval is the reference snapshot period
const DefaultSnapshotInterval = 10 * time.Minute

// SchedulerConfig controls the periodic jobs
type SchedulerConfig struct {
	SnapshotInterval  time.Duration
	RetentionDays     int           // 0 disables pruning
	RetentionInterval time.Duration // 0 disables pruning
}

// Scheduler fires snapshot passes on a fixed period. Passes never overlap: a
// tick that comes due while its previous pass is still running is skipped, and
// a tick or RunOnce that meets a pass from elsewhere waits on the recorder. A
// failed pass is logged and the next tick proceeds.
type Scheduler struct {
	recorder *SnapshotRecorder
	pruner   *SnapshotPruner
	cfg      SchedulerConfig
	clock    quartz.Clock
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	waiters []quartz.Waiter
}

// NewScheduler creates a stopped scheduler; pruner may be nil
func NewScheduler(recorder *SnapshotRecorder, pruner *SnapshotPruner, cfg SchedulerConfig, clock quartz.Clock, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		recorder: recorder,
		pruner:   pruner,
		cfg:      cfg,
		clock:    clock,
		metrics:  m,
		log:      log.With(zap.String("component", "scheduler")),
	}
}

// Start launches the tickers. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.waiters = append(s.waiters, s.clock.TickerFunc(ctx, s.cfg.SnapshotInterval, func() error {
		s.runSnapshotPass(ctx)
		return nil
	}, TagSnapshotTicker))

	if s.pruningEnabled() {
		s.waiters = append(s.waiters, s.clock.TickerFunc(ctx, s.cfg.RetentionInterval, func() error {
			s.runRetention(ctx)
			return nil
		}, TagRetentionTicker))
	}

	s.log.Info("⏰ Snapshot scheduler started",
		zap.Duration("interval", s.cfg.SnapshotInterval),
		zap.Bool("retention", s.pruningEnabled()),
		zap.Int("retentionDays", s.cfg.RetentionDays))
}

// Stop cancels the tickers and waits for a running pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, waiters := s.cancel, s.waiters
	s.cancel, s.waiters = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for _, w := range waiters {
		_ = w.Wait()
	}
	s.log.Info("🛑 Snapshot scheduler stopped")
}

// RunOnce executes one snapshot pass outside the ticker, after any pass in
// flight
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.recorder.SaveAllCamerasSnapshots(ctx)
	return err
}

func (s *Scheduler) pruningEnabled() bool {
	return s.pruner != nil && s.cfg.RetentionDays > 0 && s.cfg.RetentionInterval > 0
}

func (s *Scheduler) runSnapshotPass(ctx context.Context) {
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("❌ Snapshot pass panicked", zap.Any("panic", r))
			s.metrics.RecordSchedulerTick(metrics.ResultError, s.clock.Since(start))
		}
	}()

	saved, err := s.recorder.SaveAllCamerasSnapshots(ctx)
	if err != nil {
		s.log.Error("❌ Scheduled snapshot pass failed", zap.Error(err))
		s.metrics.RecordSchedulerTick(metrics.ResultError, s.clock.Since(start))
		return
	}
	s.metrics.RecordSchedulerTick(metrics.ResultSuccess, s.clock.Since(start))
	s.log.Debug("✅ Scheduled snapshot pass done", zap.Int("snapshots", len(saved)))
}

func (s *Scheduler) runRetention(ctx context.Context) {
	if _, err := s.pruner.CleanOldSnapshots(ctx, s.cfg.RetentionDays); err != nil {
		s.log.Error("❌ Scheduled snapshot cleanup failed", zap.Error(err))
	}
}
