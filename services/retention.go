package services

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/metrics"
	"github.com/irisdrone/parkwatch/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRetentionDays is the history horizon when none is configured
const DefaultRetentionDays = 90

// SnapshotPruner deletes snapshots past the retention horizon. Deletion is permanent.
type SnapshotPruner struct {
	db      *gorm.DB
	clock   quartz.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewSnapshotPruner(db *gorm.DB, clock quartz.Clock, m *metrics.Metrics, log *zap.Logger) *SnapshotPruner {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotPruner{
		db:      db,
		clock:   clock,
		metrics: m,
		log:     log.With(zap.String("component", "snapshot_pruner")),
	}
}

// CleanOldSnapshots removes every snapshot with timestamp <= now - daysToKeep
// and returns how many rows went away.
func (p *SnapshotPruner) CleanOldSnapshots(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		return 0, fmt.Errorf("%w: daysToKeep must not be negative, got %d", ErrInvalidInput, daysToKeep)
	}
	cutoff := p.clock.Now().UTC().Add(-time.Duration(daysToKeep) * 24 * time.Hour)

	res := p.db.WithContext(ctx).Where("timestamp <= ?", cutoff).Delete(&models.ParkingSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", res.Error)
	}

	p.metrics.RecordPruned(res.RowsAffected)
	p.log.Info("🧹 Old snapshots removed",
		zap.Int64("deleted", res.RowsAffected),
		zap.Int("daysToKeep", daysToKeep),
		zap.Time("cutoff", cutoff))
	return res.RowsAffected, nil
}
