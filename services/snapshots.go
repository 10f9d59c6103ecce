package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/metrics"
	"github.com/irisdrone/parkwatch/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Snapshot scopes, used as metric labels
const (
	ScopeCamera = "camera"
	ScopeGlobal = "global"
)

// Clock tags, used to trap the pass timestamp in tests
const (
	TagSnapshotRecorder = "SnapshotRecorder"
	TagSnapshotPass     = "pass"
)

// SnapshotRecorder appends immutable occupancy readings. Camera passes are
// serialized, whether they come from the scheduler or a manual request.
type SnapshotRecorder struct {
	passMu sync.Mutex

	db        *gorm.DB
	clock     quartz.Clock
	loc       *time.Location
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewSnapshotRecorder creates a recorder. loc decides hour-of-day and weekday
// metadata; timestamps are stored in UTC.
func NewSnapshotRecorder(db *gorm.DB, clock quartz.Clock, loc *time.Location, publisher Publisher, m *metrics.Metrics, log *zap.Logger) *SnapshotRecorder {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotRecorder{
		db:        db,
		clock:     clock,
		loc:       loc,
		publisher: publisher,
		metrics:   m,
		log:       log.With(zap.String("component", "snapshot_recorder")),
	}
}

// SaveSnapshot appends one reading. A nil cameraID records a global snapshot.
func (r *SnapshotRecorder) SaveSnapshot(ctx context.Context, cameraID *string, totalSpaces, occupiedSpaces int) (*models.ParkingSnapshot, error) {
	snapshot, err := r.buildSnapshot(cameraID, totalSpaces, occupiedSpaces, r.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.metrics.RecordSnapshot(scopeOf(snapshot))
	return snapshot, nil
}

// SaveAllCamerasSnapshots records one row per active camera with zones and,
// when any space was counted, one global row. All rows share one timestamp.
// A pass waits for a running one to finish first.
func (r *SnapshotRecorder) SaveAllCamerasSnapshots(ctx context.Context) ([]models.ParkingSnapshot, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	now := r.clock.Now(TagSnapshotRecorder, TagSnapshotPass)
	var saved []models.ParkingSnapshot

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cameras []models.Camera
		if err := tx.Preload("ParkingZones").
			Where("is_active = ?", true).
			Order("created_at ASC").
			Find(&cameras).Error; err != nil {
			return fmt.Errorf("failed to load cameras: %w", err)
		}

		globalTotal, globalOccupied := 0, 0
		for _, camera := range cameras {
			total := len(camera.ParkingZones)
			if total == 0 {
				continue
			}
			occupied := countOccupied(camera.ParkingZones)

			id := camera.ID
			snapshot, err := r.buildSnapshot(&id, total, occupied, now)
			if err != nil {
				return err
			}
			if err := tx.Create(snapshot).Error; err != nil {
				return fmt.Errorf("failed to save snapshot for camera %s: %w", camera.ID, err)
			}
			saved = append(saved, *snapshot)

			globalTotal += total
			globalOccupied += occupied
		}

		if globalTotal > 0 {
			snapshot, err := r.buildSnapshot(nil, globalTotal, globalOccupied, now)
			if err != nil {
				return err
			}
			if err := tx.Create(snapshot).Error; err != nil {
				return fmt.Errorf("failed to save global snapshot: %w", err)
			}
			saved = append(saved, *snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range saved {
		r.metrics.RecordSnapshot(scopeOf(&saved[i]))
	}
	if len(saved) > 0 {
		publishJSON(r.publisher, r.log, SubjectSnapshots, saved)
	}
	r.log.Info("📸 Snapshots saved", zap.Int("count", len(saved)), zap.Time("timestamp", now.UTC()))
	return saved, nil
}

func (r *SnapshotRecorder) buildSnapshot(cameraID *string, total, occupied int, now time.Time) (*models.ParkingSnapshot, error) {
	if total < 0 || occupied < 0 || occupied > total {
		return nil, fmt.Errorf("%w: total=%d occupied=%d", ErrInvalidSnapshot, total, occupied)
	}
	return &models.ParkingSnapshot{
		CameraID:       cameraID,
		TotalSpaces:    total,
		OccupiedSpaces: occupied,
		FreeSpaces:     total - occupied,
		OccupancyRate:  occupancyRate(total, occupied),
		Timestamp:      now.UTC(),
		Metadata:       models.NewSnapshotMetadata(now.In(r.loc)),
	}, nil
}

func scopeOf(s *models.ParkingSnapshot) string {
	if s.IsGlobal() {
		return ScopeGlobal
	}
	return ScopeCamera
}

// occupancyRate is occupied/total as a percentage with two decimals, 0 for no spaces
func occupancyRate(total, occupied int) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(occupied) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
