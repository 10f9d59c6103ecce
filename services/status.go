package services

import (
	"context"
	"sync"
	"time"

	"github.com/irisdrone/parkwatch/metrics"
	"github.com/irisdrone/parkwatch/models"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStatusCacheTTL = 5 * time.Second
	statusFanOutLimit     = 8
	streamPlaceholder     = "stream"
)

// CameraLiveStatus is one camera's contribution to the live aggregate
type CameraLiveStatus struct {
	CameraID       string `json:"cameraId"`
	Name           string `json:"name"`
	TargetID       string `json:"targetId"`
	TotalSpaces    int    `json:"totalSpaces"`
	OccupiedSpaces int    `json:"occupiedSpaces"`
	FreeSpaces     int    `json:"freeSpaces"`
	Cached         bool   `json:"cached"`
}

// LiveSummary is the aggregate over every reachable camera
type LiveSummary struct {
	TotalSpaces    int                `json:"totalSpaces"`
	OccupiedSpaces int                `json:"occupiedSpaces"`
	FreeSpaces     int                `json:"freeSpaces"`
	OccupancyRate  float64            `json:"occupancyRate"`
	Cameras        []CameraLiveStatus `json:"cameras"`
	FailedCameras  []string           `json:"failedCameras,omitempty"`
	Fallback       bool               `json:"fallback"`
}

// LiveStatus asks the detector for every camera's counts. It degrades instead
// of failing: unreachable cameras are left out, and when none answered the
// stored zone counts are reported with every space free.
type LiveStatus struct {
	store    *OccupancyStore
	detector Detector
	cache    *cache.Cache
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewLiveStatus creates the aggregator. ttl <= 0 uses the default cache TTL.
func NewLiveStatus(store *OccupancyStore, detector Detector, ttl time.Duration, m *metrics.Metrics, log *zap.Logger) *LiveStatus {
	if ttl <= 0 {
		ttl = defaultStatusCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveStatus{
		store:    store,
		detector: detector,
		cache:    cache.New(ttl, 2*ttl),
		metrics:  m,
		log:      log.With(zap.String("component", "live_status")),
	}
}

// newLiveStatusWithCache is used by tests to control expiry
func newLiveStatusWithCache(store *OccupancyStore, detector Detector, c *cache.Cache, log *zap.Logger) *LiveStatus {
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveStatus{store: store, detector: detector, cache: c, log: log}
}

// TargetID is the id the detector knows a camera by
func TargetID(camera models.Camera) string {
	if camera.StreamURL != nil && *camera.StreamURL != "" && *camera.StreamURL != streamPlaceholder {
		return *camera.StreamURL
	}
	return camera.ID
}

// Aggregate fans out one status request per camera and sums the answers
func (l *LiveStatus) Aggregate(ctx context.Context) (*LiveSummary, error) {
	cameras, err := l.store.ListCameras(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]*CameraLiveStatus, len(cameras))
		failed  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusFanOutLimit)
	for i, camera := range cameras {
		i, camera := i, camera
		g.Go(func() error {
			status, err := l.cameraStatus(gctx, camera)
			if err != nil {
				l.log.Warn("⚠️ Live status unavailable",
					zap.String("cameraId", camera.ID),
					zap.String("targetId", TargetID(camera)),
					zap.Error(err))
				mu.Lock()
				failed = append(failed, camera.ID)
				mu.Unlock()
				// failures are isolated per camera
				return nil
			}
			results[i] = status
			return nil
		})
	}
	_ = g.Wait()

	summary := &LiveSummary{Cameras: []CameraLiveStatus{}, FailedCameras: failed}
	for _, r := range results {
		if r == nil {
			continue
		}
		summary.Cameras = append(summary.Cameras, *r)
		summary.TotalSpaces += r.TotalSpaces
		summary.OccupiedSpaces += r.OccupiedSpaces
		summary.FreeSpaces += r.FreeSpaces
	}

	if len(summary.Cameras) == 0 {
		summary.Fallback = true
		summary.TotalSpaces, summary.OccupiedSpaces = 0, 0
		for _, camera := range cameras {
			summary.TotalSpaces += camera.TotalParking
		}
		summary.FreeSpaces = summary.TotalSpaces
		l.metrics.RecordStatusFallback()
		l.log.Info("ℹ️ No live readings, using stored space counts", zap.Int("totalSpaces", summary.TotalSpaces))
	}

	summary.OccupancyRate = occupancyRate(summary.TotalSpaces, summary.OccupiedSpaces)
	return summary, nil
}

func (l *LiveStatus) cameraStatus(ctx context.Context, camera models.Camera) (*CameraLiveStatus, error) {
	target := TargetID(camera)
	if cached, ok := l.cache.Get(target); ok {
		status := cached.(CameraLiveStatus)
		status.CameraID, status.Name, status.Cached = camera.ID, camera.Name, true
		return &status, nil
	}

	reading, err := l.detector.Status(ctx, target)
	if err != nil {
		return nil, err
	}

	free := reading.TotalSpaces - reading.OccupiedSpaces
	if free < 0 {
		free = 0
	}
	status := CameraLiveStatus{
		CameraID:       camera.ID,
		Name:           camera.Name,
		TargetID:       target,
		TotalSpaces:    reading.TotalSpaces,
		OccupiedSpaces: reading.OccupiedSpaces,
		FreeSpaces:     free,
	}
	l.cache.SetDefault(target, status)
	return &status, nil
}
