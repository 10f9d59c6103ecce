package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/metrics"
	"github.com/irisdrone/parkwatch/models"
	"go.uber.org/zap"
)

// FrameResult is what a processed frame reports back to the caller
type FrameResult struct {
	CameraID       string                `json:"cameraId"`
	Zones          []ZoneOccupancy       `json:"zones"`
	OccupiedSpaces int                   `json:"occupiedSpaces"`
	FreeSpaces     int                   `json:"freeSpaces"`
	AnnotatedFrame string                `json:"annotatedFrame,omitempty"`
	Vehicles       []Vehicle             `json:"vehicles,omitempty"`
	IgnoredZoneIDs []string              `json:"ignoredZoneIds,omitempty"`
	Status         *ParkingStatusSummary `json:"status"`
}

// DetectionSync keeps the detector and the store consistent in both directions:
// zone geometry is pushed out after every zone mutation, occupancy verdicts are
// pulled in for submitted frames.
type DetectionSync struct {
	store     *OccupancyStore
	detector  Detector
	publisher Publisher
	clock     quartz.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewDetectionSync wires the store to the detector and registers the push hook
func NewDetectionSync(store *OccupancyStore, detector Detector, publisher Publisher, clock quartz.Clock, m *metrics.Metrics, log *zap.Logger) *DetectionSync {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &DetectionSync{
		store:     store,
		detector:  detector,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		log:       log.With(zap.String("component", "detection_sync")),
	}
	store.OnZonesChanged(s.PushZones)
	return s
}

// PushZones sends the full zone set of a camera to the detector
func (s *DetectionSync) PushZones(ctx context.Context, cameraID string, zones []models.ParkingZone) error {
	if err := s.detector.RegisterZones(ctx, cameraID, zones); err != nil {
		s.log.Error("❌ Failed to sync zones with detector",
			zap.String("cameraId", cameraID),
			zap.Int("zones", len(zones)),
			zap.Error(err))
		return err
	}
	return nil
}

// Resync pushes the stored zone set of a camera again
func (s *DetectionSync) Resync(ctx context.Context, cameraID string) ([]models.ParkingZone, error) {
	zones, err := s.store.ListZones(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	return zones, s.PushZones(ctx, cameraID, zones)
}

// ResyncAll pushes every camera's zone set, continuing past failures
func (s *DetectionSync) ResyncAll(ctx context.Context) error {
	cameras, err := s.store.ListCameras(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, camera := range cameras {
		if err := s.PushZones(ctx, camera.ID, camera.ParkingZones); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProcessFrame runs detection on one frame and applies the verdicts to the
// camera's zones. Zone ids the camera does not own are ignored.
func (s *DetectionSync) ProcessFrame(ctx context.Context, cameraID string, frame []byte) (*FrameResult, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: frame is empty", ErrInvalidInput)
	}

	zones, err := s.store.ListZones(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("camera %s: %w", cameraID, ErrNoZones)
	}

	detection, err := s.detector.Detect(ctx, cameraID, frame, zones)
	if err != nil {
		s.log.Error("❌ Frame detection failed", zap.String("cameraId", cameraID), zap.Error(err))
		return nil, err
	}

	result := &FrameResult{
		CameraID:       cameraID,
		Zones:          detection.Zones,
		OccupiedSpaces: detection.OccupiedSpaces,
		FreeSpaces:     detection.FreeSpaces,
		AnnotatedFrame: detection.AnnotatedFrame,
		Vehicles:       detection.Vehicles,
	}
	if err := s.apply(ctx, cameraID, zones, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyVerdicts records verdicts the detector pushed on its own, without a
// frame having been submitted through ProcessFrame.
func (s *DetectionSync) ApplyVerdicts(ctx context.Context, cameraID string, verdicts []ZoneOccupancy) (*FrameResult, error) {
	zones, err := s.store.ListZones(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("camera %s: %w", cameraID, ErrNoZones)
	}

	result := &FrameResult{CameraID: cameraID, Zones: verdicts}
	if err := s.apply(ctx, cameraID, zones, result); err != nil {
		return nil, err
	}
	result.OccupiedSpaces = result.Status.OccupiedSpaces
	result.FreeSpaces = result.Status.FreeSpaces
	return result, nil
}

// apply writes result.Zones onto the camera's own zones, then reloads the
// summary and publishes it
func (s *DetectionSync) apply(ctx context.Context, cameraID string, zones []models.ParkingZone, result *FrameResult) error {
	owned := make(map[string]bool, len(zones))
	for _, z := range zones {
		owned[z.ID] = true
	}

	now := s.clock.Now().UTC()
	for _, verdict := range result.Zones {
		if !owned[verdict.ID] {
			s.log.Warn("⚠️ Detector returned unknown zone",
				zap.String("cameraId", cameraID),
				zap.String("zoneId", verdict.ID))
			s.metrics.RecordDetection("unknown_zone")
			result.IgnoredZoneIDs = append(result.IgnoredZoneIDs, verdict.ID)
			continue
		}
		if err := s.store.ApplyDetection(ctx, verdict.ID, verdict.IsOccupied, now); err != nil {
			return err
		}
		if verdict.IsOccupied {
			s.metrics.RecordDetection("occupied")
		} else {
			s.metrics.RecordDetection("free")
		}
	}

	// Reload so the summary reflects the applied verdicts
	zones, err := s.store.ListZones(ctx, cameraID)
	if err != nil {
		return err
	}
	result.Status = summarize(cameraID, zones, now)
	publishJSON(s.publisher, s.log, OccupancySubject(cameraID), result.Status)

	s.log.Debug("🅿️ Verdicts applied",
		zap.String("cameraId", cameraID),
		zap.Int("occupied", result.Status.OccupiedSpaces),
		zap.Int("total", result.Status.TotalSpaces))
	return nil
}
