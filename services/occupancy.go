package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/irisdrone/parkwatch/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CameraInput holds the fields accepted when creating a camera
type CameraInput struct {
	Name        string
	Description *string
	StreamURL   *string
	VideoFile   *string
	IsActive    *bool // nil means active
}

// CameraUpdate holds optional camera changes; nil fields are left alone
type CameraUpdate struct {
	Name        *string
	Description *string
	StreamURL   *string
	VideoFile   *string
	IsActive    *bool
}

// ZoneInput describes one parking space to create
type ZoneInput struct {
	Name        string
	SpaceNumber int
	Coordinates models.Polygon
}

// ZoneUpdate holds optional zone changes; nil fields are left alone
type ZoneUpdate struct {
	Name        *string
	SpaceNumber *int
	Coordinates models.Polygon
}

// ZoneHook runs after a zone mutation of cameraID has committed, with the full
// zone set of the camera ordered by space number.
type ZoneHook func(ctx context.Context, cameraID string, zones []models.ParkingZone) error

// ParkingSpaceStatus is the store view of one zone
type ParkingSpaceStatus struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	SpaceNumber       int            `json:"spaceNumber"`
	IsOccupied        bool           `json:"isOccupied"`
	Coordinates       models.Polygon `json:"coordinates"`
	LastDetectionTime *time.Time     `json:"lastDetectionTime,omitempty"`
}

// ParkingStatusSummary is the store view of one camera's spaces
type ParkingStatusSummary struct {
	CameraID       string               `json:"cameraId"`
	TotalSpaces    int                  `json:"totalSpaces"`
	OccupiedSpaces int                  `json:"occupiedSpaces"`
	FreeSpaces     int                  `json:"freeSpaces"`
	Spaces         []ParkingSpaceStatus `json:"spaces"`
	LastUpdate     time.Time            `json:"lastUpdate"`
}

// GlobalStats aggregates the stored occupancy of every camera
type GlobalStats struct {
	TotalSpaces      int     `json:"totalSpaces"`
	OccupiedSpaces   int     `json:"occupiedSpaces"`
	FreeSpaces       int     `json:"freeSpaces"`
	OccupancyRate    float64 `json:"occupancyRate"`
	TotalCameras     int     `json:"totalCameras"`
	ActiveCameras    int     `json:"activeCameras"`
	CamerasWithZones int     `json:"camerasWithZones"`
}

// OccupancyStore owns cameras, their zones and the current occupancy of each zone.
//
// A zone mutation and the recount of camera.total_parking commit in one
// transaction. Zone hooks (the detector push) run after that commit, so a
// failing hook returns an error while the mutation stays persisted.
type OccupancyStore struct {
	db        *gorm.DB
	publisher Publisher
	log       *zap.Logger

	hooksMu sync.RWMutex
	hooks   []ZoneHook
}

// NewOccupancyStore creates a store; publisher may be nil
func NewOccupancyStore(db *gorm.DB, publisher Publisher, log *zap.Logger) *OccupancyStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &OccupancyStore{
		db:        db,
		publisher: publisher,
		log:       log.With(zap.String("component", "occupancy_store")),
	}
}

// OnZonesChanged registers a post-commit hook for zone-set mutations
func (s *OccupancyStore) OnZonesChanged(hook ZoneHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// ========== CAMERAS ==========

// CreateCamera stores a new camera with no zones
func (s *OccupancyStore) CreateCamera(ctx context.Context, in CameraInput) (*models.Camera, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: camera name is required", ErrInvalidInput)
	}

	camera := models.Camera{
		Name:        name,
		Description: in.Description,
		StreamURL:   in.StreamURL,
		VideoFile:   in.VideoFile,
		IsActive:    true,
	}
	if in.IsActive != nil {
		camera.IsActive = *in.IsActive
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCameraNameFree(tx, name, ""); err != nil {
			return err
		}
		return tx.Create(&camera).Error
	})
	if err != nil {
		return nil, dbError(err, "camera", name)
	}

	s.log.Info("📷 Camera created", zap.String("cameraId", camera.ID), zap.String("name", camera.Name))
	return &camera, nil
}

// GetCamera returns a camera with its zones ordered by space number
func (s *OccupancyStore) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	var camera models.Camera
	err := s.db.WithContext(ctx).
		Preload("ParkingZones", orderBySpace).
		First(&camera, "id = ?", id).Error
	if err != nil {
		return nil, dbError(err, "camera", id)
	}
	return &camera, nil
}

// ListCameras returns every camera with its zones
func (s *OccupancyStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	var cameras []models.Camera
	if err := s.db.WithContext(ctx).
		Preload("ParkingZones", orderBySpace).
		Order("created_at ASC").
		Find(&cameras).Error; err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

// UpdateCamera applies the non-nil fields of upd
func (s *OccupancyStore) UpdateCamera(ctx context.Context, id string, upd CameraUpdate) (*models.Camera, error) {
	var camera models.Camera
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&camera, "id = ?", id).Error; err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return fmt.Errorf("%w: camera name cannot be empty", ErrInvalidInput)
			}
			if name != camera.Name {
				if err := ensureCameraNameFree(tx, name, camera.ID); err != nil {
					return err
				}
			}
			camera.Name = name
		}
		if upd.Description != nil {
			camera.Description = upd.Description
		}
		if upd.StreamURL != nil {
			camera.StreamURL = upd.StreamURL
		}
		if upd.VideoFile != nil {
			camera.VideoFile = upd.VideoFile
		}
		if upd.IsActive != nil {
			camera.IsActive = *upd.IsActive
		}
		return tx.Save(&camera).Error
	})
	if err != nil {
		return nil, dbError(err, "camera", id)
	}
	return &camera, nil
}

// DeleteCamera removes a camera and all of its zones. Snapshot history is kept.
func (s *OccupancyStore) DeleteCamera(ctx context.Context, id string) error {
	var removedZones int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCamera(tx, id); err != nil {
			return err
		}
		res := tx.Where("camera_id = ?", id).Delete(&models.ParkingZone{})
		if res.Error != nil {
			return res.Error
		}
		removedZones = res.RowsAffected
		return tx.Delete(&models.Camera{}, "id = ?", id).Error
	})
	if err != nil {
		return dbError(err, "camera", id)
	}

	s.log.Info("🗑️ Camera deleted", zap.String("cameraId", id), zap.Int64("zones", removedZones))
	if removedZones == 0 {
		return nil
	}
	return s.runHooks(ctx, id, []models.ParkingZone{})
}

// ========== PARKING ZONES ==========

// CreateZone adds one zone to a camera. On a hook failure the created zone is
// returned together with the error.
func (s *OccupancyStore) CreateZone(ctx context.Context, cameraID string, in ZoneInput) (*models.ParkingZone, error) {
	if err := validateZoneInput(in); err != nil {
		return nil, err
	}

	zone := models.ParkingZone{
		CameraID:    cameraID,
		Name:        strings.TrimSpace(in.Name),
		SpaceNumber: in.SpaceNumber,
		Coordinates: in.Coordinates,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCamera(tx, cameraID); err != nil {
			return err
		}
		if err := ensureSpaceFree(tx, cameraID, in.SpaceNumber, ""); err != nil {
			return err
		}
		if err := tx.Create(&zone).Error; err != nil {
			return err
		}
		return recountZones(tx, cameraID)
	})
	if err != nil {
		return nil, dbError(err, "camera", cameraID)
	}

	return &zone, s.afterZonesChanged(ctx, cameraID)
}

// BulkCreateZones adds several zones to a camera in one transaction
func (s *OccupancyStore) BulkCreateZones(ctx context.Context, cameraID string, inputs []ZoneInput) ([]models.ParkingZone, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one zone is required", ErrInvalidInput)
	}

	seen := make(map[int]bool, len(inputs))
	zones := make([]models.ParkingZone, 0, len(inputs))
	for i, in := range inputs {
		if err := validateZoneInput(in); err != nil {
			return nil, fmt.Errorf("zone %d: %w", i, err)
		}
		if seen[in.SpaceNumber] {
			return nil, fmt.Errorf("space number %d repeated in request: %w", in.SpaceNumber, ErrConflict)
		}
		seen[in.SpaceNumber] = true
		zones = append(zones, models.ParkingZone{
			CameraID:    cameraID,
			Name:        strings.TrimSpace(in.Name),
			SpaceNumber: in.SpaceNumber,
			Coordinates: in.Coordinates,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCamera(tx, cameraID); err != nil {
			return err
		}
		for _, z := range zones {
			if err := ensureSpaceFree(tx, cameraID, z.SpaceNumber, ""); err != nil {
				return err
			}
		}
		if err := tx.Create(&zones).Error; err != nil {
			return err
		}
		return recountZones(tx, cameraID)
	})
	if err != nil {
		return nil, dbError(err, "camera", cameraID)
	}

	s.log.Info("🅿️ Zones created", zap.String("cameraId", cameraID), zap.Int("count", len(zones)))
	return zones, s.afterZonesChanged(ctx, cameraID)
}

// UpdateZone changes the label, number or geometry of a zone
func (s *OccupancyStore) UpdateZone(ctx context.Context, zoneID string, upd ZoneUpdate) (*models.ParkingZone, error) {
	if upd.Coordinates != nil {
		if err := validatePolygon(upd.Coordinates); err != nil {
			return nil, err
		}
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: zone name cannot be empty", ErrInvalidInput)
	}

	var zone models.ParkingZone
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&zone, "id = ?", zoneID).Error; err != nil {
			return err
		}
		if upd.SpaceNumber != nil && *upd.SpaceNumber != zone.SpaceNumber {
			if err := ensureSpaceFree(tx, zone.CameraID, *upd.SpaceNumber, zone.ID); err != nil {
				return err
			}
			zone.SpaceNumber = *upd.SpaceNumber
		}
		if upd.Name != nil {
			zone.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Coordinates != nil {
			zone.Coordinates = upd.Coordinates
		}
		if err := tx.Save(&zone).Error; err != nil {
			return err
		}
		return recountZones(tx, zone.CameraID)
	})
	if err != nil {
		return nil, dbError(err, "parking zone", zoneID)
	}

	return &zone, s.afterZonesChanged(ctx, zone.CameraID)
}

// DeleteZone removes a single zone
func (s *OccupancyStore) DeleteZone(ctx context.Context, zoneID string) error {
	var zone models.ParkingZone
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&zone, "id = ?", zoneID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.ParkingZone{}, "id = ?", zoneID).Error; err != nil {
			return err
		}
		return recountZones(tx, zone.CameraID)
	})
	if err != nil {
		return dbError(err, "parking zone", zoneID)
	}

	return s.afterZonesChanged(ctx, zone.CameraID)
}

// DeleteAllZones removes every zone of a camera
func (s *OccupancyStore) DeleteAllZones(ctx context.Context, cameraID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCamera(tx, cameraID); err != nil {
			return err
		}
		if err := tx.Where("camera_id = ?", cameraID).Delete(&models.ParkingZone{}).Error; err != nil {
			return err
		}
		return recountZones(tx, cameraID)
	})
	if err != nil {
		return dbError(err, "camera", cameraID)
	}

	return s.afterZonesChanged(ctx, cameraID)
}

// ListZones returns a camera's zones ordered by space number
func (s *OccupancyStore) ListZones(ctx context.Context, cameraID string) ([]models.ParkingZone, error) {
	db := s.db.WithContext(ctx)
	if _, err := findCamera(db, cameraID); err != nil {
		return nil, dbError(err, "camera", cameraID)
	}
	return listZones(db, cameraID)
}

// ApplyDetection records one detector verdict for a zone
func (s *OccupancyStore) ApplyDetection(ctx context.Context, zoneID string, occupied bool, detectedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.ParkingZone{}).
		Where("id = ?", zoneID).
		Updates(map[string]interface{}{
			"is_occupied":         occupied,
			"last_detection_time": detectedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to apply detection to zone %s: %w", zoneID, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("parking zone", zoneID)
	}
	return nil
}

// ========== STATUS ==========

// ParkingStatus summarises the stored occupancy of one camera
func (s *OccupancyStore) ParkingStatus(ctx context.Context, cameraID string) (*ParkingStatusSummary, error) {
	camera, err := s.GetCamera(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	return summarize(camera.ID, camera.ParkingZones, time.Now()), nil
}

// GlobalStats totals the stored occupancy across all cameras
func (s *OccupancyStore) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	cameras, err := s.ListCameras(ctx)
	if err != nil {
		return nil, err
	}

	stats := &GlobalStats{TotalCameras: len(cameras)}
	for _, camera := range cameras {
		if camera.IsActive {
			stats.ActiveCameras++
		}
		if len(camera.ParkingZones) == 0 {
			continue
		}
		stats.CamerasWithZones++
		stats.TotalSpaces += len(camera.ParkingZones)
		stats.OccupiedSpaces += countOccupied(camera.ParkingZones)
	}
	stats.FreeSpaces = stats.TotalSpaces - stats.OccupiedSpaces
	stats.OccupancyRate = occupancyRate(stats.TotalSpaces, stats.OccupiedSpaces)
	return stats, nil
}

// ========== INTERNALS ==========

// afterZonesChanged runs once the zone transaction has committed
func (s *OccupancyStore) afterZonesChanged(ctx context.Context, cameraID string) error {
	zones, err := listZones(s.db.WithContext(ctx), cameraID)
	if err != nil {
		return fmt.Errorf("failed to reload zones for camera %s: %w", cameraID, err)
	}
	return s.runHooks(ctx, cameraID, zones)
}

func (s *OccupancyStore) runHooks(ctx context.Context, cameraID string, zones []models.ParkingZone) error {
	publishJSON(s.publisher, s.log, ZonesSubject(cameraID), zones)

	s.hooksMu.RLock()
	hooks := append([]ZoneHook(nil), s.hooks...)
	s.hooksMu.RUnlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx, cameraID, zones); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func orderBySpace(db *gorm.DB) *gorm.DB {
	return db.Order("space_number ASC")
}

func findCamera(db *gorm.DB, id string) (*models.Camera, error) {
	var camera models.Camera
	if err := db.First(&camera, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &camera, nil
}

func listZones(db *gorm.DB, cameraID string) ([]models.ParkingZone, error) {
	var zones []models.ParkingZone
	if err := db.Where("camera_id = ?", cameraID).Order("space_number ASC").Find(&zones).Error; err != nil {
		return nil, err
	}
	return zones, nil
}

// recountZones stores the live zone count on the camera
func recountZones(tx *gorm.DB, cameraID string) error {
	var count int64
	if err := tx.Model(&models.ParkingZone{}).Where("camera_id = ?", cameraID).Count(&count).Error; err != nil {
		return err
	}
	return tx.Model(&models.Camera{}).Where("id = ?", cameraID).Update("total_parking", count).Error
}

func ensureCameraNameFree(tx *gorm.DB, name, exceptID string) error {
	q := tx.Model(&models.Camera{}).Where("name = ?", name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("camera name %q already exists: %w", name, ErrConflict)
	}
	return nil
}

func ensureSpaceFree(tx *gorm.DB, cameraID string, spaceNumber int, exceptZoneID string) error {
	q := tx.Model(&models.ParkingZone{}).Where("camera_id = ? AND space_number = ?", cameraID, spaceNumber)
	if exceptZoneID != "" {
		q = q.Where("id <> ?", exceptZoneID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("space number %d already used on camera %s: %w", spaceNumber, cameraID, ErrConflict)
	}
	return nil
}

func validateZoneInput(in ZoneInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: zone name is required", ErrInvalidInput)
	}
	return validatePolygon(in.Coordinates)
}

func countOccupied(zones []models.ParkingZone) int {
	n := 0
	for _, z := range zones {
		if z.IsOccupied {
			n++
		}
	}
	return n
}

func summarize(cameraID string, zones []models.ParkingZone, now time.Time) *ParkingStatusSummary {
	occupied := countOccupied(zones)
	spaces := make([]ParkingSpaceStatus, len(zones))
	for i, z := range zones {
		spaces[i] = ParkingSpaceStatus{
			ID:                z.ID,
			Name:              z.Name,
			SpaceNumber:       z.SpaceNumber,
			IsOccupied:        z.IsOccupied,
			Coordinates:       z.Coordinates,
			LastDetectionTime: z.LastDetectionTime,
		}
	}
	return &ParkingStatusSummary{
		CameraID:       cameraID,
		TotalSpaces:    len(zones),
		OccupiedSpaces: occupied,
		FreeSpaces:     len(zones) - occupied,
		Spaces:         spaces,
		LastUpdate:     now,
	}
}
