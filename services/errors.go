package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a referenced camera or zone does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on a duplicate unique key (camera name, space number).
	ErrConflict = errors.New("conflict")

	// ErrInvalidGeometry is returned for zone polygons that are not simple polygons.
	ErrInvalidGeometry = errors.New("invalid zone geometry")

	// ErrInvalidSnapshot is returned for impossible space counts.
	ErrInvalidSnapshot = errors.New("invalid snapshot counts")

	// ErrNoZones is returned when a frame is submitted for a camera without zones.
	ErrNoZones = errors.New("no parking zones defined for this camera")

	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncFailure matches every *SyncError.
	ErrSyncFailure = errors.New("detector sync failed")
)

// SyncError describes a failed call to the external detector
type SyncError struct {
	Op         string // register_zones, detect, status
	CameraID   string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("detector %s for camera %s: status %d: %v", e.Op, e.CameraID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("detector %s for camera %s: %v", e.Op, e.CameraID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) Is(target error) bool {
	return target == ErrSyncFailure
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s with ID %s %w", kind, id, ErrNotFound)
}

// dbError maps gorm errors onto the service taxonomy
func dbError(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(kind, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s %s: %w", kind, id, ErrConflict)
	default:
		return err
	}
}
