package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Camera model - a fixed camera watching a set of parking spaces
type Camera struct {
	ID           string  `gorm:"primaryKey;column:id" json:"id"`
	Name         string  `gorm:"column:name;uniqueIndex;not null" json:"name"`
	Description  *string `gorm:"column:description" json:"description,omitempty"`
	StreamURL    *string `gorm:"column:stream_url" json:"streamUrl,omitempty"`
	VideoFile    *string `gorm:"column:video_file" json:"videoFile,omitempty"`
	TotalParking int     `gorm:"column:total_parking;default:0" json:"total_parking"` // Cached zone count
	IsActive     bool    `gorm:"column:is_active;not null" json:"isActive"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	ParkingZones []ParkingZone `gorm:"foreignKey:CameraID;constraint:OnDelete:CASCADE" json:"parkingZones,omitempty"`
}

func (Camera) TableName() string {
	return "cameras"
}

// BeforeCreate assigns a uuid when the caller did not
func (c *Camera) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// ParkingZone model - one parking space, outlined as a polygon in frame coordinates
type ParkingZone struct {
	ID          string  `gorm:"primaryKey;column:id" json:"id"`
	CameraID    string  `gorm:"column:camera_id;not null;index;uniqueIndex:idx_zone_camera_space" json:"cameraId"`
	Name        string  `gorm:"column:name;not null" json:"name"`
	SpaceNumber int     `gorm:"column:space_number;not null;uniqueIndex:idx_zone_camera_space" json:"spaceNumber"`
	Coordinates Polygon `gorm:"column:coordinates;type:jsonb;not null" json:"coordinates"`

	// Occupancy, written only by detector results
	IsOccupied        bool       `gorm:"column:is_occupied;default:false" json:"isOccupied"`
	LastDetectionTime *time.Time `gorm:"column:last_detection_time" json:"lastDetectionTime,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ParkingZone) TableName() string {
	return "parking_zones"
}

// BeforeCreate assigns a uuid when the caller did not
func (z *ParkingZone) BeforeCreate(tx *gorm.DB) error {
	if z.ID == "" {
		z.ID = uuid.New().String()
	}
	return nil
}

// ParkingSnapshot model - immutable occupancy reading, per camera or global (CameraID nil)
type ParkingSnapshot struct {
	ID             string            `gorm:"primaryKey;column:id" json:"id"`
	CameraID       *string           `gorm:"column:camera_id;index:idx_snapshot_camera_time" json:"cameraId"`
	TotalSpaces    int               `gorm:"column:total_spaces;not null" json:"totalSpaces"`
	OccupiedSpaces int               `gorm:"column:occupied_spaces;not null" json:"occupiedSpaces"`
	FreeSpaces     int               `gorm:"column:free_spaces;not null" json:"freeSpaces"`
	OccupancyRate  float64           `gorm:"column:occupancy_rate;not null" json:"occupancyRate"`
	Timestamp      time.Time         `gorm:"column:timestamp;not null;index;index:idx_snapshot_camera_time" json:"timestamp"`
	Metadata       *SnapshotMetadata `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
}

func (ParkingSnapshot) TableName() string {
	return "parking_snapshots"
}

// BeforeCreate assigns a uuid when the caller did not
func (s *ParkingSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// IsGlobal reports whether the snapshot aggregates all cameras
func (s ParkingSnapshot) IsGlobal() bool {
	return s.CameraID == nil
}
