package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Point is a pixel coordinate in the camera frame
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered ring of points outlining one parking space.
// Stored as a JSON array [{x,y},...].
type Polygon []Point

func (p Polygon) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]Point(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (p *Polygon) Scan(value interface{}) error {
	return scanJSON(value, (*[]Point)(p))
}

// Area returns the signed shoelace area; sign depends on winding order
func (p Polygon) Area() float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return sum / 2
}

// SnapshotMetadata holds calendar tags derived from the snapshot time
type SnapshotMetadata struct {
	HourOfDay int  `json:"hourOfDay"`
	DayOfWeek int  `json:"dayOfWeek"` // 0 = Sunday
	IsWeekend bool `json:"isWeekend"`
}

// NewSnapshotMetadata tags t in its own location
func NewSnapshotMetadata(t time.Time) *SnapshotMetadata {
	day := int(t.Weekday())
	return &SnapshotMetadata{
		HourOfDay: t.Hour(),
		DayOfWeek: day,
		IsWeekend: t.Weekday() == time.Saturday || t.Weekday() == time.Sunday,
	}
}

func (m SnapshotMetadata) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *SnapshotMetadata) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func scanJSON(value interface{}, dest interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
