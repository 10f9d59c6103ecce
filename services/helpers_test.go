package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/irisdrone/parkwatch/database/dbtest"
	"github.com/irisdrone/parkwatch/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errDetectorDown = errors.New("dial tcp 127.0.0.1:5000: connect: connection refused")

// fakeDetector records every call and answers from its fields
type fakeDetector struct {
	mu sync.Mutex

	registerErr error
	registered  map[string][]models.ParkingZone
	pushes      int

	detectResult *DetectionResult
	detectErr    error
	detectCalls  int

	status      map[string]*DetectorStatus
	statusErr   map[string]error
	statusCalls map[string]int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		registered:  make(map[string][]models.ParkingZone),
		status:      make(map[string]*DetectorStatus),
		statusErr:   make(map[string]error),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeDetector) RegisterZones(_ context.Context, cameraID string, zones []models.ParkingZone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.registerErr != nil {
		return &SyncError{Op: OpRegisterZones, CameraID: cameraID, Err: f.registerErr}
	}
	f.registered[cameraID] = append([]models.ParkingZone(nil), zones...)
	return nil
}

func (f *fakeDetector) Detect(_ context.Context, cameraID string, _ []byte, _ []models.ParkingZone) (*DetectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectCalls++
	if f.detectErr != nil {
		return nil, &SyncError{Op: OpDetect, CameraID: cameraID, Err: f.detectErr}
	}
	return f.detectResult, nil
}

func (f *fakeDetector) Status(_ context.Context, targetID string) (*DetectorStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[targetID]++
	if err := f.statusErr[targetID]; err != nil {
		return nil, &SyncError{Op: OpStatus, CameraID: targetID, Err: err}
	}
	status, ok := f.status[targetID]
	if !ok {
		return nil, &SyncError{Op: OpStatus, CameraID: targetID, StatusCode: 404, Err: errors.New("unknown camera")}
	}
	return status, nil
}

func (f *fakeDetector) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

func (f *fakeDetector) registeredZones(cameraID string) ([]models.ParkingZone, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	zones, ok := f.registered[cameraID]
	return zones, ok
}

// recordingPublisher keeps published events per subject
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][][]byte)}
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[subject] = append(p.events[subject], data)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[subject])
}

type testEnv struct {
	db        *gorm.DB
	store     *OccupancyStore
	detector  *fakeDetector
	sync      *DetectionSync
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.New(t)
	publisher := newRecordingPublisher()
	store := NewOccupancyStore(db, publisher, zap.NewNop())
	detector := newFakeDetector()
	return &testEnv{
		db:        db,
		store:     store,
		detector:  detector,
		sync:      NewDetectionSync(store, detector, publisher, nil, nil, zap.NewNop()),
		publisher: publisher,
	}
}

func (e *testEnv) camera(t *testing.T, name string) *models.Camera {
	t.Helper()
	camera, err := e.store.CreateCamera(context.Background(), CameraInput{Name: name})
	require.NoError(t, err)
	return camera
}

// zones creates n square zones numbered 1..n
func (e *testEnv) zones(t *testing.T, cameraID string, n int) []models.ParkingZone {
	t.Helper()
	inputs := make([]ZoneInput, n)
	for i := range inputs {
		inputs[i] = ZoneInput{
			Name:        fmt.Sprintf("P%d", i+1),
			SpaceNumber: i + 1,
			Coordinates: square(float64(i*20), 0),
		}
	}
	zones, err := e.store.BulkCreateZones(context.Background(), cameraID, inputs)
	require.NoError(t, err)
	return zones
}

func (e *testEnv) occupy(t *testing.T, zones ...models.ParkingZone) {
	t.Helper()
	for _, z := range zones {
		require.NoError(t, e.db.Model(&models.ParkingZone{}).Where("id = ?", z.ID).Update("is_occupied", true).Error)
	}
}

func (e *testEnv) totalParking(t *testing.T, cameraID string) int {
	t.Helper()
	var camera models.Camera
	require.NoError(t, e.db.First(&camera, "id = ?", cameraID).Error)
	return camera.TotalParking
}

func (e *testEnv) zoneCount(t *testing.T, cameraID string) int {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.ParkingZone{}).Where("camera_id = ?", cameraID).Count(&n).Error)
	return int(n)
}

func strPtr(s string) *string { return &s }
