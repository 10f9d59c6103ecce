package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// monday 2024-03-04 09:15 UTC
var testNow = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func newTestRecorder(t *testing.T, env *testEnv, now time.Time, loc *time.Location) (*SnapshotRecorder, *quartz.Mock) {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(now).MustWait(context.Background())
	return NewSnapshotRecorder(env.db, mClock, loc, env.publisher, nil, zap.NewNop()), mClock
}

func TestSaveSnapshotComputesDerivedFields(t *testing.T) {
	env := newTestEnv(t)
	recorder, _ := newTestRecorder(t, env, testNow, time.UTC)

	id := "cam-1"
	snapshot, err := recorder.SaveSnapshot(context.Background(), &id, 10, 4)
	require.NoError(t, err)

	assert.Equal(t, 10, snapshot.TotalSpaces)
	assert.Equal(t, 4, snapshot.OccupiedSpaces)
	assert.Equal(t, 6, snapshot.FreeSpaces)
	assert.InDelta(t, 40.00, snapshot.OccupancyRate, 0)
	assert.True(t, testNow.Equal(snapshot.Timestamp))
	require.NotNil(t, snapshot.Metadata)
	assert.Equal(t, models.SnapshotMetadata{HourOfDay: 9, DayOfWeek: 1, IsWeekend: false}, *snapshot.Metadata)

	var stored models.ParkingSnapshot
	require.NoError(t, env.db.First(&stored, "id = ?", snapshot.ID).Error)
	assert.Equal(t, "cam-1", *stored.CameraID)
	assert.Equal(t, 6, stored.FreeSpaces)
	require.NotNil(t, stored.Metadata)
	assert.Equal(t, 9, stored.Metadata.HourOfDay)
}

func TestSaveSnapshotRates(t *testing.T) {
	env := newTestEnv(t)
	recorder, _ := newTestRecorder(t, env, testNow, time.UTC)
	ctx := context.Background()

	tests := []struct {
		total, occupied int
		rate            float64
	}{
		{0, 0, 0},
		{3, 1, 33.33},
		{3, 2, 66.67},
		{7, 7, 100},
		{8, 0, 0},
	}
	for _, tt := range tests {
		snapshot, err := recorder.SaveSnapshot(ctx, nil, tt.total, tt.occupied)
		require.NoError(t, err)
		assert.InDelta(t, tt.rate, snapshot.OccupancyRate, 1e-9, "total=%d occupied=%d", tt.total, tt.occupied)
		assert.Equal(t, tt.total-tt.occupied, snapshot.FreeSpaces)
		assert.True(t, snapshot.IsGlobal())
	}
}

func TestSaveSnapshotRejectsImpossibleCounts(t *testing.T) {
	env := newTestEnv(t)
	recorder, _ := newTestRecorder(t, env, testNow, time.UTC)
	ctx := context.Background()

	for _, counts := range [][2]int{{-1, 0}, {2, -1}, {2, 3}} {
		_, err := recorder.SaveSnapshot(ctx, nil, counts[0], counts[1])
		assert.ErrorIs(t, err, ErrInvalidSnapshot)
	}

	var n int64
	require.NoError(t, env.db.Model(&models.ParkingSnapshot{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSnapshotMetadataUsesLocation(t *testing.T) {
	env := newTestEnv(t)
	// 2024-03-09 23:30 UTC is Sunday 01:30 in UTC+2
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	recorder, _ := newTestRecorder(t, env, now, time.FixedZone("UTC+2", 2*3600))

	snapshot, err := recorder.SaveSnapshot(context.Background(), nil, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotMetadata{HourOfDay: 1, DayOfWeek: 0, IsWeekend: true}, *snapshot.Metadata)
	assert.Equal(t, time.UTC, snapshot.Timestamp.Location())
}

func TestSaveAllCamerasSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	recorder, _ := newTestRecorder(t, env, testNow, time.UTC)

	c1 := env.camera(t, "C1")
	c2 := env.camera(t, "C2")
	empty := env.camera(t, "Empty")
	inactive := false
	off, err := env.store.CreateCamera(ctx, CameraInput{Name: "Off", IsActive: &inactive})
	require.NoError(t, err)

	zones1 := env.zones(t, c1.ID, 10)
	env.occupy(t, zones1[:4]...)
	zones2 := env.zones(t, c2.ID, 2)
	env.occupy(t, zones2[0])
	env.zones(t, off.ID, 5)

	saved, err := recorder.SaveAllCamerasSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 3)

	byCamera := map[string]models.ParkingSnapshot{}
	var global *models.ParkingSnapshot
	for i := range saved {
		s := saved[i]
		assert.True(t, saved[0].Timestamp.Equal(s.Timestamp), "one timestamp per pass")
		if s.IsGlobal() {
			global = &s
			continue
		}
		byCamera[*s.CameraID] = s
	}

	require.Contains(t, byCamera, c1.ID)
	assert.Equal(t, 10, byCamera[c1.ID].TotalSpaces)
	assert.Equal(t, 4, byCamera[c1.ID].OccupiedSpaces)
	assert.Equal(t, 6, byCamera[c1.ID].FreeSpaces)
	assert.InDelta(t, 40.00, byCamera[c1.ID].OccupancyRate, 0)
	assert.Contains(t, byCamera, c2.ID)
	assert.NotContains(t, byCamera, empty.ID)
	assert.NotContains(t, byCamera, off.ID)

	require.NotNil(t, global)
	assert.Equal(t, 12, global.TotalSpaces)
	assert.Equal(t, 5, global.OccupiedSpaces)
	assert.InDelta(t, 41.67, global.OccupancyRate, 1e-9)

	require.Equal(t, 1, env.publisher.count(SubjectSnapshots))
	var event []models.ParkingSnapshot
	require.NoError(t, json.Unmarshal(env.publisher.events[SubjectSnapshots][0], &event))
	assert.Len(t, event, 3)
}

func TestSaveAllCamerasSnapshotsWithoutZones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	recorder, _ := newTestRecorder(t, env, testNow, time.UTC)
	env.camera(t, "Empty")

	saved, err := recorder.SaveAllCamerasSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)

	var n int64
	require.NoError(t, env.db.Model(&models.ParkingSnapshot{}).Count(&n).Error)
	assert.Zero(t, n, "no global snapshot when no spaces exist")
	assert.Zero(t, env.publisher.count(SubjectSnapshots))
}
