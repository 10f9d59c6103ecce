package services

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestAggregator(t *testing.T, env *testEnv, now time.Time) *HistoryAggregator {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(now).MustWait(context.Background())
	return NewHistoryAggregator(env.db, mClock, time.UTC, zap.NewNop())
}

func insertSnapshot(t *testing.T, db *gorm.DB, cameraID *string, rate float64, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.ParkingSnapshot{
		CameraID:       cameraID,
		TotalSpaces:    100,
		OccupiedSpaces: int(rate),
		FreeSpaces:     100 - int(rate),
		OccupancyRate:  rate,
		Timestamp:      at.UTC(),
		Metadata:       models.NewSnapshotMetadata(at),
	}).Error)
}

func TestOccupancyHistoryFiltersAndOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env, testNow)

	cam := "cam-1"
	other := "cam-2"
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	insertSnapshot(t, env.db, &cam, 30, start.Add(2*time.Hour))
	insertSnapshot(t, env.db, &cam, 10, start) // inclusive lower bound
	insertSnapshot(t, env.db, &cam, 20, end)   // inclusive upper bound
	insertSnapshot(t, env.db, &cam, 99, end.Add(time.Second))
	insertSnapshot(t, env.db, &other, 50, start.Add(time.Hour))
	insertSnapshot(t, env.db, nil, 70, start.Add(time.Hour))

	history, err := agg.OccupancyHistory(ctx, &cam, start, end)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.InDelta(t, 10, history[0].OccupancyRate, 0)
	assert.InDelta(t, 30, history[1].OccupancyRate, 0)
	assert.InDelta(t, 20, history[2].OccupancyRate, 0)

	// nil selects only global rows, never every camera
	global, err := agg.OccupancyHistory(ctx, nil, start, end)
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.True(t, global[0].IsGlobal())

	_, err = agg.OccupancyHistory(ctx, &cam, end, start)
	assert.Error(t, err)
}

func TestAverageOccupancyByHour(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	agg := newTestAggregator(t, env, testNow)

	cam := "cam-1"
	day := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	insertSnapshot(t, env.db, &cam, 20, day.Add(9*time.Hour))
	insertSnapshot(t, env.db, &cam, 50, day.Add(9*time.Hour+30*time.Minute))
	insertSnapshot(t, env.db, &cam, 80, day.Add(14*time.Hour))
	// outside the window
	insertSnapshot(t, env.db, &cam, 90, testNow.Add(-8*24*time.Hour))

	hourly, err := agg.AverageOccupancyByHour(ctx, &cam, 7)
	require.NoError(t, err)
	require.Len(t, hourly, 24)

	for hour, h := range hourly {
		assert.Equal(t, hour, h.Hour)
		switch hour {
		case 9:
			assert.InDelta(t, 35.00, h.AvgOccupancy, 0)
			assert.Equal(t, 2, h.Count)
		case 14:
			assert.InDelta(t, 80.00, h.AvgOccupancy, 0)
			assert.Equal(t, 1, h.Count)
		default:
			assert.Zero(t, h.AvgOccupancy, "hour %d", hour)
			assert.Zero(t, h.Count, "hour %d", hour)
		}
	}
}

func TestAverageOccupancyByHourEmpty(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env, testNow)

	hourly, err := agg.AverageOccupancyByHour(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Len(t, hourly, 24)
	for hour, h := range hourly {
		assert.Equal(t, HourlyOccupancy{Hour: hour}, h)
	}
}

func TestHourOfFallsBackToTimestamp(t *testing.T) {
	env := newTestEnv(t)
	agg := NewHistoryAggregator(env.db, nil, time.FixedZone("UTC-3", -3*3600), zap.NewNop())

	at := time.Date(2024, 3, 3, 17, 5, 0, 0, time.UTC)
	assert.Equal(t, 14, agg.hourOf(models.ParkingSnapshot{Timestamp: at}))
	assert.Equal(t, 6, agg.hourOf(models.ParkingSnapshot{Timestamp: at, Metadata: &models.SnapshotMetadata{HourOfDay: 6}}))
}

func TestPeriodStatisticsEmpty(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env, testNow)

	stats, err := agg.PeriodStatistics(context.Background(), nil, testNow.Add(-time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, PeriodStatistics{}, *stats)
}

func TestPeriodStatistics(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env, testNow)

	day := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	insertSnapshot(t, env.db, nil, 10, day.Add(8*time.Hour))
	insertSnapshot(t, env.db, nil, 33.333, day.Add(12*time.Hour))
	insertSnapshot(t, env.db, nil, 90, day.Add(18*time.Hour))
	insertSnapshot(t, env.db, nil, 50, day.Add(18*time.Hour+10*time.Minute))

	stats, err := agg.PeriodStatistics(context.Background(), nil, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSnapshots)
	assert.InDelta(t, 45.83, stats.AvgOccupancy, 1e-9)
	assert.InDelta(t, 90, stats.MaxOccupancy, 0)
	assert.InDelta(t, 10, stats.MinOccupancy, 0)
	assert.Equal(t, 18, stats.PeakHour) // (90+50)/2 = 70
}

func TestPeriodStatisticsPeakHourTieKeepsFirstHour(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env, testNow)

	day := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	insertSnapshot(t, env.db, nil, 60, day.Add(16*time.Hour))
	insertSnapshot(t, env.db, nil, 60, day.Add(7*time.Hour))
	insertSnapshot(t, env.db, nil, 40, day.Add(7*time.Hour+20*time.Minute))
	insertSnapshot(t, env.db, nil, 80, day.Add(7*time.Hour+40*time.Minute))

	stats, err := agg.PeriodStatistics(context.Background(), nil, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	// hour 7 and hour 16 both average 60; the lower hour wins
	assert.Equal(t, 7, stats.PeakHour)
}

func TestPeriodStatisticsAllZeroKeepsPeakHourZero(t *testing.T) {
	env := newTestEnv(t)
	agg := newTestAggregator(t, env, testNow)

	day := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	insertSnapshot(t, env.db, nil, 0, day.Add(11*time.Hour))

	stats, err := agg.PeriodStatistics(context.Background(), nil, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSnapshots)
	assert.Equal(t, 0, stats.PeakHour)
}
