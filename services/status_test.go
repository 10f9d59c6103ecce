package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irisdrone/parkwatch/models"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLiveStatus(env *testEnv) *LiveStatus {
	// no janitor goroutine
	return newLiveStatusWithCache(env.store, env.detector, cache.New(time.Minute, 0), zap.NewNop())
}

func TestTargetID(t *testing.T) {
	tests := []struct {
		name   string
		stream *string
		want   string
	}{
		{"no_stream", nil, "cam-1"},
		{"empty_stream", strPtr(""), "cam-1"},
		{"placeholder", strPtr("stream"), "cam-1"},
		{"stream_url", strPtr("rtsp://10.0.0.5/live"), "rtsp://10.0.0.5/live"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetID(models.Camera{ID: "cam-1", StreamURL: tt.stream}))
		})
	}
}

func TestLiveStatusAggregatesReachableCameras(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.camera(t, "A")
	b, err := env.store.CreateCamera(ctx, CameraInput{Name: "B", StreamURL: strPtr("rtsp://b")})
	require.NoError(t, err)
	down := env.camera(t, "Down")
	env.zones(t, down.ID, 5)

	env.detector.status[a.ID] = &DetectorStatus{TotalSpaces: 10, OccupiedSpaces: 4}
	// the detector can report more occupied than total; free never goes negative
	env.detector.status["rtsp://b"] = &DetectorStatus{TotalSpaces: 2, OccupiedSpaces: 3}
	env.detector.statusErr[down.ID] = errors.New("timeout")

	summary, err := newTestLiveStatus(env).Aggregate(ctx)
	require.NoError(t, err)

	assert.False(t, summary.Fallback)
	assert.Equal(t, 12, summary.TotalSpaces)
	assert.Equal(t, 7, summary.OccupiedSpaces)
	assert.Equal(t, 6, summary.FreeSpaces)
	assert.Equal(t, []string{down.ID}, summary.FailedCameras)
	require.Len(t, summary.Cameras, 2)

	byID := map[string]CameraLiveStatus{}
	for _, c := range summary.Cameras {
		byID[c.CameraID] = c
	}
	assert.Equal(t, "rtsp://b", byID[b.ID].TargetID)
	assert.Equal(t, 0, byID[b.ID].FreeSpaces)
}

func TestLiveStatusFallsBackWhenNothingAnswers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.camera(t, "A")
	b := env.camera(t, "B")
	env.zones(t, a.ID, 3)
	env.zones(t, b.ID, 4)
	env.detector.statusErr[a.ID] = errDetectorDown
	env.detector.statusErr[b.ID] = errDetectorDown

	summary, err := newTestLiveStatus(env).Aggregate(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Fallback)
	assert.Equal(t, 7, summary.TotalSpaces)
	assert.Equal(t, 0, summary.OccupiedSpaces)
	assert.Equal(t, 7, summary.FreeSpaces)
	assert.Zero(t, summary.OccupancyRate)
	assert.Empty(t, summary.Cameras)
	assert.Len(t, summary.FailedCameras, 2)
}

func TestLiveStatusNoCameras(t *testing.T) {
	env := newTestEnv(t)

	summary, err := newTestLiveStatus(env).Aggregate(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Fallback)
	assert.Zero(t, summary.TotalSpaces)
}

func TestLiveStatusCachesReadings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.camera(t, "A")
	env.detector.status[a.ID] = &DetectorStatus{TotalSpaces: 4, OccupiedSpaces: 1}

	live := newTestLiveStatus(env)
	_, err := live.Aggregate(ctx)
	require.NoError(t, err)

	summary, err := live.Aggregate(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Cameras, 1)
	assert.True(t, summary.Cameras[0].Cached)
	assert.Equal(t, 1, env.detector.statusCalls[a.ID])
}
