package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/irisdrone/parkwatch/models"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDetectorURL = "http://detector.test"

func newMockedDetector(t *testing.T) (*DetectorClient, *httpmock.MockTransport) {
	t.Helper()
	client := NewDetectorClient(testDetectorURL+"/", 5*time.Second, nil, zap.NewNop())
	transport := httpmock.NewMockTransport()
	client.HTTPClient().Transport = transport
	return client, transport
}

func square(x, y float64) models.Polygon {
	return models.Polygon{{X: x, Y: y}, {X: x + 10, Y: y}, {X: x + 10, Y: y + 10}, {X: x, Y: y + 10}}
}

func TestDetectorClient_RegisterZones(t *testing.T) {
	client, transport := newMockedDetector(t)

	var got RegisterZonesRequest
	transport.RegisterResponder(http.MethodPost, testDetectorURL+"/api/zones/sync",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, RegisterZonesResponse{Success: true, Count: len(got.Zones)})
		})

	zones := []models.ParkingZone{
		{ID: "z1", Name: "A1", SpaceNumber: 1, Coordinates: square(0, 0)},
		{ID: "z2", Name: "A2", SpaceNumber: 2, Coordinates: square(20, 0)},
	}
	require.NoError(t, client.RegisterZones(context.Background(), "cam-1", zones))

	assert.Equal(t, "cam-1", got.CameraID)
	require.Len(t, got.Zones, 2)
	assert.Equal(t, "z2", got.Zones[1].ID)
	assert.Equal(t, 2, got.Zones[1].SpaceNumber)
	assert.Equal(t, "A2", got.Zones[1].Name)
	assert.Equal(t, square(20, 0), got.Zones[1].Coordinates)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestDetectorClient_RegisterZonesEmptySendsEmptyList(t *testing.T) {
	client, transport := newMockedDetector(t)

	var raw map[string]interface{}
	transport.RegisterResponder(http.MethodPost, testDetectorURL+"/api/zones/sync",
		func(req *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(req.Body).Decode(&raw)
			return httpmock.NewStringResponse(http.StatusOK, `{"success":true,"count":0}`), nil
		})

	require.NoError(t, client.RegisterZones(context.Background(), "cam-1", nil))
	assert.Equal(t, []interface{}{}, raw["zones"])
}

func TestDetectorClient_RegisterZonesFailures(t *testing.T) {
	tests := []struct {
		name       string
		responder  httpmock.Responder
		wantStatus int
	}{
		{"network_error", httpmock.NewErrorResponder(errors.New("connection refused")), 0},
		{"server_error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom"), http.StatusInternalServerError},
		{"bad_request", httpmock.NewStringResponder(http.StatusBadRequest, "bad zones"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, transport := newMockedDetector(t)
			transport.RegisterResponder(http.MethodPost, testDetectorURL+"/api/zones/sync", tt.responder)

			err := client.RegisterZones(context.Background(), "cam-1", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyncFailure)

			var syncErr *SyncError
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, OpRegisterZones, syncErr.Op)
			assert.Equal(t, "cam-1", syncErr.CameraID)
			assert.Equal(t, tt.wantStatus, syncErr.StatusCode)
		})
	}
}

func TestDetectorClient_Detect(t *testing.T) {
	client, transport := newMockedDetector(t)

	frame := []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'g'}
	transport.RegisterResponder(http.MethodPost, testDetectorURL+"/api/detect",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseMultipartForm(1 << 20); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			file, header, err := req.FormFile("frame")
			if err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, "missing frame"), nil
			}
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "frame.jpg", header.Filename)
			assert.Equal(t, frame, data)

			var zones []DetectorZone
			assert.NoError(t, json.Unmarshal([]byte(req.FormValue("zones")), &zones))
			assert.Len(t, zones, 2)

			return httpmock.NewStringResponse(http.StatusOK, `{
				"zones": [{"id":"z1","isOccupied":true},{"id":"z2","isOccupied":false}],
				"occupiedSpaces": 1,
				"freeSpaces": 1,
				"annotatedFrame": "aGVsbG8=",
				"vehicles": [{"class":"car","confidence":0.91,"bbox":{"x1":1,"y1":2,"x2":3,"y2":4},"spaceNumber":1}]
			}`), nil
		})

	zones := []models.ParkingZone{
		{ID: "z1", SpaceNumber: 1, Coordinates: square(0, 0)},
		{ID: "z2", SpaceNumber: 2, Coordinates: square(20, 0)},
	}
	result, err := client.Detect(context.Background(), "cam-1", frame, zones)
	require.NoError(t, err)

	require.Len(t, result.Zones, 2)
	assert.True(t, result.Zones[0].IsOccupied)
	assert.False(t, result.Zones[1].IsOccupied)
	assert.Equal(t, 1, result.OccupiedSpaces)
	assert.Equal(t, "aGVsbG8=", result.AnnotatedFrame)
	require.Len(t, result.Vehicles, 1)
	assert.Equal(t, "car", result.Vehicles[0].Class)
	require.NotNil(t, result.Vehicles[0].SpaceNumber)
	assert.Equal(t, 1, *result.Vehicles[0].SpaceNumber)
}

func TestDetectorClient_DetectBadBody(t *testing.T) {
	client, transport := newMockedDetector(t)
	transport.RegisterResponder(http.MethodPost, testDetectorURL+"/api/detect",
		httpmock.NewStringResponder(http.StatusOK, "not json"))

	_, err := client.Detect(context.Background(), "cam-1", []byte("x"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncFailure)
}

func TestDetectorClient_Status(t *testing.T) {
	client, transport := newMockedDetector(t)
	transport.RegisterResponder(http.MethodGet, testDetectorURL+"/api/parking/status",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "rtsp://cam/1", req.URL.Query().Get("cameraId"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"totalSpaces":4,"occupiedSpaces":3,"spaces":[{"id":"z1","spaceNumber":1,"isOccupied":true}]}`), nil
		})

	status, err := client.Status(context.Background(), "rtsp://cam/1")
	require.NoError(t, err)
	assert.Equal(t, 4, status.TotalSpaces)
	assert.Equal(t, 3, status.OccupiedSpaces)
	assert.Nil(t, status.FreeSpaces)
	require.Len(t, status.Spaces, 1)
}
