package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/irisdrone/parkwatch/metrics"
	"github.com/irisdrone/parkwatch/models"
	"go.uber.org/zap"
)

// Detector operations, used in SyncError.Op and as metric labels
const (
	OpRegisterZones = "register_zones"
	OpDetect        = "detect"
	OpStatus        = "status"
)

// Detector is the external vision service
type Detector interface {
	RegisterZones(ctx context.Context, cameraID string, zones []models.ParkingZone) error
	Detect(ctx context.Context, cameraID string, frame []byte, zones []models.ParkingZone) (*DetectionResult, error)
	Status(ctx context.Context, targetID string) (*DetectorStatus, error)
}

// DetectorZone is the geometry registered with the detector
type DetectorZone struct {
	ID          string         `json:"id"`
	SpaceNumber int            `json:"spaceNumber"`
	Name        string         `json:"name,omitempty"`
	Coordinates models.Polygon `json:"coordinates"`
}

// RegisterZonesRequest replaces the detector's zone set for a camera
type RegisterZonesRequest struct {
	CameraID string         `json:"cameraId"`
	Zones    []DetectorZone `json:"zones"`
}

// RegisterZonesResponse is the detector ack
type RegisterZonesResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// ZoneOccupancy is the detector verdict for one zone
type ZoneOccupancy struct {
	ID         string `json:"id"`
	IsOccupied bool   `json:"isOccupied"`
}

// BoundingBox in frame pixels
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Vehicle is an auxiliary detection, passed through untouched
type Vehicle struct {
	Class       string      `json:"class"`
	Confidence  float64     `json:"confidence"`
	BBox        BoundingBox `json:"bbox"`
	SpaceNumber *int        `json:"spaceNumber,omitempty"`
}

// DetectionResult is the response of the inference endpoint
type DetectionResult struct {
	Zones          []ZoneOccupancy `json:"zones"`
	OccupiedSpaces int             `json:"occupiedSpaces"`
	FreeSpaces     int             `json:"freeSpaces"`
	AnnotatedFrame string          `json:"annotatedFrame,omitempty"` // base64 JPEG
	Vehicles       []Vehicle       `json:"vehicles,omitempty"`
}

// DetectorSpace is one entry of a status response
type DetectorSpace struct {
	ID          string `json:"id"`
	SpaceNumber int    `json:"spaceNumber"`
	IsOccupied  bool   `json:"isOccupied"`
}

// DetectorStatus is the detector's own view of a camera
type DetectorStatus struct {
	TotalSpaces    int             `json:"totalSpaces"`
	OccupiedSpaces int             `json:"occupiedSpaces"`
	FreeSpaces     *int            `json:"freeSpaces,omitempty"`
	Spaces         []DetectorSpace `json:"spaces,omitempty"`
}

// DetectorClient talks to the detector over HTTP. It never retries.
type DetectorClient struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewDetectorClient creates a client for the detector at baseURL
func NewDetectorClient(baseURL string, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *DetectorClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DetectorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
		log:     log.With(zap.String("component", "detector_client")),
	}
}

// HTTPClient exposes the underlying client, used by tests to install transports
func (c *DetectorClient) HTTPClient() *http.Client {
	return c.httpClient
}

// RegisterZones pushes the full zone set of a camera. An empty list clears it.
func (c *DetectorClient) RegisterZones(ctx context.Context, cameraID string, zones []models.ParkingZone) error {
	payload := RegisterZonesRequest{
		CameraID: cameraID,
		Zones:    make([]DetectorZone, len(zones)),
	}
	for i, z := range zones {
		payload.Zones[i] = DetectorZone{
			ID:          z.ID,
			SpaceNumber: z.SpaceNumber,
			Name:        z.Name,
			Coordinates: z.Coordinates,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &SyncError{Op: OpRegisterZones, CameraID: cameraID, Err: err}
	}

	var ack RegisterZonesResponse
	if err := c.do(ctx, OpRegisterZones, cameraID, http.MethodPost, "/api/zones/sync", "application/json", bytes.NewReader(body), &ack); err != nil {
		return err
	}

	c.log.Info("🔄 Zones synced with detector", zap.String("cameraId", cameraID), zap.Int("zones", len(zones)))
	return nil
}

// Detect submits one frame together with the zone geometry
func (c *DetectorClient) Detect(ctx context.Context, cameraID string, frame []byte, zones []models.ParkingZone) (*DetectionResult, error) {
	detectorZones := make([]DetectorZone, len(zones))
	for i, z := range zones {
		detectorZones[i] = DetectorZone{ID: z.ID, SpaceNumber: z.SpaceNumber, Coordinates: z.Coordinates}
	}
	zonesJSON, err := json.Marshal(detectorZones)
	if err != nil {
		return nil, &SyncError{Op: OpDetect, CameraID: cameraID, Err: err}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("frame", "frame.jpg")
	if err != nil {
		return nil, &SyncError{Op: OpDetect, CameraID: cameraID, Err: err}
	}
	if _, err := part.Write(frame); err != nil {
		return nil, &SyncError{Op: OpDetect, CameraID: cameraID, Err: err}
	}
	if err := writer.WriteField("zones", string(zonesJSON)); err != nil {
		return nil, &SyncError{Op: OpDetect, CameraID: cameraID, Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &SyncError{Op: OpDetect, CameraID: cameraID, Err: err}
	}

	var result DetectionResult
	if err := c.do(ctx, OpDetect, cameraID, http.MethodPost, "/api/detect", writer.FormDataContentType(), &body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches the detector's current counts for targetID
func (c *DetectorClient) Status(ctx context.Context, targetID string) (*DetectorStatus, error) {
	path := "/api/parking/status?cameraId=" + url.QueryEscape(targetID)

	var status DetectorStatus
	if err := c.do(ctx, OpStatus, targetID, http.MethodGet, path, "", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do runs one request and decodes a 2xx JSON body into out
func (c *DetectorClient) do(ctx context.Context, op, cameraID, method, path, contentType string, body io.Reader, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
			c.log.Warn("⚠️ Detector request failed",
				zap.String("op", op),
				zap.String("cameraId", cameraID),
				zap.Error(err))
		}
		c.metrics.RecordDetectorRequest(op, result, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &SyncError{Op: op, CameraID: cameraID, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SyncError{Op: op, CameraID: cameraID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &SyncError{
			Op:         op,
			CameraID:   cameraID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("detector rejected request: %s", strings.TrimSpace(string(respBody))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &SyncError{Op: op, CameraID: cameraID, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
