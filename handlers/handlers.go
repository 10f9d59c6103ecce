// Package handlers exposes the parking services over HTTP
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irisdrone/parkwatch/services"
	"go.uber.org/zap"
)

// Deps are the services behind the API. Feeds may be nil when NATS is disabled.
type Deps struct {
	Store    *services.OccupancyStore
	Sync     *services.DetectionSync
	Live     *services.LiveStatus
	Recorder *services.SnapshotRecorder
	History  *services.HistoryAggregator
	Pruner   *services.SnapshotPruner
	Feeds    *services.FeedHub
	Clock    quartz.Clock
	Log      *zap.Logger
}

// Handlers holds the route handlers
type Handlers struct {
	store    *services.OccupancyStore
	sync     *services.DetectionSync
	live     *services.LiveStatus
	recorder *services.SnapshotRecorder
	history  *services.HistoryAggregator
	pruner   *services.SnapshotPruner
	feeds    *services.FeedHub
	clock    quartz.Clock
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New creates the handlers
func New(d Deps) *Handlers {
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handlers{
		store:    d.Store,
		sync:     d.Sync,
		live:     d.Live,
		recorder: d.Recorder,
		history:  d.History,
		pruner:   d.Pruner,
		feeds:    d.Feeds,
		clock:    d.Clock,
		log:      d.Log.With(zap.String("component", "http")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboards are served from other origins
			},
		},
	}
}

// Register mounts every route on the router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/health", h.Health)

	// WebSocket route for occupancy feeds (outside /api group)
	router.GET("/ws/feeds", h.FeedWebSocket)

	api := router.Group("/api")
	{
		api.GET("/feeds/stats", h.FeedStats)

		cameras := api.Group("/cameras")
		{
			cameras.POST("", h.CreateCamera)
			cameras.GET("", h.ListCameras)
			cameras.GET("/stats", h.GlobalStats)
			cameras.GET("/status/live", h.LiveStatus)
			cameras.GET("/:id", h.GetCamera)
			cameras.PATCH("/:id", h.UpdateCamera)
			cameras.DELETE("/:id", h.DeleteCamera)

			cameras.GET("/:id/zones", h.ListZones)
			cameras.POST("/:id/zones", h.CreateZone)
			cameras.POST("/:id/zones/bulk", h.BulkCreateZones)
			cameras.DELETE("/:id/zones", h.DeleteAllZones)
			cameras.POST("/:id/zones/sync", h.SyncZones)

			cameras.GET("/:id/parking-status", h.ParkingStatus)
			cameras.POST("/:id/process-frame", h.ProcessFrame)
			cameras.POST("/:id/detections", h.IngestDetections)
		}

		zones := api.Group("/zones")
		{
			zones.PATCH("/:zoneId", h.UpdateZone)
			zones.DELETE("/:zoneId", h.DeleteZone)
		}

		history := api.Group("/history")
		{
			history.GET("", h.OccupancyHistory)
			history.GET("/hourly", h.HourlyAverages)
			history.GET("/stats", h.PeriodStatistics)
			history.POST("/snapshots", h.SaveSnapshots)
			history.DELETE("/snapshots", h.CleanSnapshots)
		}
	}
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// RequestLogger logs one line per request
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("❌ Request failed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("⚠️ Request rejected", fields...)
		default:
			log.Debug("Request", fields...)
		}
	}
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidGeometry),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoZones):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrSyncFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	h.failWith(c, err, nil)
}

// failWith writes the mapped error with extra fields merged into the body
func (h *Handlers) failWith(c *gin.Context, err error, extra gin.H) {
	_ = c.Error(err)
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("❌ Internal error", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal server error"
	}
	body := gin.H{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// respond writes data with the success status. A detector sync failure of an
// already committed mutation is a 502 that still carries the committed data;
// any other error after commit goes through the usual mapping with the data
// attached.
func (h *Handlers) respond(c *gin.Context, status int, data interface{}, err error) {
	if err == nil {
		if data == nil {
			c.Status(status)
			return
		}
		c.JSON(status, data)
		return
	}
	if !errors.Is(err, services.ErrSyncFailure) {
		if data == nil {
			h.fail(c, err)
			return
		}
		h.failWith(c, err, gin.H{"committed": true, "data": data})
		return
	}
	_ = c.Error(err)
	body := gin.H{"error": err.Error(), "committed": true}
	if data != nil {
		body["data"] = data
	}
	c.JSON(http.StatusBadGateway, body)
}
