package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/parkwatch/services"
)

const maxFrameSize = 20 << 20

type cameraRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	StreamURL   *string `json:"streamUrl"`
	VideoFile   *string `json:"videoFile"`
	IsActive    *bool   `json:"isActive"`
}

// CreateCamera handles POST /api/cameras
func (h *Handlers) CreateCamera(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	in := services.CameraInput{
		Description: req.Description,
		StreamURL:   req.StreamURL,
		VideoFile:   req.VideoFile,
		IsActive:    req.IsActive,
	}
	if req.Name != nil {
		in.Name = *req.Name
	}

	camera, err := h.store.CreateCamera(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, camera)
}

// ListCameras handles GET /api/cameras
func (h *Handlers) ListCameras(c *gin.Context) {
	cameras, err := h.store.ListCameras(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cameras)
}

// GetCamera handles GET /api/cameras/:id
func (h *Handlers) GetCamera(c *gin.Context) {
	camera, err := h.store.GetCamera(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, camera)
}

// UpdateCamera handles PATCH /api/cameras/:id
func (h *Handlers) UpdateCamera(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	camera, err := h.store.UpdateCamera(c.Request.Context(), c.Param("id"), services.CameraUpdate{
		Name:        req.Name,
		Description: req.Description,
		StreamURL:   req.StreamURL,
		VideoFile:   req.VideoFile,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, camera)
}

// DeleteCamera handles DELETE /api/cameras/:id
func (h *Handlers) DeleteCamera(c *gin.Context) {
	h.respond(c, http.StatusNoContent, nil, h.store.DeleteCamera(c.Request.Context(), c.Param("id")))
}

// GlobalStats handles GET /api/cameras/stats
func (h *Handlers) GlobalStats(c *gin.Context) {
	stats, err := h.store.GlobalStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// LiveStatus handles GET /api/cameras/status/live
func (h *Handlers) LiveStatus(c *gin.Context) {
	summary, err := h.live.Aggregate(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ParkingStatus handles GET /api/cameras/:id/parking-status
func (h *Handlers) ParkingStatus(c *gin.Context) {
	status, err := h.store.ParkingStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ProcessFrame handles POST /api/cameras/:id/process-frame (multipart "frame")
func (h *Handlers) ProcessFrame(c *gin.Context) {
	file, err := c.FormFile("frame")
	if err != nil {
		badRequest(c, "frame file is required")
		return
	}
	if file.Size > maxFrameSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		badRequest(c, "failed to read frame")
		return
	}
	defer f.Close()
	frame, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "failed to read frame")
		return
	}

	result, err := h.sync.ProcessFrame(c.Request.Context(), c.Param("id"), frame)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
