package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/parkwatch/services"
)

type detectionsRequest struct {
	Zones []services.ZoneOccupancy `json:"zones" binding:"required"`
}

// IngestDetections handles POST /api/cameras/:id/detections, where the
// detector pushes verdicts for frames it decoded itself
func (h *Handlers) IngestDetections(c *gin.Context) {
	var req detectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing required fields")
		return
	}

	result, err := h.sync.ApplyVerdicts(c.Request.Context(), c.Param("id"), req.Zones)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
