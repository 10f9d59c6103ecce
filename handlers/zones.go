package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/parkwatch/models"
	"github.com/irisdrone/parkwatch/services"
)

type zoneRequest struct {
	Name        *string        `json:"name"`
	SpaceNumber *int           `json:"spaceNumber"`
	Coordinates models.Polygon `json:"coordinates"`
}

func (r zoneRequest) input() (services.ZoneInput, bool) {
	if r.SpaceNumber == nil {
		return services.ZoneInput{}, false
	}
	in := services.ZoneInput{SpaceNumber: *r.SpaceNumber, Coordinates: r.Coordinates}
	if r.Name != nil {
		in.Name = *r.Name
	}
	return in, true
}

type bulkZonesRequest struct {
	Zones []zoneRequest `json:"zones"`
}

// ListZones handles GET /api/cameras/:id/zones
func (h *Handlers) ListZones(c *gin.Context) {
	zones, err := h.store.ListZones(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, zones)
}

// CreateZone handles POST /api/cameras/:id/zones
func (h *Handlers) CreateZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	in, ok := req.input()
	if !ok {
		badRequest(c, "spaceNumber is required")
		return
	}

	zone, err := h.store.CreateZone(c.Request.Context(), c.Param("id"), in)
	if zone == nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusCreated, zone, err)
}

// BulkCreateZones handles POST /api/cameras/:id/zones/bulk
func (h *Handlers) BulkCreateZones(c *gin.Context) {
	var req bulkZonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	inputs := make([]services.ZoneInput, 0, len(req.Zones))
	for _, z := range req.Zones {
		in, ok := z.input()
		if !ok {
			badRequest(c, "spaceNumber is required for every zone")
			return
		}
		inputs = append(inputs, in)
	}

	zones, err := h.store.BulkCreateZones(c.Request.Context(), c.Param("id"), inputs)
	if zones == nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusCreated, zones, err)
}

// UpdateZone handles PATCH /api/zones/:zoneId
func (h *Handlers) UpdateZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	zone, err := h.store.UpdateZone(c.Request.Context(), c.Param("zoneId"), services.ZoneUpdate{
		Name:        req.Name,
		SpaceNumber: req.SpaceNumber,
		Coordinates: req.Coordinates,
	})
	if zone == nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, zone, err)
}

// DeleteZone handles DELETE /api/zones/:zoneId
func (h *Handlers) DeleteZone(c *gin.Context) {
	h.respond(c, http.StatusNoContent, nil, h.store.DeleteZone(c.Request.Context(), c.Param("zoneId")))
}

// DeleteAllZones handles DELETE /api/cameras/:id/zones
func (h *Handlers) DeleteAllZones(c *gin.Context) {
	h.respond(c, http.StatusNoContent, nil, h.store.DeleteAllZones(c.Request.Context(), c.Param("id")))
}

// SyncZones handles POST /api/cameras/:id/zones/sync, pushing the stored
// zone set to the detector again
func (h *Handlers) SyncZones(c *gin.Context) {
	zones, err := h.sync.Resync(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cameraId": c.Param("id"),
		"synced":   len(zones),
	})
}
