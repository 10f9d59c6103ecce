package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/parkwatch/services"
)

const defaultHistoryWindow = 24 * time.Hour

// cameraParam returns nil (global) when cameraId is absent
func cameraParam(c *gin.Context) *string {
	id := c.Query("cameraId")
	if id == "" {
		return nil
	}
	return &id
}

// timeRange parses start/end as RFC3339; end defaults to now and start to
// one day before end
func (h *Handlers) timeRange(c *gin.Context) (start, end time.Time, ok bool) {
	end = h.clock.Now()
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "Invalid end time, expected RFC3339")
			return start, end, false
		}
		end = t
	}
	start = end.Add(-defaultHistoryWindow)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "Invalid start time, expected RFC3339")
			return start, end, false
		}
		start = t
	}
	return start, end, true
}

// OccupancyHistory handles GET /api/history
func (h *Handlers) OccupancyHistory(c *gin.Context) {
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}
	snapshots, err := h.history.OccupancyHistory(c.Request.Context(), cameraParam(c), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// HourlyAverages handles GET /api/history/hourly
func (h *Handlers) HourlyAverages(c *gin.Context) {
	days := services.DefaultHistoryDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "Invalid days")
			return
		}
		days = n
	}
	hourly, err := h.history.AverageOccupancyByHour(c.Request.Context(), cameraParam(c), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hourly)
}

// PeriodStatistics handles GET /api/history/stats
func (h *Handlers) PeriodStatistics(c *gin.Context) {
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}
	stats, err := h.history.PeriodStatistics(c.Request.Context(), cameraParam(c), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// SaveSnapshots handles POST /api/history/snapshots (manual snapshot pass)
func (h *Handlers) SaveSnapshots(c *gin.Context) {
	saved, err := h.recorder.SaveAllCamerasSnapshots(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"saved":     len(saved),
		"snapshots": saved,
	})
}

// CleanSnapshots handles DELETE /api/history/snapshots?daysToKeep=
func (h *Handlers) CleanSnapshots(c *gin.Context) {
	days := services.DefaultRetentionDays
	if v := c.Query("daysToKeep"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "Invalid daysToKeep")
			return
		}
		days = n
	}
	deleted, err := h.pruner.CleanOldSnapshots(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted":    deleted,
		"daysToKeep": days,
	})
}
