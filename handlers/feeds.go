package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FeedWebSocket handles GET /ws/feeds
func (h *Handlers) FeedWebSocket(c *gin.Context) {
	if h.feeds == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Feed hub not initialized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("⚠️ WebSocket upgrade failed", zap.Error(err))
		return
	}
	h.feeds.Serve(conn, c.ClientIP())
}

// FeedStats handles GET /api/feeds/stats
func (h *Handlers) FeedStats(c *gin.Context) {
	if h.feeds == nil {
		c.JSON(http.StatusOK, gin.H{
			"enabled": false,
		})
		return
	}

	stats := h.feeds.Stats()
	c.JSON(http.StatusOK, gin.H{
		"enabled":       true,
		"clients":       stats.Clients,
		"subscriptions": stats.Subscriptions,
		"activeCameras": stats.ActiveCameras,
	})
}
