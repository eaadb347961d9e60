package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/BenedictKing/laudo/internal/fairuse"
	"github.com/BenedictKing/laudo/internal/middleware"
	"github.com/BenedictKing/laudo/internal/notify"
	"github.com/BenedictKing/laudo/internal/worker"

	"github.com/gin-gonic/gin"
)

// GetUsage GET /api/v1/usage 当月用量与限额
func GetUsage(guard *fairuse.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := guard.Report(c.Request.Context(), middleware.AccountID(c))
		if err != nil {
			log.Printf("[Usage-Report] 账户 %s 用量查询失败: %v", middleware.AccountID(c), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// StreamEvents GET /api/v1/events 当前账户的 websocket 通知流
func StreamEvents(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request, middleware.AccountID(c))
	}
}

// StatsSource 后台队列统计
type StatsSource interface {
	Stats() worker.Stats
}

// Health GET /health
func Health(version string, providers []string, bg StatsSource) gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		body := gin.H{
			"status":    "healthy",
			"version":   version,
			"uptime":    time.Since(started).Round(time.Second).String(),
			"providers": providers,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if bg != nil {
			body["background"] = bg.Stats()
		}
		c.JSON(http.StatusOK, body)
	}
}
