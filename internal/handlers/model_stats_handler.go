package handlers

import (
	"log"
	"time"

	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/gin-gonic/gin"
)

// ModelSummarizer 由 metrics.SQLiteStore 实现
type ModelSummarizer interface {
	SummarizeByModel(since time.Time) ([]metrics.ModelSummary, error)
}

// GetModelStats 获取按模型聚合的调用量与成本
func GetModelStats(summarizer ModelSummarizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		durationStr := c.DefaultQuery("duration", "24h")

		var duration time.Duration
		var err error

		if durationStr == "today" {
			duration = metrics.CalculateTodayDuration()
			if duration < time.Minute {
				duration = time.Minute
			}
		} else {
			duration, err = time.ParseDuration(durationStr)
			if err != nil || duration <= 0 {
				c.JSON(400, gin.H{"error": "Invalid duration parameter. Use: 1h, 6h, 24h, or today"})
				return
			}
		}

		if duration > 30*24*time.Hour {
			duration = 30 * 24 * time.Hour
		}

		if summarizer == nil {
			c.JSON(503, gin.H{"error": "Cost telemetry is disabled"})
			return
		}

		since := time.Now().Add(-duration)
		models, err := summarizer.SummarizeByModel(since)
		if err != nil {
			log.Printf("[Stats-Models] 聚合成本记录失败: %v", err)
			c.JSON(500, gin.H{"error": "Failed to load model stats"})
			return
		}
		if models == nil {
			models = make([]metrics.ModelSummary, 0)
		}

		var totalCost float64
		for _, m := range models {
			totalCost += m.CostUSD
		}

		c.JSON(200, gin.H{
			"models":       models,
			"duration":     durationStr,
			"since":        since.UTC().Format(time.RFC3339),
			"totalCostUsd": totalCost,
		})
	}
}
