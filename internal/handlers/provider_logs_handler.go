package handlers

import (
	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/gin-gonic/gin"
)

// GetProviderLogs 获取提供商最近的网关尝试日志
func GetProviderLogs(callLogStore *metrics.CallLogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("name")
		if provider == "" {
			c.JSON(400, gin.H{"error": "Invalid provider name"})
			return
		}

		logs := callLogStore.Get(provider)
		if logs == nil {
			logs = make([]*metrics.CallLog, 0)
		}

		c.JSON(200, gin.H{
			"provider": provider,
			"logs":     logs,
		})
	}
}

// ListProviderLogs 列出有日志的提供商
func ListProviderLogs(callLogStore *metrics.CallLogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{"providers": callLogStore.Providers()})
	}
}
