package handlers

import (
	"github.com/BenedictKing/laudo/internal/config"
	"github.com/gin-gonic/gin"
)

// GetFairUse 获取公平使用拦截开关与阈值
func GetFairUse(cfgManager *config.ConfigManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		policy := cfgManager.GetFairUse()
		c.JSON(200, gin.H{
			"enforcement":      policy.Enforcement,
			"warningRatio":     policy.WarningRatio,
			"softOverageRatio": policy.SoftOverageRatio,
			"throttleMs":       policy.ThrottleMs,
		})
	}
}

// SetFairUse 设置公平使用拦截开关；关闭后只记录不拦截
func SetFairUse(cfgManager *config.ConfigManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Enforcement *bool `json:"enforcement"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Enforcement == nil {
			c.JSON(400, gin.H{"error": "Invalid request body"})
			return
		}

		if err := cfgManager.SetFairUseEnforcement(*req.Enforcement); err != nil {
			c.JSON(500, gin.H{"error": "Failed to save config"})
			return
		}

		c.JSON(200, gin.H{
			"success":     true,
			"enforcement": *req.Enforcement,
		})
	}
}
