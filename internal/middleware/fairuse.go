package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/BenedictKing/laudo/internal/fairuse"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/gin-gonic/gin"
)

const ctxFairUse = "fairUseDecision"

// FairUse 在处理器之前执行配额检查：附加信号头、硬拦截返回 429、软超额限流
func FairUse(guard *fairuse.Guard, resource types.Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		decision := guard.Check(ctx, AccountID(c), resource)
		for k, v := range decision.Headers() {
			c.Header(k, v)
		}

		if err := guard.Enforce(ctx, decision); err != nil {
			var exceeded *fairuse.QuotaExceeded
			if errors.As(err, &exceeded) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":        "fair use limit exceeded",
					"resource":     exceeded.Resource,
					"limit":        exceeded.Limit,
					"currentUsage": exceeded.CurrentUsage,
				})
				return
			}
			// 限流等待期间客户端断开
			log.Printf("[FairUse-Throttle] 账户 %s 等待期间请求结束: %v", AccountID(c), err)
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{"error": "request canceled"})
			return
		}

		c.Set(ctxFairUse, decision)
		c.Next()
	}
}

// FairUseDecision 中间件写入的检查结果
func FairUseDecision(c *gin.Context) (fairuse.Decision, bool) {
	v, ok := c.Get(ctxFairUse)
	if !ok {
		return fairuse.Decision{}, false
	}
	d, ok := v.(fairuse.Decision)
	return d, ok
}
