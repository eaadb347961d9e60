package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID 请求 ID 头
const HeaderRequestID = "X-Request-ID"

const ctxRequestID = "requestId"

// RequestID 透传或生成请求 ID，并在开发模式下记录耗时
func RequestID(verbose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)

		start := time.Now()
		c.Next()

		if verbose {
			log.Printf("[HTTP-Request] %s %s %d %v (id=%s)",
				c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), id)
		}
	}
}

// GetRequestID 当前请求 ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
