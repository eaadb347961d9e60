// Package handlers 提供 HTTP 处理器
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

var errBodyTooLarge = errors.New("request body too large")

// readLimited 读取至多 limit 字节；超限时返回 413 并排空剩余数据
func readLimited(c *gin.Context, r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return nil, err
	}
	if int64(len(data)) > limit {
		// 排空剩余请求体，避免 keep-alive 连接污染
		_, _ = io.Copy(io.Discard, c.Request.Body)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("Request body too large, maximum size is %d MB", limit>>20),
		})
		return nil, errBodyTooLarge
	}
	return data, nil
}
