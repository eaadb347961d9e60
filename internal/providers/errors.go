package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	// KindTransient 可重试（503、过载、限流、网络抖动）
	KindTransient ErrorKind = "transient"
	// KindPermanent 不可重试（校验、鉴权、不支持的输入）
	KindPermanent ErrorKind = "permanent"
)

// ErrUnsupportedMedia 提供商不支持该文档类型
var ErrUnsupportedMedia = errors.New("unsupported media for provider")

// ErrEmptyResponse 提供商返回了空内容
var ErrEmptyResponse = errors.New("provider returned no content")

// ProviderError 带分类的提供商错误
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient 构造可重试错误
func Transient(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTransient, StatusCode: statusCode, Err: err}
}

// Permanent 构造不可重试错误
func Permanent(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindPermanent, StatusCode: statusCode, Err: err}
}

// IsTransient 判断错误是否可重试
// 未分类的错误：网络错误、超时及包含过载/限流字样的消息视为可重试，其余按不可重试处理
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	if errors.Is(err, ErrUnsupportedMedia) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return looksOverloaded(err.Error())
}

// IsClientSideError 调用方主动取消（不计入提供商失败）
func IsClientSideError(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ClassifyStatusCode 按 HTTP 状态码分类
func ClassifyStatusCode(code int) ErrorKind {
	switch {
	case code == 408 || code == 409 || code == 425 || code == 429:
		return KindTransient
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

func looksOverloaded(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"overloaded", "rate limit", "rate_limit", "too many requests", "unavailable", "try again"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
