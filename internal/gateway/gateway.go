// Package gateway 为提供商调用加上有界重试与指数退避
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/BenedictKing/laudo/internal/providers"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/cenkalti/backoff/v4"
)

// Outcome 调用最终结果分类
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePermanent Outcome = "permanent"
	// OutcomeExhausted 可重试错误用尽全部尝试次数
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeTimeout 截止时间已到，放弃剩余重试
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCanceled  Outcome = "canceled"
)

// CallError 网关返回的错误
type CallError struct {
	Provider string
	Outcome  Outcome
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call %s after %d attempt(s): %v", e.Provider, e.Outcome, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// OutcomeOf 取出错误的结果分类，非 CallError 视为 permanent
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Outcome
	}
	return OutcomePermanent
}

// Sleeper 可取消的等待；测试中替换为记录型实现
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep 默认 Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProviderFunc 单次提供商调用
type ProviderFunc func(ctx context.Context) (*types.ProviderResponse, error)

// CallOptions 单次网关调用参数
type CallOptions struct {
	Provider    string
	Model       string
	Task        string
	MaxAttempts int
	BaseDelay   time.Duration
}

// RetryingGateway 重试网关；无全局状态，可被多个并发流水线共享
type RetryingGateway struct {
	callLogs *metrics.CallLogStore
	sleep    Sleeper
	now      func() time.Time
}

// Option 网关选项
type Option func(*RetryingGateway)

// WithSleeper 替换等待实现
func WithSleeper(s Sleeper) Option {
	return func(g *RetryingGateway) { g.sleep = s }
}

// WithClock 替换时钟（用于截止时间判断）
func WithClock(now func() time.Time) Option {
	return func(g *RetryingGateway) { g.now = now }
}

// New 创建网关；callLogs 可为 nil
func New(callLogs *metrics.CallLogStore, opts ...Option) *RetryingGateway {
	g := &RetryingGateway{
		callLogs: callLogs,
		sleep:    ContextSleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// newBackOff 第 n 次重试前等待 baseDelay * 2^(n-1)，无抖动
func newBackOff(baseDelay time.Duration, maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(maxAttempts-1))
}

// Call 执行 fn；可重试错误按退避重试，不可重试错误或次数用尽时返回 CallError
func (g *RetryingGateway) Call(ctx context.Context, opts CallOptions, fn ProviderFunc) (*types.ProviderResponse, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	policy := newBackOff(opts.BaseDelay, opts.MaxAttempts)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, g.stop(opts, attempt-1, err)
		}

		start := g.now()
		resp, err := fn(ctx)
		elapsed := g.now().Sub(start)

		if err == nil {
			g.record(opts, attempt, OutcomeSuccess, 0, elapsed, nil)
			if attempt > 1 {
				log.Printf("[Gateway-Retry] %s 第 %d/%d 次尝试成功 (model=%s)", opts.Provider, attempt, opts.MaxAttempts, opts.Model)
			}
			return resp, nil
		}

		// 调用过程中截止时间到期或被取消
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, g.stop(opts, attempt, ctxErr)
		}

		if !providers.IsTransient(err) {
			g.logAttempt(opts, attempt, "permanent", 0, err)
			g.record(opts, attempt, OutcomePermanent, statusOf(err), elapsed, err)
			return nil, &CallError{Provider: opts.Provider, Outcome: OutcomePermanent, Attempts: attempt, Err: err}
		}

		next := policy.NextBackOff()
		if next == backoff.Stop {
			g.logAttempt(opts, attempt, "transient", 0, err)
			g.record(opts, attempt, OutcomeExhausted, statusOf(err), elapsed, err)
			log.Printf("[Gateway-Retry] %s 重试次数已用尽 (%d 次)", opts.Provider, attempt)
			return nil, &CallError{Provider: opts.Provider, Outcome: OutcomeExhausted, Attempts: attempt, Err: err}
		}

		g.logAttempt(opts, attempt, "transient", next, err)
		g.record(opts, attempt, "transient", statusOf(err), elapsed, err)

		// 剩余时间不足以等待下一次重试
		if deadline, ok := ctx.Deadline(); ok && deadline.Sub(g.now()) <= next {
			return nil, g.stop(opts, attempt, fmt.Errorf("%w: deadline reached before retry (last error: %v)", context.DeadlineExceeded, err))
		}

		if sleepErr := g.sleep(ctx, next); sleepErr != nil {
			return nil, g.stop(opts, attempt, sleepErr)
		}
	}
}

// stop 截止时间或取消导致的放弃；超时按 transient 记日志但不再重试
func (g *RetryingGateway) stop(opts CallOptions, attempts int, err error) error {
	outcome := OutcomeTimeout
	classification := "timeout"
	if errors.Is(err, context.Canceled) {
		outcome = OutcomeCanceled
		classification = "canceled"
	}
	log.Printf("[Gateway-Retry] %s 第 %d/%d 次尝试后放弃 (分类: %s, 按 transient 处理): %v",
		opts.Provider, attempts, opts.MaxAttempts, classification, err)
	g.record(opts, attempts, outcome, 0, 0, err)
	return &CallError{Provider: opts.Provider, Outcome: outcome, Attempts: attempts, Err: err}
}

func (g *RetryingGateway) logAttempt(opts CallOptions, attempt int, classification string, delay time.Duration, err error) {
	if delay > 0 {
		log.Printf("[Gateway-Retry] %s 第 %d/%d 次尝试失败 (分类: %s)，%v 后重试: %v",
			opts.Provider, attempt, opts.MaxAttempts, classification, delay, err)
		return
	}
	log.Printf("[Gateway-Retry] %s 第 %d/%d 次尝试失败 (分类: %s): %v",
		opts.Provider, attempt, opts.MaxAttempts, classification, err)
}

func (g *RetryingGateway) record(opts CallOptions, attempt int, outcome Outcome, status int, elapsed time.Duration, err error) {
	if g.callLogs == nil {
		return
	}
	entry := &metrics.CallLog{
		Timestamp:      g.now(),
		Provider:       opts.Provider,
		Model:          opts.Model,
		Task:           opts.Task,
		Attempt:        attempt,
		MaxAttempts:    opts.MaxAttempts,
		Classification: string(outcome),
		StatusCode:     status,
		DurationMs:     elapsed.Milliseconds(),
	}
	if err != nil {
		entry.ErrorInfo = err.Error()
	}
	g.callLogs.Record(entry)
}

func statusOf(err error) int {
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
