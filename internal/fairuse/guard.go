// Package fairuse 按账户月度用量执行预警、软限流与硬拦截
package fairuse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/store"
	"github.com/BenedictKing/laudo/internal/types"
)

// Mode 判定结果类型
type Mode string

const (
	ModeBypass    Mode = "bypass"    // 管理员
	ModeUnlimited Mode = "unlimited" // 附加包或不限量套餐
	ModeNormal    Mode = "normal"
	ModeSoft      Mode = "soft"      // 超额 < 10%，放行并限流
	ModeHard      Mode = "hard"      // 拒绝
	ModeMonitor   Mode = "monitor"   // 拦截开关关闭，仅记录
	ModeFailOpen  Mode = "fail_open" // 计算出错，放行
)

// Warning 头取值
const (
	WarningApproaching = "approaching_limit"
	WarningOverLimit   = "over_limit"
)

// Header 名称
const (
	HeaderWarning   = "X-FairUse-Warning"
	HeaderRemaining = "X-FairUse-Remaining"
	HeaderLimit     = "X-FairUse-Limit"
)

// QuotaExceeded 硬拦截信号，面向用户的预期拒绝
type QuotaExceeded struct {
	Resource     types.Resource `json:"resource"`
	Limit        int64          `json:"limit"`
	CurrentUsage int64          `json:"currentUsage"`
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d", e.Resource, e.CurrentUsage, e.Limit)
}

// Decision 一次检查的结果
type Decision struct {
	Allow        bool
	Mode         Mode
	Resource     types.Resource
	Warning      string
	Throttle     time.Duration
	Limit        int64 // <0 表示不限量
	CurrentUsage int64
	Exceeded     *QuotaExceeded
}

// Remaining 剩余额度，不限量时返回 -1
func (d Decision) Remaining() int64 {
	if d.Limit < 0 {
		return -1
	}
	if d.CurrentUsage >= d.Limit {
		return 0
	}
	return d.Limit - d.CurrentUsage
}

// Headers 返回附加到响应上的信号
func (d Decision) Headers() map[string]string {
	h := make(map[string]string, 3)
	if d.Warning != "" {
		h[HeaderWarning] = d.Warning
	}
	if d.Limit >= 0 && d.Mode != ModeBypass && d.Mode != ModeFailOpen {
		h[HeaderLimit] = strconv.FormatInt(d.Limit, 10)
		h[HeaderRemaining] = strconv.FormatInt(d.Remaining(), 10)
	}
	return h
}

// Sleeper 可取消的等待
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Guard 公平使用守卫
type Guard struct {
	cfg      *config.ConfigManager
	accounts store.AccountDirectory
	usage    UsageStore
	now      func() time.Time
	sleep    Sleeper
}

// Option Guard 配置项
type Option func(*Guard)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithSleeper 替换限流等待
func WithSleeper(s Sleeper) Option {
	return func(g *Guard) { g.sleep = s }
}

// NewGuard 创建守卫
func NewGuard(cfg *config.ConfigManager, accounts store.AccountDirectory, usage UsageStore, opts ...Option) *Guard {
	g := &Guard{
		cfg:      cfg,
		accounts: accounts,
		usage:    usage,
		now:      time.Now,
		sleep:    contextSleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolveAccount 账户不存在时按免费套餐处理
func (g *Guard) resolveAccount(ctx context.Context, accountID string) (*types.Account, error) {
	acc, err := g.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &types.Account{ID: accountID, Tier: types.TierFree}, nil
		}
		return nil, err
	}
	if acc.Tier == "" {
		acc.Tier = types.TierFree
	}
	return acc, nil
}

// Check 评估账户对资源的本月用量
func (g *Guard) Check(ctx context.Context, accountID string, resource types.Resource) Decision {
	acc, err := g.resolveAccount(ctx, accountID)
	if err != nil {
		log.Printf("[FairUse-Check] 读取账户失败，放行: account=%s, err=%v", accountID, err)
		return Decision{Allow: true, Mode: ModeFailOpen, Resource: resource, Limit: -1}
	}
	if acc.IsAdmin {
		return Decision{Allow: true, Mode: ModeBypass, Resource: resource, Limit: -1}
	}
	if acc.HasAddon(resource) {
		return Decision{Allow: true, Mode: ModeUnlimited, Resource: resource, Limit: -1}
	}

	limit := g.cfg.GetQuota(acc.Tier, resource)
	if limit < 0 {
		return Decision{Allow: true, Mode: ModeUnlimited, Resource: resource, Limit: -1}
	}

	usage, err := g.usage.MonthlyUsage(ctx, accountID, resource, g.now())
	if err != nil {
		log.Printf("[FairUse-Check] 读取用量失败，放行: account=%s, resource=%s, err=%v", accountID, resource, err)
		return Decision{Allow: true, Mode: ModeFailOpen, Resource: resource, Limit: -1}
	}

	policy := g.cfg.GetFairUse()
	d := evaluate(resource, usage, limit, policy)

	if !policy.Enforcement && d.Mode != ModeNormal {
		log.Printf("[FairUse-Monitor] 拦截已关闭，仅记录: account=%s, resource=%s, usage=%d/%d, 原判定=%s",
			accountID, resource, usage, limit, d.Mode)
		d.Allow = true
		d.Mode = ModeMonitor
		d.Throttle = 0
		d.Exceeded = nil
		return d
	}

	switch d.Mode {
	case ModeSoft:
		log.Printf("[FairUse-Soft] 软限流: account=%s, resource=%s, usage=%d/%d, delay=%v",
			accountID, resource, usage, limit, d.Throttle)
	case ModeHard:
		log.Printf("[FairUse-Hard] 拒绝: account=%s, resource=%s, usage=%d/%d", accountID, resource, usage, limit)
	}
	return d
}

// evaluate 纯阈值判定
func evaluate(resource types.Resource, usage, limit int64, policy config.FairUsePolicy) Decision {
	d := Decision{Resource: resource, Limit: limit, CurrentUsage: usage}

	if limit > 0 && usage < limit {
		d.Allow = true
		d.Mode = ModeNormal
		if float64(usage)/float64(limit) > policy.WarningRatio {
			d.Warning = WarningApproaching
		}
		return d
	}

	// limit == 0 时套餐不含该资源，直接硬拦截
	if limit > 0 {
		overageRatio := float64(usage-limit) / float64(limit)
		if overageRatio < policy.SoftOverageRatio {
			d.Allow = true
			d.Mode = ModeSoft
			d.Warning = WarningOverLimit
			d.Throttle = time.Duration(policy.ThrottleMs) * time.Millisecond
			return d
		}
	}

	d.Allow = false
	d.Mode = ModeHard
	d.Warning = WarningOverLimit
	d.Exceeded = &QuotaExceeded{Resource: resource, Limit: limit, CurrentUsage: usage}
	return d
}

// Enforce 执行判定：软限流时同步等待，硬拦截时返回 *QuotaExceeded
func (g *Guard) Enforce(ctx context.Context, d Decision) error {
	if !d.Allow {
		return d.Exceeded
	}
	if d.Throttle > 0 {
		if err := g.sleep(ctx, d.Throttle); err != nil {
			return err
		}
	}
	return nil
}

// TrackUsage 累加当天计数器，与 Check 相互独立
func (g *Guard) TrackUsage(ctx context.Context, accountID string, resource types.Resource, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := g.usage.Increment(ctx, accountID, resource, g.now(), amount); err != nil {
		log.Printf("[FairUse-Track] 累加用量失败: account=%s, resource=%s, amount=%d, err=%v",
			accountID, resource, amount, err)
		return err
	}
	return nil
}

// ResourceUsage 单个资源的本月用量
type ResourceUsage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

// UsageReport 账户本月用量报告
type UsageReport struct {
	AccountID string                           `json:"accountId"`
	Tier      types.Tier                       `json:"tier"`
	Month     string                           `json:"month"`
	Resources map[types.Resource]ResourceUsage `json:"resources"`
}

// Report 生成账户本月用量报告
func (g *Guard) Report(ctx context.Context, accountID string) (*UsageReport, error) {
	acc, err := g.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	snap, err := g.usage.MonthlySnapshot(ctx, accountID, now)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{
		AccountID: accountID,
		Tier:      acc.Tier,
		Month:     now.Format("2006-01"),
		Resources: make(map[types.Resource]ResourceUsage, len(types.AllResources)),
	}
	for _, r := range types.AllResources {
		used := snap[r]
		limit := g.cfg.GetQuota(acc.Tier, r)
		unlimited := acc.IsAdmin || acc.HasAddon(r) || limit < 0
		ru := ResourceUsage{Used: used, Limit: limit, Unlimited: unlimited}
		if unlimited {
			ru.Limit = -1
			ru.Remaining = -1
		} else {
			ru.Remaining = Decision{Limit: limit, CurrentUsage: used}.Remaining()
		}
		report.Resources[r] = ru
	}
	return report, nil
}
