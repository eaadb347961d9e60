package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BenedictKing/laudo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 5, p.Retry.MaxAttempts)
	assert.Equal(t, 2000, p.Retry.BaseDelayMs)
	assert.Equal(t, 0.8, p.FairUse.WarningRatio)
	assert.Equal(t, 0.10, p.FairUse.SoftOverageRatio)
	assert.Equal(t, 2000, p.FairUse.ThrottleMs)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"缺少套餐", func(p *Policy) { delete(p.Quotas, types.TierPaid) }},
		{"重试次数为0", func(p *Policy) { p.Retry.MaxAttempts = 0 }},
		{"警告比例越界", func(p *Policy) { p.FairUse.WarningRatio = 1.5 }},
		{"默认模型不在目录", func(p *Policy) { p.DefaultModels[types.ComplexitySimple] = "no-such-model" }},
		{"模型缺少提供商", func(p *Policy) { p.Models["x"] = ModelSpec{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestGetConfigReturnsDeepCopy(t *testing.T) {
	cm, err := NewStaticConfigManager(DefaultPolicy())
	require.NoError(t, err)

	p := cm.GetConfig()
	p.Quotas[types.TierFree][types.ResourceAnalyses] = 9999
	p.Models["gemini-2.0-flash"] = ModelSpec{Provider: "changed"}

	assert.Equal(t, int64(10), cm.GetQuota(types.TierFree, types.ResourceAnalyses))
	spec, ok := cm.GetModel("gemini-2.0-flash")
	require.True(t, ok)
	assert.Equal(t, "gemini", spec.Provider)
}

func TestNewConfigManagerWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "应生成默认策略文件")
	assert.Equal(t, "gemini-2.0-flash", cm.GetDefaultModel(types.ComplexityMedium))
}

func TestReloadKeepsPreviousPolicyOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Close()

	require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 0\n"), 0o644))
	cm.reload()
	assert.Equal(t, 5, cm.GetRetry().MaxAttempts, "非法策略不应生效")

	require.NoError(t, os.WriteFile(path, []byte("retry:\n  maxAttempts: 3\n  baseDelayMs: 100\n"), 0o644))
	cm.reload()
	assert.Equal(t, 3, cm.GetRetry().MaxAttempts)
	// 未出现的字段沿用默认值
	assert.Equal(t, 2000, cm.GetFairUse().ThrottleMs)
}

func TestSetFairUseEnforcementPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	defer cm.Close()

	require.NoError(t, cm.SetFairUseEnforcement(false))
	assert.False(t, cm.GetFairUseEnforcement())

	loaded, err := loadPolicyFile(path)
	require.NoError(t, err)
	assert.False(t, loaded.FairUse.Enforcement)
}

func TestEnvConfigShouldLog(t *testing.T) {
	c := &EnvConfig{LogLevel: "warn"}
	assert.True(t, c.ShouldLog("error"))
	assert.True(t, c.ShouldLog("warn"))
	assert.False(t, c.ShouldLog("info"))
	assert.False(t, c.ShouldLog("debug"))
}
