package router

import (
	"sync"
	"testing"
	"time"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryUsageStore 只记录 AddRecord 的内存实现
type memoryUsageStore struct {
	mu      sync.Mutex
	records []metrics.UsageRecord
}

func (m *memoryUsageStore) AddRecord(r metrics.UsageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}
func (m *memoryUsageStore) LoadRecords(time.Time) ([]metrics.UsageRecord, error) {
	return m.records, nil
}
func (m *memoryUsageStore) SummarizeByModel(time.Time) ([]metrics.ModelSummary, error) {
	return nil, nil
}
func (m *memoryUsageStore) CleanupOldRecords(time.Time) (int64, error) { return 0, nil }
func (m *memoryUsageStore) Close() error                               { return nil }

func newRouter(t *testing.T) (*ModelRouter, *memoryUsageStore) {
	t.Helper()
	cfg, err := config.NewStaticConfigManager(config.DefaultPolicy())
	require.NoError(t, err)
	store := &memoryUsageStore{}
	return New(cfg, store), store
}

func TestSelectModel(t *testing.T) {
	r, _ := newRouter(t)

	tests := []struct {
		name       string
		complexity types.Complexity
		override   string
		want       string
	}{
		{"simple 默认", types.ComplexitySimple, "", "gemini-2.0-flash-lite"},
		{"medium 默认", types.ComplexityMedium, "", "gemini-2.0-flash"},
		{"complex 默认", types.ComplexityComplex, "", "claude-sonnet-4-5"},
		{"可识别的覆盖模型优先", types.ComplexitySimple, "gemini-1.5-pro", "gemini-1.5-pro"},
		{"未知覆盖模型回退默认", types.ComplexityComplex, "gpt-9", "claude-sonnet-4-5"},
		{"未知复杂度按 medium", types.Complexity("huge"), "", "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.SelectModel("extraction", tt.complexity, tt.override))
		})
	}
}

func TestSelectForTask(t *testing.T) {
	r, _ := newRouter(t)

	model, tp := r.SelectForTask("analysis")
	assert.Equal(t, "claude-sonnet-4-5", model)
	assert.Equal(t, types.ComplexityComplex, tp.Complexity)

	model, tp = r.SelectForTask("extraction")
	assert.Equal(t, "gemini-2.0-flash", model)
	assert.Equal(t, "gpt-4o-mini", tp.FallbackModel)
}

func TestTrackUsageCost(t *testing.T) {
	r, store := newRouter(t)

	record, ok := r.TrackUsage("analysis", "claude-sonnet-4-5", types.Usage{PromptTokens: 2000, CompletionTokens: 1000})
	require.True(t, ok)
	// 2000/1000*0.003 + 1000/1000*0.015
	assert.InDelta(t, 0.021, record.CostUSD, 1e-12)
	assert.Equal(t, "claude", record.Provider)
	require.Len(t, store.records, 1)
	assert.Equal(t, "analysis", store.records[0].Task)
}

func TestTrackUsageUnknownModel(t *testing.T) {
	r, store := newRouter(t)

	_, ok := r.TrackUsage("analysis", "unknown-model", types.Usage{PromptTokens: 10})
	assert.False(t, ok)
	assert.Empty(t, store.records, "未知模型不应产生成本记录")
}

func TestTrackResponseEstimatesMissingUsage(t *testing.T) {
	r, store := newRouter(t)

	req := types.ProviderRequest{SystemPrompt: "Extraia os parâmetros", UserContent: "documento anexo"}
	resp := &types.ProviderResponse{Model: "gemini-2.0-flash", Text: `{"healthMetrics":[{"name":"Glicose"}]}`}

	record, ok := r.TrackResponse("extraction", req, resp)
	require.True(t, ok)
	assert.True(t, record.Estimated)
	assert.Positive(t, record.PromptTokens)
	assert.Positive(t, record.CompletionTokens)
	require.Len(t, store.records, 1)
}

func TestCost(t *testing.T) {
	spec := config.ModelSpec{InputCostPer1K: 0.5, OutputCostPer1K: 1.5}
	assert.InDelta(t, 0.0, Cost(spec, types.Usage{}), 1e-12)
	assert.InDelta(t, 0.5+3.0, Cost(spec, types.Usage{PromptTokens: 1000, CompletionTokens: 2000}), 1e-12)
}
