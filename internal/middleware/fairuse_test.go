package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BenedictKing/laudo/internal/config"
	"github.com/BenedictKing/laudo/internal/fairuse"
	"github.com/BenedictKing/laudo/internal/store"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFairUseRouter(t *testing.T, usedRequests int64) (*gin.Engine, *[]time.Duration) {
	t.Helper()
	policy := config.DefaultPolicy()
	policy.Quotas[types.TierFree][types.ResourceRequests] = 100
	policy.FairUse.Enforcement = true
	cfg, err := config.NewStaticConfigManager(policy)
	require.NoError(t, err)

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	accounts := store.NewMemoryStore()
	accounts.PutAccount(types.Account{ID: "acc", Tier: types.TierFree})
	usage := fairuse.NewMemoryUsageStore()
	if usedRequests > 0 {
		require.NoError(t, usage.Increment(context.Background(), "acc", types.ResourceRequests, now, usedRequests))
	}

	var delays []time.Duration
	guard := fairuse.NewGuard(cfg, accounts, usage,
		fairuse.WithClock(func() time.Time { return now }),
		fairuse.WithSleeper(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}))

	r := gin.New()
	r.POST("/analyze",
		func(c *gin.Context) { c.Set(ctxAccountID, "acc"); c.Next() },
		FairUse(guard, types.ResourceRequests),
		func(c *gin.Context) {
			d, ok := FairUseDecision(c)
			c.JSON(http.StatusOK, gin.H{"mode": d.Mode, "ok": ok})
		})
	return r, &delays
}

func TestFairUseMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		used      int64
		status    int
		warning   string
		remaining string
		throttled bool
	}{
		{"正常", 10, http.StatusOK, "", "90", false},
		{"接近上限", 90, http.StatusOK, fairuse.WarningApproaching, "10", false},
		{"软超额限流", 105, http.StatusOK, fairuse.WarningOverLimit, "0", true},
		{"硬拦截", 120, http.StatusTooManyRequests, fairuse.WarningOverLimit, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, delays := setupFairUseRouter(t, tt.used)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.warning, w.Header().Get(fairuse.HeaderWarning))
			assert.Equal(t, "100", w.Header().Get(fairuse.HeaderLimit))
			assert.Equal(t, tt.remaining, w.Header().Get(fairuse.HeaderRemaining))
			if tt.throttled {
				assert.Equal(t, []time.Duration{2 * time.Second}, *delays)
			} else {
				assert.Empty(t, *delays)
			}
		})
	}
}

func TestFairUseMiddlewareRejectionBody(t *testing.T) {
	router, _ := setupFairUseRouter(t, 150)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Error        string `json:"error"`
		Resource     string `json:"resource"`
		Limit        int64  `json:"limit"`
		CurrentUsage int64  `json:"currentUsage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, "requests", body.Resource)
	assert.Equal(t, int64(100), body.Limit)
	assert.Equal(t, int64(150), body.CurrentUsage)
}
