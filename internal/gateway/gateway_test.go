package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BenedictKing/laudo/internal/metrics"
	"github.com/BenedictKing/laudo/internal/providers"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper 记录等待时长但不真正等待
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func failingTimes(n int, err error) (ProviderFunc, *int) {
	calls := 0
	return func(ctx context.Context) (*types.ProviderResponse, error) {
		calls++
		if calls <= n {
			return nil, err
		}
		return &types.ProviderResponse{Text: `{"ok":true}`}, nil
	}, &calls
}

func defaultOpts() CallOptions {
	return CallOptions{Provider: "gemini", Model: "gemini-2.0-flash", Task: "extraction", MaxAttempts: 5, BaseDelay: 2000 * time.Millisecond}
}

func TestCallBackoffSequence(t *testing.T) {
	sleeper := &recordingSleeper{}
	logs := metrics.NewCallLogStore()
	g := New(logs, WithSleeper(sleeper.sleep))

	fn, calls := failingTimes(4, providers.Transient("gemini", 503, errors.New("overloaded")))
	resp, err := g.Call(context.Background(), defaultOpts(), fn)

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, 5, *calls)
	assert.Equal(t, []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}, sleeper.delays)

	entries := logs.Get("gemini")
	require.Len(t, entries, 5)
	assert.Equal(t, "success", entries[0].Classification)
	assert.Equal(t, 5, entries[0].Attempt)
	assert.Equal(t, "transient", entries[1].Classification)
}

func TestCallExhaustsTransientRetries(t *testing.T) {
	sleeper := &recordingSleeper{}
	g := New(nil, WithSleeper(sleeper.sleep))

	fn, calls := failingTimes(100, providers.Transient("gemini", 503, errors.New("unavailable")))
	_, err := g.Call(context.Background(), defaultOpts(), fn)

	require.Error(t, err)
	assert.Equal(t, OutcomeExhausted, OutcomeOf(err))
	assert.Equal(t, 5, *calls)
	assert.Len(t, sleeper.delays, 4, "5 次尝试之间只有 4 次等待")

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 5, ce.Attempts)
	assert.True(t, providers.IsTransient(err), "底层错误仍可识别为 transient")
}

func TestCallPermanentErrorIsNotRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	g := New(nil, WithSleeper(sleeper.sleep))

	fn, calls := failingTimes(100, providers.Permanent("gemini", 400, errors.New("invalid pdf")))
	_, err := g.Call(context.Background(), defaultOpts(), fn)

	assert.Equal(t, OutcomePermanent, OutcomeOf(err))
	assert.Equal(t, 1, *calls)
	assert.Empty(t, sleeper.delays)
}

func TestCallUnsupportedMediaIsPermanent(t *testing.T) {
	g := New(nil, WithSleeper((&recordingSleeper{}).sleep))
	fn, calls := failingTimes(100, providers.ErrUnsupportedMedia)

	_, err := g.Call(context.Background(), defaultOpts(), fn)
	assert.Equal(t, OutcomePermanent, OutcomeOf(err))
	assert.ErrorIs(t, err, providers.ErrUnsupportedMedia)
	assert.Equal(t, 1, *calls)
}

func TestCallStopsWhenDeadlineCannotCoverNextDelay(t *testing.T) {
	sleeper := &recordingSleeper{}
	g := New(nil, WithSleeper(sleeper.sleep))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fn, calls := failingTimes(100, providers.Transient("gemini", 503, errors.New("unavailable")))
	_, err := g.Call(ctx, defaultOpts(), fn)

	assert.Equal(t, OutcomeTimeout, OutcomeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, sleeper.delays, "不应在截止时间之后继续等待")
}

func TestCallCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := New(nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	fn, calls := failingTimes(100, providers.Transient("claude", 529, errors.New("overloaded")))
	_, err := g.Call(ctx, defaultOpts(), fn)

	assert.Equal(t, OutcomeCanceled, OutcomeOf(err))
	assert.Equal(t, 1, *calls)
}

func TestCallDeadlineExpiresDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	g := New(nil, WithSleeper((&recordingSleeper{}).sleep))
	calls := 0
	_, err := g.Call(ctx, defaultOpts(), func(ctx context.Context) (*types.ProviderResponse, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})

	assert.Equal(t, OutcomeTimeout, OutcomeOf(err))
	assert.Equal(t, 1, calls)
}

func TestCallSingleAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	g := New(nil, WithSleeper(sleeper.sleep))

	opts := defaultOpts()
	opts.MaxAttempts = 1
	fn, calls := failingTimes(100, providers.Transient("openai", 503, errors.New("x")))

	_, err := g.Call(context.Background(), opts, fn)
	assert.Equal(t, OutcomeExhausted, OutcomeOf(err))
	assert.Equal(t, 1, *calls)
	assert.Empty(t, sleeper.delays)
}

func TestContextSleep(t *testing.T) {
	assert.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}
