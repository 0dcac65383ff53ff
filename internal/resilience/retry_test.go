package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), RetryConfig{}, func(_ context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("temporary"), 503)
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ExhaustsRetries(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 42, NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 0, val, "zero value on failure")
	assert.Equal(t, 2, calls)
}

func TestDoVal_NonTransientError_NoRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent error: bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := FixedRetryConfig(5, 50*time.Millisecond)

	var calls int
	_, err := DoVal(ctx, cfg, func(_ context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestFixedRetryConfig_RetriesEveryError(t *testing.T) {
	cfg := FixedRetryConfig(3, time.Millisecond)

	var retries []int
	cfg.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("not transient")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries, "no retry callback after the final attempt")
}

func TestFixedRetryConfig_PausesBetweenAttempts(t *testing.T) {
	cfg := FixedRetryConfig(3, 20*time.Millisecond)

	start := time.Now()
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two pauses for three attempts")
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{Delay: -time.Second})
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.Delay)
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_ZeroDuration(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	// Just verify it doesn't panic.
	logger := RetryLogger("anthropic", "create_message")
	logger(1, errors.New("test error"))
}
