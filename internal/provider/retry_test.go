package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Base: time.Millisecond, MaxSleep: 2 * time.Millisecond}
}

func TestReliablyRecordsEveryAttempt(t *testing.T) {
	calls := 0
	res := Reliably(context.Background(), fastPolicy(3), func(ctx context.Context) FetchResult {
		calls++
		if calls < 3 {
			return FetchResult{HTTPStatus: 503, Error: "upstream unavailable"}
		}
		return FetchResult{OK: true, Title: "finally"}
	})

	assert.True(t, res.OK)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.AttemptCount)
	require.Len(t, res.Attempts, 3)
	assert.False(t, res.Attempts[0].OK)
	assert.Equal(t, 503, res.Attempts[0].HTTPStatus)
	assert.True(t, res.Attempts[2].OK)
}

func TestReliablyStopsOnNonRetryable(t *testing.T) {
	calls := 0
	res := Reliably(context.Background(), fastPolicy(4), func(ctx context.Context) FetchResult {
		calls++
		return FetchResult{HTTPStatus: 404, Error: "HTTP 404 fetching product page"}
	})

	assert.False(t, res.OK)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.AttemptCount)
}

func TestReliablyNeverRetriesBlocks(t *testing.T) {
	calls := 0
	res := Reliably(context.Background(), fastPolicy(4), func(ctx context.Context) FetchResult {
		calls++
		return FetchResult{Blocked: true, HTTPStatus: 503, Error: "marketplace blocked the request (captcha/robot check)"}
	})

	assert.False(t, res.OK)
	assert.True(t, res.Blocked)
	assert.Equal(t, 1, calls)
}

func TestReliablyExhaustsBudget(t *testing.T) {
	calls := 0
	res := Reliably(context.Background(), fastPolicy(2), func(ctx context.Context) FetchResult {
		calls++
		return FetchResult{HTTPStatus: 500, Error: "boom"}
	})

	assert.False(t, res.OK)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.AttemptCount)
	assert.Len(t, res.Attempts, 2)
}

func TestReliablyRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := Reliably(ctx, RetryPolicy{MaxAttempts: 5, Base: 50 * time.Millisecond, MaxSleep: time.Second},
		func(ctx context.Context) FetchResult {
			calls++
			cancel()
			return FetchResult{HTTPStatus: 503, Error: "upstream unavailable"}
		})

	assert.False(t, res.OK)
	assert.Equal(t, 1, calls)
}

func TestReliablyNormalizesEmptyPolicy(t *testing.T) {
	res := Reliably(context.Background(), RetryPolicy{}, func(ctx context.Context) FetchResult {
		return FetchResult{OK: true}
	})
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.AttemptCount)
}
