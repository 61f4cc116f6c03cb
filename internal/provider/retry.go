package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds one adapter's attempts: Base doubles per attempt and the
// sleep is capped at MaxSleep.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxSleep    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxSleep <= 0 {
		p.MaxSleep = 10 * time.Second
	}
	return p
}

func (p RetryPolicy) backoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Base
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxSleep
	bo.RandomizationFactor = 0 // deterministic doubling
	bo.Reset()
	return bo
}

// Reliably runs fn up to the policy's attempt budget, sleeping between
// transient failures, and attaches the full attempt trail to whatever result
// it returns. Non-retryable failures stop the loop immediately.
func Reliably(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) FetchResult) FetchResult {
	policy = policy.normalized()
	bo := policy.backoff()

	var attempts []Attempt
	var last FetchResult
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		res := fn(ctx)
		attempts = append(attempts, attemptFromResult(res, attempt))
		if res.OK {
			res.AttemptCount = attempt
			res.Attempts = attempts
			return res
		}
		last = res
		if attempt >= policy.MaxAttempts || !ShouldRetry(res) {
			break
		}
		select {
		case <-ctx.Done():
			last.Error = joinErr(last.Error, ctx.Err().Error())
		case <-time.After(capSleep(bo.NextBackOff(), policy.MaxSleep)):
		}
		if ctx.Err() != nil {
			break
		}
	}

	last.AttemptCount = len(attempts)
	last.Attempts = attempts
	if last.Error == "" {
		last.Error = "retries exhausted"
	}
	return last
}

func capSleep(d, max time.Duration) time.Duration {
	if d < 0 || d > max {
		return max
	}
	return d
}

func joinErr(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
