package client

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/Sternrassler/ghfetch/pkg/ratelimit"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Total tries = 1 + MaxRetries.
	MaxRetries int

	// BaseBackoff is the backoff for attempt 0; attempt n waits BaseBackoff * 2^n.
	BaseBackoff time.Duration

	// MaxBackoff caps ordinary backoff, including server supplied Retry-After hints.
	MaxBackoff time.Duration

	// MaxRateLimitSleep caps the wait taken on a rate limit signal.
	MaxRateLimitSleep time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		BaseBackoff:       500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		MaxRateLimitSleep: 30 * time.Second,
	}
}

// Validate checks the retry configuration for negative values.
func (rc RetryConfig) Validate() error {
	if rc.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", rc.MaxRetries)
	}
	if rc.BaseBackoff < 0 || rc.MaxBackoff < 0 || rc.MaxRateLimitSleep < 0 {
		return fmt.Errorf("backoff durations must be >= 0")
	}
	return nil
}

// rateLimitFallback is slept when a rate limit carries neither Retry-After nor a reset time.
const rateLimitFallback = 1 * time.Second

// classify maps the outcome of one attempt to an ErrorClass. The empty class means success.
func classify(statusCode int, headers http.Header, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case ratelimit.Exhausted(headers):
		return ErrorClassRateLimit
	case isRetryableStatus(statusCode):
		return ErrorClassServer
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServerFinal
	default:
		return ""
	}
}

// isRetryableStatus reports whether a status is in the retryable set.
// 429 is part of the set but is classified as a rate limit before this is consulted.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoff computes the ordinary wait before retry number attempt+1.
// A numeric Retry-After wins over the exponential schedule; both are capped at MaxBackoff.
func (c *Client) backoff(attempt int, headers http.Header) time.Duration {
	ceiling := c.config.Retry.MaxBackoff

	if wait, ok := ratelimit.RetryAfter(headers); ok {
		return clamp(wait, ceiling)
	}
	c.logMalformedHint(headers, ratelimit.HeaderRetryAfter)

	return exponentialBackoff(c.config.Retry.BaseBackoff, ceiling, attempt)
}

// rateLimitSleep computes the wait after a rate limit signal, in priority order:
// Retry-After, then X-RateLimit-Reset (+1s), then a fixed fallback.
// Every branch is capped at MaxRateLimitSleep.
func (c *Client) rateLimitSleep(headers http.Header) time.Duration {
	ceiling := c.config.Retry.MaxRateLimitSleep

	if wait, ok := ratelimit.RetryAfter(headers); ok {
		return clamp(wait, ceiling)
	}
	c.logMalformedHint(headers, ratelimit.HeaderRetryAfter)

	if reset, ok := ratelimit.ResetAt(headers); ok {
		wait := reset.Sub(c.now())
		if wait < math.MaxInt64-time.Second {
			wait += time.Second
		}
		return clamp(wait, ceiling)
	}
	c.logMalformedHint(headers, ratelimit.HeaderReset)

	return clamp(rateLimitFallback, ceiling)
}

// logMalformedHint notes a hint header that is present but not numeric.
func (c *Client) logMalformedHint(headers http.Header, name string) {
	if !ratelimit.HasHint(headers, name) {
		return
	}
	c.logger.Debug().
		Str("header", name).
		Str("value", headers.Get(name)).
		Msg("Ignoring malformed rate limit hint")
}

// exponentialBackoff returns base * 2^attempt capped at ceiling.
func exponentialBackoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	wait := float64(base) * math.Pow(2, float64(attempt))
	if wait >= float64(ceiling) {
		return clamp(ceiling, ceiling)
	}
	return time.Duration(wait)
}

// clamp bounds d to [0, ceiling].
func clamp(d, ceiling time.Duration) time.Duration {
	if ceiling < 0 {
		ceiling = 0
	}
	if d < 0 {
		return 0
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
