package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis key layout for quota state storage. Each key is suffixed with the host.
const (
	RedisKeyPrefix = "ghfetch:rate_limit"

	fieldRemaining  = "remaining"
	fieldLimit      = "limit"
	fieldReset      = "reset"
	fieldLastUpdate = "last_update"
)

// LowQuotaThreshold is the remaining count below which updates are logged at warn level.
const LowQuotaThreshold = 10

// ErrNoState is returned by GetState when nothing has been recorded for a host.
var ErrNoState = errors.New("no rate limit state recorded")

// Prometheus metrics for quota tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ghfetch_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by host",
	}, []string{"host"})

	rateLimitResetSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ghfetch_rate_limit_reset_timestamp_seconds",
		Help: "Unix time at which the current rate limit window resets by host",
	}, []string{"host"})

	rateLimitExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghfetch_rate_limit_exhausted_total",
		Help: "Total responses observed with an exhausted quota by host",
	}, []string{"host"})
)

// Tracker records the last quota observed per host in Redis. It never blocks or
// delays requests; retry decisions are made by the client from the response itself.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new quota tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// Key returns the Redis key holding the given field for host.
func Key(host, field string) string {
	return fmt.Sprintf("%s:%s:%s", RedisKeyPrefix, host, field)
}

// UpdateFromHeaders parses quota headers and stores them for host.
// Responses without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	state, ok := ParseHeaders(host, headers, t.now())
	if !ok {
		if HasHint(headers, HeaderRemaining) {
			return fmt.Errorf("parse %s header: %q", HeaderRemaining, headers.Get(HeaderRemaining))
		}
		return nil
	}

	if t.redis == nil {
		return fmt.Errorf("redis client is required")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, Key(host, fieldRemaining), state.Remaining, 0)
	pipe.Set(ctx, Key(host, fieldLimit), state.Limit, 0)
	pipe.Set(ctx, Key(host, fieldReset), state.ResetAt.Unix(), 0)
	pipe.Set(ctx, Key(host, fieldLastUpdate), lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.WithLabelValues(host).Set(float64(state.Remaining))
	if !state.ResetAt.IsZero() {
		rateLimitResetSeconds.WithLabelValues(host).Set(float64(state.ResetAt.Unix()))
	}

	switch {
	case state.IsExhausted():
		rateLimitExhaustedTotal.WithLabelValues(host).Inc()
		t.logger.Warn().
			Str("host", host).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit quota exhausted")
	case state.Remaining < LowQuotaThreshold:
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("Rate limit quota low")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("Rate limit state updated")
	}

	return nil
}

// GetState retrieves the last recorded quota for host.
// Returns ErrNoState if nothing has been recorded.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	if t.redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	remaining, err := t.redis.Get(ctx, Key(host, fieldRemaining)).Int()
	if err == redis.Nil {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := t.redis.Get(ctx, Key(host, fieldLimit)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	reset, err := t.redis.Get(ctx, Key(host, fieldReset)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, Key(host, fieldLastUpdate)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &State{
		Host:       host,
		Limit:      limit,
		Remaining:  remaining,
		LastUpdate: lastUpdate,
	}
	if reset > 0 {
		state.ResetAt = time.Unix(reset, 0)
	}
	return state, nil
}
