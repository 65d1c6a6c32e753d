// Package client provides a resilient JSON HTTP client with retries, exponential
// backoff and rate limit handling for GitHub-style REST APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/ghfetch/pkg/logging"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghfetch_requests_total",
		Help: "Total HTTP attempts by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghfetch_request_duration_seconds",
		Help:    "HTTP attempt duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghfetch_errors_total",
		Help: "Total failed attempts by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghfetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghfetch_retry_backoff_seconds",
		Help:    "Wait before a retry by error class",
		Buckets: []float64{0, 0.5, 1, 2, 4, 8, 15, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghfetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass represents the classification of one attempt's outcome.
type ErrorClass string

const (
	// ErrorClassClient represents non-retryable 4xx errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents retryable 5xx errors (500, 502, 503, 504).
	ErrorClassServer ErrorClass = "server"

	// ErrorClassServerFinal represents the remaining 5xx errors, which are not retried.
	ErrorClassServerFinal ErrorClass = "server_final"

	// ErrorClassRateLimit represents 429 responses and exhausted quota headers.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// HeaderRequestID is attached to every attempt of one logical request.
const HeaderRequestID = "X-Request-ID"

// maxErrorBody bounds how much of an error response body is kept in StatusError.
const maxErrorBody = 512

// Doer issues a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// QuotaObserver receives the headers of every response. ratelimit.Tracker satisfies it.
type QuotaObserver interface {
	UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error
}

// Response is the result of a successful request.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the decoded JSON body; nil for an empty body.
	Body any

	// Attempts is the number of HTTP attempts made, including the successful one.
	Attempts int
}

// Client is a resilient JSON HTTP client. A Client holds no per-request state and
// may be shared, but each call runs its retries strictly sequentially.
type Client struct {
	httpClient Doer
	config     Config
	logger     zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Config holds the client configuration.
type Config struct {
	// BaseHeaders are sent with every request; per-call headers win on conflicts.
	BaseHeaders http.Header

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// Retry
	Retry RetryConfig

	// Limiter, if set, is waited on before every attempt, retries included.
	Limiter *rate.Limiter

	// HTTPClient overrides the transport. Defaults to an *http.Client using Timeout.
	HTTPClient Doer

	// QuotaObserver, if set, is offered the headers of every response.
	QuotaObserver QuotaObserver
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseHeaders http.Header) Config {
	return Config{
		BaseHeaders: baseHeaders,
		Timeout:     10 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
		}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
		sleep:      sleepContext,
		now:        time.Now,
	}, nil
}

// RequestJSON performs a request and returns the decoded JSON body.
func (c *Client) RequestJSON(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) (any, error) {
	resp, err := c.Do(ctx, method, rawURL, params, headers)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Get performs a GET request and returns the full response.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, params, nil)
}

// Do performs a request with retries, backoff and rate limit handling and returns
// the status, headers and decoded body of the first successful response.
func (c *Client) Do(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) (*Response, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, err
	}

	reqHeaders := mergeHeaders(c.config.BaseHeaders, headers)
	if reqHeaders.Get(HeaderRequestID) == "" {
		reqHeaders.Set(HeaderRequestID, uuid.NewString())
	}

	endpoint := target.Path
	logger := c.logger.With().
		Str("endpoint", endpoint).
		Str("method", method).
		Str("request_id", reqHeaders.Get(HeaderRequestID)).
		Logger()

	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if err := c.waitLimiter(ctx); err != nil {
			return nil, err
		}

		logger.Debug().Int("attempt", attempt).Msg("Executing request")
		res, reqErr := c.send(ctx, method, target, reqHeaders)
		if reqErr != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		var (
			statusCode int
			header     http.Header
		)
		if res != nil {
			statusCode = res.statusCode
			header = res.header
			c.observe(ctx, target.Host, header, logger)
		}

		errClass := classify(statusCode, header, reqErr)
		if errClass != "" {
			errorsTotal.WithLabelValues(string(errClass)).Inc()
		}

		var wait time.Duration
		switch errClass {
		case "":
			body, err := decodeBody(res.body)
			if err != nil {
				return nil, err
			}
			if attempt > 0 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return &Response{
				StatusCode: statusCode,
				Header:     header,
				Body:       body,
				Attempts:   attempt + 1,
			}, nil

		case ErrorClassClient, ErrorClassServerFinal:
			logger.Warn().
				Int("status", statusCode).
				Str("error_class", string(errClass)).
				Msg("Request failed with non-retryable status")
			return nil, newStatusError(res, errClass, target, attempt+1, nil)

		case ErrorClassNetwork:
			logger.Warn().Err(reqErr).Int("attempt", attempt).Msg("HTTP request failed")
			if attempt >= c.config.Retry.MaxRetries {
				c.exhausted(errClass, logger)
				return nil, &TransportError{URL: target.String(), Attempts: attempt + 1, Err: reqErr}
			}
			wait = c.backoff(attempt, nil)

		case ErrorClassRateLimit:
			logger.Warn().Int("status", statusCode).Int("attempt", attempt).Msg("Rate limited")
			if attempt >= c.config.Retry.MaxRetries {
				c.exhausted(errClass, logger)
				return nil, newStatusError(res, errClass, target, attempt+1, ErrRetryExhausted)
			}
			wait = c.rateLimitSleep(header)

		case ErrorClassServer:
			logger.Warn().Int("status", statusCode).Int("attempt", attempt).Msg("Retryable server error")
			if attempt >= c.config.Retry.MaxRetries {
				c.exhausted(errClass, logger)
				return nil, newStatusError(res, errClass, target, attempt+1, ErrRetryExhausted)
			}
			wait = c.backoff(attempt, header)
		}

		retriesTotal.WithLabelValues(string(errClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errClass)).Observe(wait.Seconds())
		logger.Debug().
			Str("error_class", string(errClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, wait); err != nil {
			logger.Warn().Int("attempt", attempt).Msg("Context cancelled during retry backoff")
			return nil, err
		}
	}

	return nil, ErrInternalInvariant
}

// attemptResult is the raw outcome of one HTTP exchange.
type attemptResult struct {
	statusCode int
	status     string
	header     http.Header
	body       []byte
}

// send performs a single attempt bounded by the configured timeout.
// The body is read fully before the attempt's context is released.
func (c *Client) send(ctx context.Context, method string, target *url.URL, headers http.Header) (*attemptResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = headers.Clone()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(target.Path).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(target.Path, "network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(target.Path, "network_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	requestsTotal.WithLabelValues(target.Path, strconv.Itoa(resp.StatusCode)).Inc()
	return &attemptResult{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		header:     resp.Header,
		body:       body,
	}, nil
}

// waitLimiter blocks on the optional client-side limiter.
func (c *Client) waitLimiter(ctx context.Context) error {
	if c.config.Limiter == nil {
		return nil
	}
	if err := c.config.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter wait: %v", ErrContextCancelled, err)
	}
	return nil
}

// observe hands response headers to the quota observer. Failures are logged only.
func (c *Client) observe(ctx context.Context, host string, header http.Header, logger zerolog.Logger) {
	if c.config.QuotaObserver == nil {
		return
	}
	if err := c.config.QuotaObserver.UpdateFromHeaders(ctx, host, header); err != nil {
		logger.Warn().Err(err).Msg("Failed to update rate limit state from headers")
	}
}

func (c *Client) exhausted(errClass ErrorClass, logger zerolog.Logger) {
	retryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
	logger.Warn().
		Str("error_class", string(errClass)).
		Int("max_retries", c.config.Retry.MaxRetries).
		Msg("Retry attempts exhausted")
}

func newStatusError(res *attemptResult, errClass ErrorClass, target *url.URL, attempts int, err error) *StatusError {
	body := res.body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	message := res.status
	if len(bytes.TrimSpace(body)) > 0 {
		message = fmt.Sprintf("%s: %s", res.status, bytes.TrimSpace(body))
	}
	return &StatusError{
		StatusCode: res.statusCode,
		ErrorClass: errClass,
		Message:    message,
		URL:        target.String(),
		Attempts:   attempts,
		Err:        err,
	}
}

// buildURL parses rawURL and appends params to any query it already carries.
func buildURL(rawURL string, params url.Values) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", rawURL)
	}
	if len(params) > 0 {
		query := target.Query()
		for key, values := range params {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		target.RawQuery = query.Encode()
	}
	return target, nil
}

// mergeHeaders returns base overlaid with override; override replaces a key entirely.
func mergeHeaders(base, override http.Header) http.Header {
	merged := make(http.Header, len(base)+len(override))
	for key, values := range base {
		merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	for key, values := range override {
		merged[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return merged
}

// decodeBody decodes a JSON body. An empty body decodes to nil.
func decodeBody(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeBody, err)
	}
	return decoded, nil
}

// IsRetryExhausted reports whether err ended a request because the retry budget ran out.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}
