package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/ghfetch/internal/testutil"
	"golang.org/x/time/rate"
)

// sleepRecorder replaces the client's sleep and records every requested wait.
type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return sleepContext(ctx, 0)
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestClient(t *testing.T, mock *testutil.MockAPI, retry RetryConfig) (*Client, *sleepRecorder) {
	t.Helper()

	cfg := DefaultConfig(http.Header{"Accept": []string{"application/vnd.github+json"}})
	cfg.Retry = retry
	cfg.HTTPClient = mock.Client()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig(nil),
			expectError: false,
		},
		{
			name: "zero timeout",
			config: Config{
				Retry: DefaultRetryConfig(),
			},
			expectError: true,
			errorMsg:    "timeout must be > 0 (got 0s)",
		},
		{
			name: "negative retries",
			config: Config{
				Timeout: time.Second,
				Retry:   RetryConfig{MaxRetries: -2},
			},
			expectError: true,
			errorMsg:    "max_retries must be >= 0 (got -2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	headers := http.Header{"Accept": []string{"application/json"}}
	cfg := DefaultConfig(headers)

	if cfg.BaseHeaders.Get("Accept") != "application/json" {
		t.Error("BaseHeaders not set correctly")
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.Retry != DefaultRetryConfig() {
		t.Errorf("Retry = %+v, want defaults", cfg.Retry)
	}
}

func TestRequestJSON_RetryOnServerErrorThenSuccess(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/data",
		testutil.NewServerErrorResponse(http.StatusInternalServerError),
		testutil.NewJSONResponse(`{"ok": true}`),
	)

	c, rec := newTestClient(t, mock, RetryConfig{MaxRetries: 3})

	data, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/data", nil, nil)
	if err != nil {
		t.Fatalf("RequestJSON() failed: %v", err)
	}

	body, ok := data.(map[string]any)
	if !ok || body["ok"] != true {
		t.Errorf("Body = %#v, want {ok: true}", data)
	}
	if count := mock.GetPathCount("/data"); count != 2 {
		t.Errorf("Expected 2 attempts (1 retry), got %d", count)
	}
	if waits := rec.recorded(); len(waits) != 1 {
		t.Errorf("Expected exactly one backoff, got %v", waits)
	}
}

func TestRequestJSON_RateLimitRetryAfterThenSuccess(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/ratelimited",
		testutil.NewRateLimitResponse("0"),
		testutil.NewJSONResponse(`{"ok": true}`),
	)

	c, rec := newTestClient(t, mock, RetryConfig{MaxRetries: 3})

	data, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/ratelimited", nil, nil)
	if err != nil {
		t.Fatalf("RequestJSON() failed: %v", err)
	}
	if body, ok := data.(map[string]any); !ok || body["ok"] != true {
		t.Errorf("Body = %#v, want {ok: true}", data)
	}

	waits := rec.recorded()
	if len(waits) != 1 {
		t.Fatalf("Expected one rate limit sleep, got %v", waits)
	}
	if waits[0] != 0 || waits[0] > c.config.Retry.MaxRateLimitSleep {
		t.Errorf("Rate limit sleep = %v, want 0 (<= ceiling)", waits[0])
	}
}

func TestRequestJSON_RateLimitUsesRateLimitCeiling(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/ratelimited",
		testutil.NewRateLimitResponse("20"),
		testutil.NewJSONResponse(`[]`),
	)

	c, rec := newTestClient(t, mock, RetryConfig{
		MaxRetries:        1,
		MaxBackoff:        time.Second,
		MaxRateLimitSleep: 15 * time.Second,
	})

	if _, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/ratelimited", nil, nil); err != nil {
		t.Fatalf("RequestJSON() failed: %v", err)
	}

	// 429 takes the rate limit path, so MaxRateLimitSleep applies rather than MaxBackoff.
	waits := rec.recorded()
	if len(waits) != 1 || waits[0] != 15*time.Second {
		t.Errorf("waits = %v, want [15s]", waits)
	}
}

func TestRequestJSON_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/down",
		testutil.NewServerErrorResponse(http.StatusServiceUnavailable),
		testutil.NewServerErrorResponse(http.StatusServiceUnavailable),
		testutil.NewServerErrorResponse(http.StatusServiceUnavailable),
	)

	c, rec := newTestClient(t, mock, RetryConfig{MaxRetries: 2})

	data, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/down", nil, nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if data != nil {
		t.Errorf("Expected no body, got %#v", data)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got %T", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", statusErr.StatusCode)
	}
	if statusErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", statusErr.Attempts)
	}
	if count := mock.GetPathCount("/down"); count != 3 {
		t.Errorf("Expected 3 attempts, got %d", count)
	}
	if waits := rec.recorded(); len(waits) != 2 {
		t.Errorf("Expected 2 backoffs, got %v", waits)
	}
}

func TestRequestJSON_RateLimitExhausted(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/limited", testutil.NewRateLimitResponse("1"))

	c, _ := newTestClient(t, mock, RetryConfig{MaxRetries: 1, MaxRateLimitSleep: time.Second})

	_, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/limited", nil, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got %v", err)
	}
	if statusErr.ErrorClass != ErrorClassRateLimit {
		t.Errorf("ErrorClass = %q, want rate_limit", statusErr.ErrorClass)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if count := mock.GetPathCount("/limited"); count != 2 {
		t.Errorf("Expected 2 attempts, got %d", count)
	}
}

func TestRequestJSON_NoRetryOnClientError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c, rec := newTestClient(t, mock, RetryConfig{MaxRetries: 5})

	_, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/missing", nil, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", statusErr.StatusCode)
	}
	if statusErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q, want client", statusErr.ErrorClass)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors (no retry attempted)")
	}
	if count := mock.GetPathCount("/missing"); count != 1 {
		t.Errorf("Expected 1 attempt (no retry for 4xx), got %d", count)
	}
	if waits := rec.recorded(); len(waits) != 0 {
		t.Errorf("Expected no backoff, got %v", waits)
	}
}

func TestRequestJSON_NoRetryOnNotImplemented(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/nope", testutil.NewServerErrorResponse(http.StatusNotImplemented))

	c, _ := newTestClient(t, mock, RetryConfig{MaxRetries: 5})

	_, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/nope", nil, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.ErrorClass != ErrorClassServerFinal {
		t.Fatalf("Expected server_final *StatusError, got %v", err)
	}
	if count := mock.GetPathCount("/nope"); count != 1 {
		t.Errorf("Expected 1 attempt, got %d", count)
	}
}

func TestRequestJSON_ExhaustedQuotaOnSuccessIsRateLimited(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/quota",
		testutil.NewExhaustedQuotaResponse(`{"stale": true}`, time.Now().Add(time.Hour)),
		testutil.NewJSONResponse(`{"fresh": true}`),
	)

	c, rec := newTestClient(t, mock, RetryConfig{MaxRetries: 2, MaxRateLimitSleep: 2 * time.Second})

	data, err := c.RequestJSON(context.Background(), http.MethodGet, mock.URL()+"/quota", nil, nil)
	if err != nil {
		t.Fatalf("RequestJSON() failed: %v", err)
	}
	if body := data.(map[string]any); body["fresh"] != true {
		t.Errorf("Body = %#v, want the response after the quota wait", body)
	}
	if waits := rec.recorded(); len(waits) != 1 || waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s] (reset an hour away, clamped)", waits)
	}
}

func TestDo_ReturnsHeadersAndAttempts(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/paged",
		testutil.NewServerErrorResponse(http.StatusBadGateway),
		testutil.MockResponse{
			StatusCode: http.StatusOK,
			Body:       `[1, 2, 3]`,
			Headers:    map[string]string{"Link": `<https://example.com/paged?page=2>; rel="next"`},
		},
	)

	c, _ := newTestClient(t, mock, RetryConfig{MaxRetries: 2})

	resp, err := c.Get(context.Background(), mock.URL()+"/paged", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
	if resp.Header.Get("Link") == "" {
		t.Error("Link header missing from response")
	}
	if items, ok := resp.Body.([]any); !ok || len(items) != 3 {
		t.Errorf("Body = %#v, want 3 items", resp.Body)
	}
}

func TestDo_HeaderMerging(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/headers",
		testutil.NewServerErrorResponse(http.StatusInternalServerError),
		testutil.NewJSONResponse(`{}`),
	)

	cfg := DefaultConfig(http.Header{
		"accept":        []string{"application/vnd.github+json"},
		"Authorization": []string{"Bearer base-token"},
	})
	cfg.HTTPClient = mock.Client()
	cfg.Retry = RetryConfig{MaxRetries: 1}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	perCall := http.Header{}
	perCall.Set("Authorization", "Bearer call-token")
	perCall.Set("X-Custom", "yes")

	if _, err := c.Do(context.Background(), http.MethodGet, mock.URL()+"/headers", nil, perCall); err != nil {
		t.Fatalf("Do() failed: %v", err)
	}

	sent := mock.GetRequestHeaders()
	if len(sent) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(sent))
	}
	last := sent[1]
	if got := last.Get("Authorization"); got != "Bearer call-token" {
		t.Errorf("Authorization = %q, want per-call value", got)
	}
	if got := last.Get("Accept"); got != "application/vnd.github+json" {
		t.Errorf("Accept = %q, want base value", got)
	}
	if got := last.Get("X-Custom"); got != "yes" {
		t.Errorf("X-Custom = %q, want yes", got)
	}

	id := sent[0].Get(HeaderRequestID)
	if id == "" {
		t.Fatal("X-Request-ID not set")
	}
	if sent[1].Get(HeaderRequestID) != id {
		t.Errorf("X-Request-ID changed between attempts: %q then %q", id, sent[1].Get(HeaderRequestID))
	}
	if cfg.BaseHeaders.Get("X-Request-ID") != "" {
		t.Error("base headers were mutated")
	}
}

func TestDo_QueryParams(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/issues", testutil.NewJSONResponse(`[]`))

	c, _ := newTestClient(t, mock, RetryConfig{})

	params := url.Values{"per_page": []string{"50"}, "state": []string{"open"}}
	if _, err := c.Get(context.Background(), mock.URL()+"/issues?sort=created", params); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	urls := mock.GetRequestURLs()
	if len(urls) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(urls))
	}
	parsed, _ := url.Parse(urls[0])
	query := parsed.Query()
	if query.Get("per_page") != "50" || query.Get("state") != "open" || query.Get("sort") != "created" {
		t.Errorf("query = %v, want per_page, state and the original sort", query)
	}
}

func TestDo_EmptyAndInvalidBody(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/empty", testutil.MockResponse{StatusCode: http.StatusNoContent})
	mock.SetResponse("/broken", testutil.NewJSONResponse(`{"unterminated": `))

	c, _ := newTestClient(t, mock, RetryConfig{MaxRetries: 3})

	resp, err := c.Get(context.Background(), mock.URL()+"/empty", nil)
	if err != nil {
		t.Fatalf("Get(/empty) failed: %v", err)
	}
	if resp.Body != nil {
		t.Errorf("Body = %#v, want nil", resp.Body)
	}

	_, err = c.Get(context.Background(), mock.URL()+"/broken", nil)
	if !errors.Is(err, ErrDecodeBody) {
		t.Errorf("Expected ErrDecodeBody, got %v", err)
	}
	if count := mock.GetPathCount("/broken"); count != 1 {
		t.Errorf("Decode failures should not be retried, got %d attempts", count)
	}
}

func TestDo_InvalidURL(t *testing.T) {
	c, err := New(DefaultConfig(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Get(context.Background(), "/relative/path", nil); err == nil {
		t.Error("Expected error for relative URL")
	}
}

// failingDoer fails the first failures calls with a network error, then delegates.
type failingDoer struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     Doer
}

func (d *failingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.calls++
	fail := d.calls <= d.failures
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return d.next.Do(req)
}

func TestDo_TransportErrorThenSuccess(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/flaky", testutil.NewJSONResponse(`{"ok": true}`))

	doer := &failingDoer{failures: 2, next: mock.Client()}
	cfg := DefaultConfig(nil)
	cfg.HTTPClient = doer
	cfg.Retry = RetryConfig{MaxRetries: 3, BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := &sleepRecorder{}
	c.sleep = rec.sleep

	resp, err := c.Get(context.Background(), mock.URL()+"/flaky", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}

	waits := rec.recorded()
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestDo_TransportErrorExhausted(t *testing.T) {
	doer := &failingDoer{failures: 100}
	cfg := DefaultConfig(nil)
	cfg.HTTPClient = doer
	cfg.Retry = RetryConfig{MaxRetries: 2}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.sleep = (&sleepRecorder{}).sleep

	_, err = c.Get(context.Background(), "https://api.example.com/down", nil)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected *TransportError, got %v", err)
	}
	if transportErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", transportErr.Attempts)
	}
	if doer.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", doer.calls)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
}

func TestDo_TimeoutIsRetried(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	cfg := DefaultConfig(nil)
	cfg.Timeout = 100 * time.Millisecond
	cfg.Retry = RetryConfig{MaxRetries: 1}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := c.Get(context.Background(), server.URL+"/slow", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/down", testutil.NewServerErrorResponse(http.StatusServiceUnavailable))

	c, rec := newTestClient(t, mock, RetryConfig{MaxRetries: 5, BaseBackoff: time.Second, MaxBackoff: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.cancel = cancel

	_, err := c.Get(ctx, mock.URL()+"/down", nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if count := mock.GetPathCount("/down"); count != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", count)
	}
}

func TestDo_LimiterWaitCancelled(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/data", testutil.NewJSONResponse(`{}`))

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow()

	cfg := DefaultConfig(nil)
	cfg.HTTPClient = mock.Client()
	cfg.Limiter = limiter
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Get(ctx, mock.URL()+"/data", nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if count := mock.GetRequestCount(); count != 0 {
		t.Errorf("Expected no request while the limiter blocks, got %d", count)
	}
}

// recordingObserver captures every header set offered to it.
type recordingObserver struct {
	mu    sync.Mutex
	hosts []string
	err   error
}

func (o *recordingObserver) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hosts = append(o.hosts, host)
	return o.err
}

func TestDo_QuotaObserver(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/observed",
		testutil.NewServerErrorResponse(http.StatusInternalServerError),
		testutil.NewJSONResponse(`{}`),
	)

	observer := &recordingObserver{err: errors.New("redis down")}
	cfg := DefaultConfig(nil)
	cfg.HTTPClient = mock.Client()
	cfg.Retry = RetryConfig{MaxRetries: 1}
	cfg.QuotaObserver = observer
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Get(context.Background(), mock.URL()+"/observed", nil); err != nil {
		t.Fatalf("Observer failures must not fail the request: %v", err)
	}

	parsed, _ := url.Parse(mock.URL())
	if len(observer.hosts) != 2 {
		t.Fatalf("Observer called %d times, want 2", len(observer.hosts))
	}
	for _, host := range observer.hosts {
		if host != parsed.Host {
			t.Errorf("host = %q, want %q", host, parsed.Host)
		}
	}
}

func TestMergeHeaders(t *testing.T) {
	base := http.Header{"accept": []string{"a"}, "X-Keep": []string{"k"}}
	override := http.Header{"Accept": []string{"b", "c"}}

	merged := mergeHeaders(base, override)

	if got := merged.Values("Accept"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Accept = %v, want [b c]", got)
	}
	if merged.Get("X-Keep") != "k" {
		t.Error("X-Keep lost")
	}
	if base.Get("X-Keep") != "k" || len(base) != 2 {
		t.Error("base mutated")
	}
	if merged := mergeHeaders(nil, nil); merged == nil {
		t.Error("mergeHeaders(nil, nil) returned nil")
	}
}
