// Package testutil provides a scriptable GitHub-like API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock REST server for testing.
type MockAPI struct {
	server    *httptest.Server
	mu        sync.RWMutex
	handlers  map[string]http.HandlerFunc
	sequences map[string][]MockResponse

	requestCount      int
	pathCounts        map[string]int
	lastRequestHeader http.Header
	requestHeaders    []http.Header
	requestURLs       []string
}

// NewMockAPI creates and starts a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:   make(map[string]http.HandlerFunc),
		sequences:  make(map[string][]MockResponse),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		mock.requestHeaders = append(mock.requestHeaders, r.Header.Clone())
		mock.requestURLs = append(mock.requestURLs, r.URL.String())

		if seq, ok := mock.sequences[r.URL.Path]; ok && len(seq) > 0 {
			resp := seq[0]
			if len(seq) > 1 {
				mock.sequences[r.URL.Path] = seq[1:]
			}
			mock.mu.Unlock()
			writeResponse(w, resp)
			return
		}

		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Client returns an *http.Client wired to the mock server.
func (m *MockAPI) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
	m.requestHeaders = nil
	m.requestURLs = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetSequence serves responses for path in order. The last response repeats.
func (m *MockAPI) SetSequence(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = append([]MockResponse(nil), responses...)
}

// SetIssuePages serves /repos/{owner}/{repo}/issues as len(pageSizes) pages. Page n
// holds pageSizes[n-1] issues and carries a Link header with next/last relations
// except on the final page.
func (m *MockAPI) SetIssuePages(owner, repo string, pageSizes ...int) {
	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
			page = p
		}
		if page > len(pageSizes) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("[]"))
			return
		}

		perPage := r.URL.Query().Get("per_page")
		pageURL := func(n int) string {
			q := fmt.Sprintf("page=%d", n)
			if perPage != "" {
				q = fmt.Sprintf("per_page=%s&state=open&%s", perPage, q)
			}
			return fmt.Sprintf("%s%s?%s", m.URL(), path, q)
		}

		var links []string
		if page < len(pageSizes) {
			links = append(links, fmt.Sprintf(`<%s>; rel="next"`, pageURL(page+1)))
			links = append(links, fmt.Sprintf(`<%s>; rel="last"`, pageURL(len(pageSizes))))
		}
		if page > 1 {
			links = append(links, fmt.Sprintf(`<%s>; rel="first"`, pageURL(1)))
			links = append(links, fmt.Sprintf(`<%s>; rel="prev"`, pageURL(page-1)))
		}
		if len(links) > 0 {
			w.Header().Set("Link", strings.Join(links, ", "))
		}

		issues := make([]map[string]any, 0, pageSizes[page-1])
		for i := 0; i < pageSizes[page-1]; i++ {
			issues = append(issues, map[string]any{
				"number": page*1000 + i,
				"title":  fmt.Sprintf("issue %d on page %d", i, page),
				"state":  "open",
			})
		}
		body, _ := json.Marshal(issues)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(60-page))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockAPI) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader.Clone()
}

// GetRequestHeaders returns the headers of every request in arrival order.
func (m *MockAPI) GetRequestHeaders() []http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]http.Header, len(m.requestHeaders))
	copy(out, m.requestHeaders)
	return out
}

// GetRequestURLs returns the request URIs (path and query) in arrival order.
func (m *MockAPI) GetRequestURLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.requestURLs))
	copy(out, m.requestURLs)
	return out
}

func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"message": "Not Found"}`))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewJSONResponse creates a 200 OK response with a JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response. An empty
// retryAfter omits the Retry-After header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "API rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewExhaustedQuotaResponse creates a 200 OK response announcing an exhausted quota.
func NewExhaustedQuotaResponse(body string, reset time.Time) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Limit":     "60",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
		},
	}
}

// NewServerErrorResponse creates an error response with the given 5xx status.
func NewServerErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"message": "server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
