// Package ratelimit interprets the quota headers sent by GitHub-style REST APIs.
// It parses Retry-After, X-RateLimit-Remaining, X-RateLimit-Reset and
// X-RateLimit-Limit, and records the last observed quota per host.
package ratelimit

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response headers carrying rate limit information.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderLimit      = "X-RateLimit-Limit"
)

// State is the quota snapshot carried by a single response.
type State struct {
	// Host is the API host the snapshot belongs to.
	Host string `json:"host"`

	// Limit is the request allowance for the current window (X-RateLimit-Limit).
	// Zero when the header is absent.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (X-RateLimit-Reset, unix seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this snapshot was taken.
	LastUpdate time.Time `json:"last_update"`
}

// IsExhausted returns true if no requests remain in the window.
func (s *State) IsExhausted() bool {
	return s.Remaining <= 0
}

// IsStale returns true if the snapshot was taken more than maxAge before now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// ParseHeaders builds a State from response headers. The second return value is
// false when the response carries no X-RateLimit-Remaining header or it is not an integer.
func ParseHeaders(host string, headers http.Header, now time.Time) (State, bool) {
	remaining, err := strconv.Atoi(strings.TrimSpace(headers.Get(HeaderRemaining)))
	if err != nil {
		return State{}, false
	}

	state := State{
		Host:       host,
		Remaining:  remaining,
		LastUpdate: now,
	}
	if limit, err := strconv.Atoi(strings.TrimSpace(headers.Get(HeaderLimit))); err == nil {
		state.Limit = limit
	}
	if reset, ok := ResetAt(headers); ok {
		state.ResetAt = reset
	}
	return state, true
}

// Exhausted reports the pre-emptive exhaustion signal: X-RateLimit-Remaining is
// exactly "0" and an X-RateLimit-Reset header is present. Some APIs send this on a
// successful response before they start answering 429.
func Exhausted(headers http.Header) bool {
	if headers == nil {
		return false
	}
	if _, ok := headers[http.CanonicalHeaderKey(HeaderReset)]; !ok {
		return false
	}
	return headers.Get(HeaderRemaining) == "0"
}

// RetryAfter returns the Retry-After hint in seconds as a duration. The result may
// be negative and saturates at the Duration range; callers clamp it. ok is false
// when the header is absent or not a number.
func RetryAfter(headers http.Header) (time.Duration, bool) {
	seconds, ok := parseSeconds(headers, HeaderRetryAfter)
	if !ok {
		return 0, false
	}
	return secondsToDuration(seconds), true
}

// ResetAt returns the X-RateLimit-Reset timestamp. Values beyond
// ±maxUnixSeconds saturate. ok is false when the header is absent or not a number.
func ResetAt(headers http.Header) (time.Time, bool) {
	seconds, ok := parseSeconds(headers, HeaderReset)
	if !ok {
		return time.Time{}, false
	}
	if seconds >= maxUnixSeconds {
		return time.Unix(maxUnixSeconds, 0), true
	}
	if seconds <= -maxUnixSeconds {
		return time.Unix(-maxUnixSeconds, 0), true
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))), true
}

// maxUnixSeconds bounds reset timestamps to what time.Unix converts without overflow.
const maxUnixSeconds = 1 << 62

// HasHint reports whether the named header is present, numeric or not.
func HasHint(headers http.Header, name string) bool {
	if headers == nil {
		return false
	}
	_, ok := headers[http.CanonicalHeaderKey(name)]
	return ok
}

func parseSeconds(headers http.Header, name string) (float64, bool) {
	if !HasHint(headers, name) {
		return 0, false
	}
	// Out of range values come back as ±Inf with ErrRange and are still hints.
	value, err := strconv.ParseFloat(strings.TrimSpace(headers.Get(name)), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if math.IsNaN(value) {
		return 0, false
	}
	return value, true
}

// secondsToDuration converts seconds to a duration, saturating instead of overflowing.
func secondsToDuration(seconds float64) time.Duration {
	nanos := seconds * float64(time.Second)
	switch {
	case nanos >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case nanos <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(nanos)
}
