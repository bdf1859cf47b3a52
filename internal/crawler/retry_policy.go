package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ExponentialBackoff computes jittered delays between fetch attempts.
type ExponentialBackoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialBackoff builds a backoff of base*2^attempt capped at max.
// A zero max disables the cap.
func NewExponentialBackoff(base, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{baseDelay: base, maxDelay: maxDelay}
}

// Delay returns the wait before the attempt following a failure. A
// Retry-After hint on a rate-limited failure replaces the computed value.
func (b *ExponentialBackoff) Delay(attempt int, failure *Failure) time.Duration {
	if failure != nil && failure.Kind == FailureRateLimited && failure.RetryAfter > 0 {
		return failure.RetryAfter
	}
	delay := float64(b.baseDelay) * math.Pow(2, float64(attempt))
	if b.maxDelay > 0 && delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	return time.Duration(delay) + randomJitter(time.Duration(delay/10))
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// ClassifyStatus maps an HTTP status to a failure kind. It returns "" for
// statuses that carry content.
func ClassifyStatus(code int) FailureKind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == http.StatusNotFound || code == http.StatusGone:
		return FailureNotFound
	case code == http.StatusTooManyRequests:
		return FailureRateLimited
	case code >= 500:
		return FailureServerError
	case code >= 400:
		return FailureClientError
	default:
		return FailureUnknown
	}
}

// ClassifyError maps a transport error to a failure kind.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return FailureUnknown
	}
	return FailureTransient
}

func retryableStatus(code int) bool {
	switch code {
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

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date relative to now.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := when.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// FailureFromResponse classifies a non-2xx response.
func FailureFromResponse(resp FetchResponse, now time.Time) *Failure {
	kind := ClassifyStatus(resp.StatusCode)
	if kind == "" {
		return nil
	}
	failure := &Failure{
		Kind:       kind,
		Message:    "HTTP " + strconv.Itoa(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	if kind == FailureRateLimited && resp.Headers != nil {
		if wait, ok := ParseRetryAfter(resp.Headers.Get("Retry-After"), now); ok {
			failure.RetryAfter = wait
		}
	}
	return failure
}
