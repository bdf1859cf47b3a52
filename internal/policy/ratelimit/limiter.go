// Package ratelimit implements the global minimum-interval limiter shared by
// every fetch worker.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/dossier-crawler/internal/metrics"
)

// Limiter serializes callers so that consecutive Wait returns are separated
// by at least the configured delay plus up to 10% jitter.
type Limiter struct {
	mu          sync.Mutex
	delay       time.Duration
	jitterRatio float64
	lastRequest time.Time
	now         func() time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the minimum gap between requests. Zero disables waiting.
	Delay time.Duration
	// JitterRatio bounds the random extra wait as a fraction of Delay.
	// Defaults to 0.1.
	JitterRatio float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	ratio := cfg.JitterRatio
	if ratio <= 0 {
		ratio = 0.1
	}
	delay := cfg.Delay
	if delay < 0 {
		delay = 0
	}
	return &Limiter{
		delay:       delay,
		jitterRatio: ratio,
		now:         time.Now,
	}
}

// Delay returns the configured minimum interval.
func (l *Limiter) Delay() time.Duration {
	return l.delay
}

// Wait blocks until the next request may be issued. The lock is held while
// sleeping so that waiters are released one at a time. A cancelled context
// aborts the wait and leaves the timestamp untouched.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.delay <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now()
	sleep := time.Duration(0)
	if !l.lastRequest.IsZero() {
		if elapsed := start.Sub(l.lastRequest); elapsed < l.delay {
			sleep = l.delay - elapsed
		}
	}
	if sleep > 0 {
		sleep += l.jitter()
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
		metrics.ObserveRateLimitWait(sleep)
	}
	l.lastRequest = l.now()
	return nil
}

func (l *Limiter) jitter() time.Duration {
	limit := float64(l.delay) * l.jitterRatio
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * limit)
}
