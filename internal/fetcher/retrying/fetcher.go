// Package retrying implements crawler.Fetcher with bounded retries,
// exponential backoff, status-aware failure handling, and a single
// last-chance attempt on a freshly created session.
package retrying

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Fetcher shares one session across all callers and replaces it when a
// fetch exhausts its retries.
type Fetcher struct {
	cfg     Config
	factory crawler.SessionFactory
	limiter crawler.RateLimiter
	backoff *crawler.ExponentialBackoff
	clock   crawler.Clock
	logger  *zap.Logger

	mu         sync.Mutex
	session    crawler.Session
	generation int
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher. The limiter is awaited before every network attempt.
func New(
	cfg Config,
	factory crawler.SessionFactory,
	limiter crawler.RateLimiter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Fetcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		factory: factory,
		limiter: limiter,
		backoff: crawler.NewExponentialBackoff(cfg.BackoffBase, cfg.BackoffMax),
		clock:   clock,
		logger:  logger.Named("fetcher"),
	}
}

// Fetch retrieves request.URL. Cancelling ctx stops further attempts but lets
// an in-flight network call finish within RequestTimeout.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) crawler.FetchOutcome {
	logger := f.logger.With(zap.String("identifier", request.Identifier))
	var (
		last       *crawler.Failure
		attempts   int
		generation int
	)
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return aborted(last, attempts)
		}
		if attempt > 0 {
			delay := f.backoff.Delay(attempt-1, last)
			logger.Debug("backing off",
				zap.Int("attempt", attempt),
				zap.String("kind", string(last.Kind)),
				zap.Duration("delay", delay),
			)
			if err := sleep(ctx, delay); err != nil {
				return aborted(last, attempts)
			}
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return aborted(last, attempts)
		}

		var (
			session crawler.Session
			err     error
		)
		session, generation, err = f.current(ctx)
		attempts++
		var resp *crawler.FetchResponse
		if err != nil {
			last = &crawler.Failure{Kind: crawler.FailureTransient, Message: err.Error()}
		} else {
			resp, last = f.attempt(ctx, session, request)
		}
		metrics.ObserveFetchAttempt(resultLabel(last), attempt > 0)
		if last == nil {
			return crawler.FetchOutcome{Response: resp, Attempts: attempts}
		}
		if !last.Retryable() {
			logger.Debug("permanent failure", zap.String("kind", string(last.Kind)), zap.Int("status", last.StatusCode))
			return crawler.FetchOutcome{Failure: last, Attempts: attempts}
		}
		logger.Debug("retryable failure",
			zap.Int("attempt", attempt),
			zap.String("kind", string(last.Kind)),
			zap.String("error", last.Message),
		)
	}

	if ctx.Err() != nil {
		return aborted(last, attempts)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return aborted(last, attempts)
	}
	logger.Info("retries exhausted, recreating session", zap.Int("attempts", attempts))
	session, err := f.recreate(ctx, generation)
	attempts++
	var resp *crawler.FetchResponse
	if err != nil {
		last = &crawler.Failure{Kind: crawler.FailureTransient, Message: err.Error()}
	} else {
		resp, last = f.attempt(ctx, session, request)
	}
	metrics.ObserveFetchAttempt(resultLabel(last), true)
	metrics.ObserveLastChance(last == nil)
	if last == nil {
		return crawler.FetchOutcome{Response: resp, Attempts: attempts}
	}
	logger.Warn("last-chance attempt failed",
		zap.String("kind", string(last.Kind)),
		zap.String("error", last.Message),
	)
	return crawler.FetchOutcome{Failure: last, Attempts: attempts}
}

// Close retires the current session.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil {
		f.factory.Retire(f.session)
		f.session = nil
	}
}

func (f *Fetcher) attempt(
	ctx context.Context,
	session crawler.Session,
	request crawler.FetchRequest,
) (resp *crawler.FetchResponse, failure *crawler.Failure) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			failure = &crawler.Failure{Kind: crawler.FailureUnknown, Message: fmt.Sprintf("session panic: %v", r)}
		}
	}()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.RequestTimeout)
	defer cancel()

	got, err := session.Do(callCtx, request)
	if err != nil {
		return nil, &crawler.Failure{Kind: crawler.ClassifyError(err), Message: err.Error()}
	}
	if failure := crawler.FailureFromResponse(got, f.clock.Now()); failure != nil {
		return nil, failure
	}
	return &got, nil
}

func (f *Fetcher) current(ctx context.Context) (crawler.Session, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		session, err := f.factory.NewSession(ctx)
		if err != nil {
			return nil, f.generation, fmt.Errorf("create session: %w", err)
		}
		f.session = session
		f.generation++
	}
	return f.session, f.generation, nil
}

// recreate swaps the session seen at generation for a new one. If another
// caller already replaced it, the newer session is reused.
func (f *Fetcher) recreate(ctx context.Context, generation int) (crawler.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session != nil && f.generation != generation {
		return f.session, nil
	}
	if f.session != nil {
		f.factory.Retire(f.session)
		f.session = nil
	}
	session, err := f.factory.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("recreate session: %w", err)
	}
	f.session = session
	f.generation++
	return session, nil
}

func aborted(last *crawler.Failure, attempts int) crawler.FetchOutcome {
	failure := last
	if failure == nil {
		failure = &crawler.Failure{Kind: crawler.FailureUnknown, Message: "stopped before fetch"}
	}
	return crawler.FetchOutcome{Failure: failure, Attempts: attempts, Aborted: true}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resultLabel(failure *crawler.Failure) string {
	if failure == nil {
		return "ok"
	}
	return string(failure.Kind)
}
