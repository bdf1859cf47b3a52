// Package fallback composes a primary fetcher with a last-resort one, used to
// put a headless browser behind the plain HTTP path.
package fallback

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

// Policy decides whether a primary outcome should be retried on the
// secondary fetcher.
type Policy interface {
	AllowHeadless(outcome crawler.FetchOutcome) bool
}

// Fetcher tries primary first and secondary once when policy allows.
type Fetcher struct {
	primary   crawler.Fetcher
	secondary crawler.Fetcher
	policy    Policy
	logger    *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher.
func New(primary, secondary crawler.Fetcher, policy Policy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		primary:   primary,
		secondary: secondary,
		policy:    policy,
		logger:    logger.Named("fallback"),
	}
}

// Fetch implements crawler.Fetcher. When the primary outcome was usable but
// promoted anyway, it is kept if the secondary fails.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) crawler.FetchOutcome {
	outcome := f.primary.Fetch(ctx, request)
	if !f.policy.AllowHeadless(outcome) || ctx.Err() != nil {
		return outcome
	}
	reason := "thin response"
	if outcome.Failure != nil {
		reason = string(outcome.Failure.Kind)
	}
	f.logger.Info("promoting fetch to fallback",
		zap.String("identifier", request.Identifier),
		zap.String("reason", reason),
	)
	second := f.secondary.Fetch(ctx, request)
	second.Attempts += outcome.Attempts
	if second.OK() || second.Aborted {
		return second
	}
	if outcome.OK() {
		outcome.Attempts = second.Attempts
		return outcome
	}
	// Report the primary failure; it is usually the more specific one.
	second.Failure = outcome.Failure
	return second
}
