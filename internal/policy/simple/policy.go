// Package simple contains the static fallback admission policy.
package simple

import "github.com/JakeFAU/dossier-crawler/internal/crawler"

// Policy decides whether a failed fetch deserves a headless retry.
type Policy struct{}

// New creates a new Policy.
func New() Policy {
	return Policy{}
}

// AllowHeadless rejects failures a browser cannot fix: missing dossiers and
// stop signals.
func (Policy) AllowHeadless(outcome crawler.FetchOutcome) bool {
	if outcome.OK() || outcome.Aborted || outcome.Failure == nil {
		return false
	}
	return outcome.Failure.Kind != crawler.FailureNotFound
}
