package simple

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

func TestPolicyAllowHeadless(t *testing.T) {
	t.Parallel()

	p := New()
	failed := func(kind crawler.FailureKind) crawler.FetchOutcome {
		return crawler.FetchOutcome{Failure: &crawler.Failure{Kind: kind}}
	}

	assert.True(t, p.AllowHeadless(failed(crawler.FailureTransient)))
	assert.True(t, p.AllowHeadless(failed(crawler.FailureClientError)))
	assert.True(t, p.AllowHeadless(failed(crawler.FailureServerError)))
	assert.False(t, p.AllowHeadless(failed(crawler.FailureNotFound)))
	assert.False(t, p.AllowHeadless(crawler.FetchOutcome{Response: &crawler.FetchResponse{}}))

	aborted := failed(crawler.FailureTransient)
	aborted.Aborted = true
	assert.False(t, p.AllowHeadless(aborted))
}
