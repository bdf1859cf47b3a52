// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// FailureKind classifies why a fetch did not produce content.
type FailureKind string

// Failure kinds reported on FetchOutcome and persisted on failed records.
const (
	FailureTransient   FailureKind = "transient"
	FailureRateLimited FailureKind = "rate_limited"
	FailureNotFound    FailureKind = "not_found"
	FailureClientError FailureKind = "client_error"
	FailureServerError FailureKind = "server_error"
	FailureUnknown     FailureKind = "unknown"

	// FailureParse marks content that was fetched but could not be
	// extracted or encoded. It is never produced by a fetcher.
	FailureParse FailureKind = "parse_error"
)

// Record sources.
const (
	SourceScraping     = "scraping"
	SourceHeadless     = "headless"
	SourceBaseDosDados = "basedosdados"
)

// FetchRequest captures everything needed to fetch one identifier.
type FetchRequest struct {
	Identifier string
	URL        string
	Headers    http.Header
}

// FetchResponse is what a Session returns for a completed round trip,
// including non-2xx responses.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Failure describes a fetch that ended without usable content.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	RetryAfter time.Duration
}

// Retryable reports whether another attempt may succeed.
func (f Failure) Retryable() bool {
	switch f.Kind {
	case FailureTransient, FailureRateLimited:
		return true
	case FailureServerError:
		return retryableStatus(f.StatusCode)
	default:
		return false
	}
}

// FetchOutcome is the result of one logical fetch. Exactly one of Response
// and Failure is set.
type FetchOutcome struct {
	Response *FetchResponse
	Failure  *Failure
	Attempts int
	// Aborted marks outcomes cut short by a stop signal. They are neither
	// persisted nor checkpointed.
	Aborted bool
}

// OK reports whether the outcome carries content.
func (o FetchOutcome) OK() bool {
	return o.Response != nil && o.Failure == nil
}

// Record is the per-identifier result handed to the store.
type Record struct {
	Identifier  string
	ExtractedAt time.Time
	Success     bool
	Error       string
	ErrorKind   FailureKind
	SourceURL   string
	Source      string
	Fields      map[string]any
}

// FailedRecord builds the record persisted for an identifier that could not
// be fetched or parsed.
func FailedRecord(identifier string, kind FailureKind, message string, at time.Time) Record {
	return Record{
		Identifier:  identifier,
		ExtractedAt: at,
		Success:     false,
		Error:       message,
		ErrorKind:   kind,
	}
}
