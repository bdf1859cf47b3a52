package crawler

import (
	"context"
	"time"
)

// Fetcher performs one logical fetch. Implementations never return Go errors
// or panic; every problem is reported on the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) FetchOutcome
}

// Session is a single network identity (transport, cookies, proxy, user
// agent). Do returns an error only when no HTTP response was received.
type Session interface {
	Do(ctx context.Context, request FetchRequest) (FetchResponse, error)
	Close() error
}

// SessionFactory creates sessions and retires poisoned ones.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
	// Retire closes the session and keeps its network identity out of
	// rotation for a while.
	Retire(session Session)
}

// Extractor turns a raw page into record fields.
type Extractor interface {
	Extract(identifier string, body []byte) (map[string]any, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(identifier string, body []byte) (map[string]any, error)

// Extract calls f.
func (f ExtractorFunc) Extract(identifier string, body []byte) (map[string]any, error) {
	return f(identifier, body)
}

// RateLimiter enforces the global request cadence.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests for fetched pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
