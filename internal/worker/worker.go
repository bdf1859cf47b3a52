// Package worker turns one identifier into one record: build the portal URL,
// fetch it, and extract the dossier fields.
package worker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/cnj"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/scheduler"
)

// FieldContentHash is the extra field carrying the SHA-256 of the fetched page.
const FieldContentHash = "content_sha256"

// Config controls Worker behavior.
type Config struct {
	// URLTemplate expands {id} to the formatted identifier and {digits} to
	// its 20 bare digits.
	URLTemplate string
}

// Worker executes the fetch and extract steps for a single identifier.
type Worker struct {
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	hasher    crawler.Hasher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. hasher may be nil.
func New(
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	hasher crawler.Hasher,
	clk crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		hasher:    hasher,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// BuildURL expands template for identifier.
func BuildURL(template, identifier string) string {
	return strings.NewReplacer(
		"{id}", identifier,
		"{digits}", cnj.Digits(identifier),
	).Replace(template)
}

// Process fetches and extracts identifier. Fetch and parse problems are
// reported as failed records; scheduler.ErrAborted is returned when a stop
// signal cut the fetch short.
func (w *Worker) Process(ctx context.Context, identifier string) (crawler.Record, error) {
	target := BuildURL(w.cfg.URLTemplate, identifier)
	outcome := w.fetcher.Fetch(ctx, crawler.FetchRequest{
		Identifier: identifier,
		URL:        target,
	})
	if outcome.Aborted {
		return crawler.Record{}, scheduler.ErrAborted
	}
	if !outcome.OK() {
		failure := outcome.Failure
		if failure == nil {
			failure = &crawler.Failure{Kind: crawler.FailureUnknown, Message: "fetch produced no response"}
		}
		w.logger.Debug("fetch failed",
			zap.String("identifier", identifier),
			zap.String("kind", string(failure.Kind)),
			zap.Int("attempts", outcome.Attempts),
		)
		rec := crawler.FailedRecord(identifier, failure.Kind, failure.Message, w.clock.Now())
		rec.SourceURL = target
		return rec, nil
	}

	resp := outcome.Response
	sourceURL := resp.URL
	if sourceURL == "" {
		sourceURL = target
	}
	fields, err := w.extractor.Extract(identifier, resp.Body)
	if err != nil {
		w.logger.Warn("extract failed", zap.String("identifier", identifier), zap.Error(err))
		rec := crawler.FailedRecord(identifier, crawler.FailureParse, err.Error(), w.clock.Now())
		rec.SourceURL = sourceURL
		return rec, nil
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	if w.hasher != nil {
		hash, err := w.hasher.Hash(resp.Body)
		if err != nil {
			return crawler.Record{}, fmt.Errorf("hash body: %w", err)
		}
		fields[FieldContentHash] = hash
	}

	source := crawler.SourceScraping
	if resp.UsedHeadless {
		source = crawler.SourceHeadless
	}
	return crawler.Record{
		Identifier:  identifier,
		ExtractedAt: w.clock.Now(),
		Success:     true,
		SourceURL:   sourceURL,
		Source:      source,
		Fields:      fields,
	}, nil
}
