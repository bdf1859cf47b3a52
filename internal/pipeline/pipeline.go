// Package pipeline runs a scrape end to end: validate the identifier list,
// skip what the destination already holds, fetch the rest on the scheduler,
// and persist every record through the incremental store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/cnj"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/progress"
	"github.com/JakeFAU/dossier-crawler/internal/scheduler"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// ErrNoValidIdentifiers is returned when validation leaves nothing to do.
var ErrNoValidIdentifiers = errors.New("no valid identifiers")

const invalidSampleSize = 5

// Store is the persistence surface the runner needs.
type Store interface {
	Add(ctx context.Context, rec crawler.Record) error
	Flush(ctx context.Context) error
	SaveCheckpoint(ctx context.Context)
	ProcessedIdentifiers(ctx context.Context) ([]string, error)
	Finalize(ctx context.Context) (store.Stats, error)
	WriteFailureLog(ctx context.Context) (string, int, error)
	Close() error
}

// PreSource answers identifiers before any fetch is scheduled.
type PreSource interface {
	Lookup(ctx context.Context, identifiers []string) ([]crawler.Record, error)
}

// Config controls a run.
type Config struct {
	RunID   string
	Workers int
	// Topic receives the run summary when a publisher is configured.
	Topic string
}

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID           string        `json:"run_id"`
	Requested       int           `json:"requested"`
	Valid           int           `json:"valid"`
	Invalid         int           `json:"invalid"`
	AlreadyDone     int           `json:"already_done"`
	FromPreSource   int           `json:"from_pre_source"`
	Scheduled       int           `json:"scheduled"`
	Processed       int           `json:"processed"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Skipped         int           `json:"skipped"`
	Aborted         int           `json:"aborted"`
	Interrupted     bool          `json:"interrupted"`
	SuccessRate     float64       `json:"success_rate"`
	Duration        time.Duration `json:"duration"`
	Store           store.Stats   `json:"store"`
	FailureLog      string        `json:"failure_log,omitempty"`
	FailureLogCount int           `json:"failure_log_count"`
}

// Runner wires the task, the store, the tracker and an optional publisher.
type Runner struct {
	cfg       Config
	task      scheduler.TaskFunc
	store     Store
	tracker   *progress.Tracker
	publisher crawler.Publisher
	preSource PreSource
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Runner. tracker and publisher may be nil.
func New(
	cfg Config,
	task scheduler.TaskFunc,
	st Store,
	tracker *progress.Tracker,
	publisher crawler.Publisher,
	clk crawler.Clock,
	logger *zap.Logger,
) *Runner {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = progress.NewTracker(0, clk, logger)
	}
	return &Runner{
		cfg:       cfg,
		task:      task,
		store:     st,
		tracker:   tracker,
		publisher: publisher,
		clock:     clk,
		logger:    logger.Named("pipeline").With(zap.String("run_id", cfg.RunID)),
	}
}

// UsePreSource makes Run look pending identifiers up in src first. Records
// it returns are persisted and not fetched. A failed lookup is logged and
// every identifier is fetched.
func (r *Runner) UsePreSource(src PreSource) {
	r.preSource = src
}

// Tracker exposes the run's progress tracker.
func (r *Runner) Tracker() *progress.Tracker {
	return r.tracker
}

// Run processes identifiers. Cancelling ctx stops new fetches; completed
// records are still persisted and a checkpoint is left behind so the next
// run resumes. Store writes are detached from ctx for that reason.
func (r *Runner) Run(ctx context.Context, identifiers []string) (Summary, error) {
	start := r.clock.Now()
	storeCtx := context.WithoutCancel(ctx)
	summary := Summary{RunID: r.cfg.RunID, Requested: len(identifiers)}

	valid, invalid := cnj.ValidateList(identifiers)
	summary.Valid, summary.Invalid = len(valid), len(invalid)
	if len(invalid) > 0 {
		r.logger.Warn("dropped invalid identifiers",
			zap.Int("invalid", len(invalid)),
			zap.Strings("sample", sample(invalid, invalidSampleSize)),
		)
	}
	if len(valid) == 0 {
		return summary, ErrNoValidIdentifiers
	}

	pending, done, err := r.pending(storeCtx, valid)
	if err != nil {
		return summary, err
	}
	summary.AlreadyDone = done
	pending, err = r.preload(ctx, storeCtx, pending, &summary)
	if err != nil {
		r.closeStore()
		return summary, err
	}
	summary.Scheduled = len(pending)
	r.logger.Info("starting run",
		zap.Int("valid", len(valid)),
		zap.Int("already_done", done),
		zap.Int("from_pre_source", summary.FromPreSource),
		zap.Int("pending", len(pending)),
		zap.Int("workers", r.cfg.Workers),
	)

	r.tracker.SetTotal(len(pending))
	r.tracker.Start()
	sched := scheduler.New(scheduler.Config{Workers: r.cfg.Workers}, r.task, r.clock, r.logger)
	if err := r.consume(ctx, storeCtx, sched, pending, &summary); err != nil {
		r.closeStore()
		return summary, err
	}
	schedStats := sched.Stats()
	summary.Skipped = schedStats.Skipped
	summary.Aborted = schedStats.Aborted
	summary.Interrupted = ctx.Err() != nil

	if summary.Interrupted {
		if err := r.store.Flush(storeCtx); err != nil {
			r.logger.Error("flush on interrupt failed", zap.Error(err))
		}
		r.store.SaveCheckpoint(storeCtx)
		r.closeStore()
		summary.Duration = r.clock.Now().Sub(start)
		summary.SuccessRate = successRate(summary.Successful, summary.Processed)
		r.logger.Warn("run interrupted",
			zap.Int("processed", summary.Processed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("aborted", summary.Aborted),
		)
		return summary, ctx.Err()
	}

	stats, err := r.store.Finalize(storeCtx)
	if err != nil {
		return summary, fmt.Errorf("finalize store: %w", err)
	}
	summary.Store = stats
	uri, n, err := r.store.WriteFailureLog(storeCtx)
	if err != nil {
		r.logger.Error("write failure log failed", zap.Error(err))
	}
	summary.FailureLog, summary.FailureLogCount = uri, n
	summary.Duration = r.clock.Now().Sub(start)
	summary.SuccessRate = successRate(summary.Successful, summary.Processed)

	r.publish(storeCtx, summary)
	r.logger.Info("run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("total_records", stats.TotalRecords),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (r *Runner) pending(ctx context.Context, valid []string) ([]string, int, error) {
	processed, err := r.store.ProcessedIdentifiers(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load processed identifiers: %w", err)
	}
	seen := make(map[string]struct{}, len(processed))
	for _, id := range processed {
		seen[id] = struct{}{}
	}
	pending := make([]string, 0, len(valid))
	for _, id := range valid {
		if _, ok := seen[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending, len(valid) - len(pending), nil
}

// preload persists the records the pre-source knows and returns the
// identifiers still to fetch.
func (r *Runner) preload(ctx, storeCtx context.Context, pending []string, summary *Summary) ([]string, error) {
	if r.preSource == nil || len(pending) == 0 {
		return pending, nil
	}
	records, err := r.preSource.Lookup(ctx, pending)
	if err != nil {
		r.logger.Warn("pre-source lookup failed, fetching every identifier", zap.Error(err))
		return pending, nil
	}
	want := make(map[string]struct{}, len(pending))
	for _, id := range pending {
		want[id] = struct{}{}
	}
	answered := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := want[rec.Identifier]; !ok {
			continue
		}
		if _, dup := answered[rec.Identifier]; dup {
			continue
		}
		rec = store.Encodable(rec)
		if err := r.add(storeCtx, rec); err != nil {
			return nil, err
		}
		answered[rec.Identifier] = struct{}{}
		summary.FromPreSource++
		summary.Processed++
		if rec.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	remaining := make([]string, 0, len(pending)-len(answered))
	for _, id := range pending {
		if _, ok := answered[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}

// add hands rec to the store. Only corruption is fatal; a failed flush keeps
// the batch buffered for the next attempt.
func (r *Runner) add(ctx context.Context, rec crawler.Record) error {
	err := r.store.Add(ctx, rec)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrCorrupt) {
		return fmt.Errorf("abort run: %w", err)
	}
	r.logger.Warn("store write failed, batch kept for retry",
		zap.String("identifier", rec.Identifier),
		zap.Error(err),
	)
	return nil
}

// consume is the single reader of the scheduler's results. It and preload
// are the only callers of Store.Add, and they never run concurrently.
func (r *Runner) consume(
	ctx context.Context,
	storeCtx context.Context,
	sched *scheduler.Scheduler,
	pending []string,
	summary *Summary,
) error {
	results := sched.Run(ctx, pending)
	for rec := range results {
		rec = store.Encodable(rec)
		summary.Processed++
		successful, failed := 0, 1
		if rec.Success {
			summary.Successful++
			successful, failed = 1, 0
		} else {
			summary.Failed++
		}
		if err := r.add(storeCtx, rec); err != nil {
			sched.Stop()
			for range results {
			}
			return err
		}
		r.tracker.Increment(1, successful, failed, rec.Identifier)
	}
	return nil
}

func (r *Runner) closeStore() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("close store failed", zap.Error(err))
	}
}

func (r *Runner) publish(ctx context.Context, summary Summary) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, summary)
	if err != nil {
		r.logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	r.logger.Info("published run summary", zap.String("message_id", id), zap.String("topic", r.cfg.Topic))
}

func successRate(successful, processed int) float64 {
	if processed == 0 {
		return 0
	}
	return float64(successful) / float64(processed) * 100
}

func sample(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
