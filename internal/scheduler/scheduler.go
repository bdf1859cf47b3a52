// Package scheduler runs one task per identifier on a bounded pool and
// delivers results in completion order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
)

// ErrAborted is returned by tasks that were cut short by a stop signal.
// Their results are dropped so a resumed run fetches them again.
var ErrAborted = errors.New("task aborted")

// TaskFunc produces the record for one identifier.
type TaskFunc func(ctx context.Context, identifier string) (crawler.Record, error)

// Config controls the pool size.
type Config struct {
	Workers int
}

// Stats counts scheduler activity.
type Stats struct {
	Submitted   int
	Completed   int
	Failed      int
	Aborted     int
	Panics      int
	Skipped     int
	InFlight    int
	MaxInFlight int
}

// Scheduler fans identifiers out to at most Workers concurrent tasks.
type Scheduler struct {
	workers int
	task    TaskFunc
	clock   crawler.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	stats  Stats
	cancel context.CancelFunc
}

// New creates a Scheduler.
func New(cfg Config, task TaskFunc, clk crawler.Clock, logger *zap.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		workers: cfg.Workers,
		task:    task,
		clock:   clk,
		logger:  logger.Named("scheduler"),
	}
}

// Run submits one task per identifier and returns the result channel. The
// channel is closed once every started task has finished. Run must be called
// once per Scheduler.
func (s *Scheduler) Run(ctx context.Context, identifiers []string) <-chan crawler.Record {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	results := make(chan crawler.Record, s.workers)
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	go func() {
		defer close(results)
		defer cancel()
		for i, id := range identifiers {
			if runCtx.Err() != nil {
				s.skip(len(identifiers) - i)
				break
			}
			acquired := false
			select {
			case sem <- struct{}{}:
				acquired = true
			case <-runCtx.Done():
			}
			if runCtx.Err() != nil {
				if acquired {
					<-sem
				}
				s.skip(len(identifiers) - i)
				break
			}
			s.started()
			wg.Add(1)
			go func(identifier string) {
				defer wg.Done()
				defer func() { <-sem }()
				rec, ok := s.execute(runCtx, identifier)
				s.finished(rec, ok)
				if ok {
					results <- rec
				}
			}(id)
		}
		wg.Wait()
	}()
	return results
}

// Stop prevents further submissions and signals in-flight tasks to wind down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// execute runs the task, turning errors and panics into failed records. The
// boolean is false for aborted tasks.
func (s *Scheduler) execute(ctx context.Context, identifier string) (rec crawler.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", zap.String("identifier", identifier), zap.Any("panic", r))
			s.mu.Lock()
			s.stats.Panics++
			s.mu.Unlock()
			rec = crawler.FailedRecord(identifier, crawler.FailureUnknown, fmt.Sprintf("panic: %v", r), s.clock.Now())
			ok = true
		}
	}()
	rec, err := s.task(ctx, identifier)
	if errors.Is(err, ErrAborted) {
		return crawler.Record{}, false
	}
	if err != nil {
		return crawler.FailedRecord(identifier, crawler.FailureUnknown, err.Error(), s.clock.Now()), true
	}
	if rec.Identifier == "" {
		rec.Identifier = identifier
	}
	return rec, true
}

func (s *Scheduler) started() {
	metrics.IncTasksInFlight()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Submitted++
	s.stats.InFlight++
	if s.stats.InFlight > s.stats.MaxInFlight {
		s.stats.MaxInFlight = s.stats.InFlight
	}
}

func (s *Scheduler) finished(rec crawler.Record, delivered bool) {
	metrics.DecTasksInFlight()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.InFlight--
	switch {
	case !delivered:
		s.stats.Aborted++
	case rec.Success:
		s.stats.Completed++
	default:
		s.stats.Completed++
		s.stats.Failed++
	}
}

func (s *Scheduler) skip(n int) {
	s.mu.Lock()
	s.stats.Skipped += n
	s.mu.Unlock()
	s.logger.Info("stop requested, skipping remaining identifiers", zap.Int("skipped", n))
}
