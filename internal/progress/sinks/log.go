package sinks

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

// LogSink logs tracker snapshots at most once per interval, plus the final
// snapshot once every item has been processed.
type LogSink struct {
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewLogSink wires a zap logger to the progress callback interface.
func NewLogSink(logger *zap.Logger, interval time.Duration) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, interval: interval, now: time.Now}
}

// Callback returns the function to register on a tracker.
func (s *LogSink) Callback() progress.Callback {
	return s.Observe
}

// Observe logs snap unless the previous line is more recent than the
// interval.
func (s *LogSink) Observe(snap progress.Snapshot) {
	done := snap.Total > 0 && snap.Processed >= snap.Total
	now := s.now()
	s.mu.Lock()
	if !done && !s.last.IsZero() && now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return
	}
	s.last = now
	s.mu.Unlock()

	s.logger.Info("progress",
		zap.Int("processed", snap.Processed),
		zap.Int("total", snap.Total),
		zap.Int("successful", snap.Successful),
		zap.Int("failed", snap.Failed),
		zap.Float64("percent", snap.CompletionPercent),
		zap.Float64("items_per_second", snap.ItemsPerSecond),
		zap.Duration("eta", snap.EstimatedRemaining),
		zap.String("current", snap.CurrentItem),
	)
}
