package progress

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

// Snapshot is a consistent view of the counters.
type Snapshot struct {
	Total              int           `json:"total"`
	Processed          int           `json:"processed"`
	Successful         int           `json:"successful"`
	Failed             int           `json:"failed"`
	CurrentItem        string        `json:"current_item"`
	StartedAt          time.Time     `json:"started_at"`
	Elapsed            time.Duration `json:"elapsed"`
	ItemsPerSecond     float64       `json:"items_per_second"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	CompletionPercent  float64       `json:"completion_percent"`
	SuccessRate        float64       `json:"success_rate"`
}

// Callback receives a snapshot after each update.
type Callback func(Snapshot)

type namedCallback struct {
	name string
	fn   Callback
}

// Tracker counts processed items for one run.
type Tracker struct {
	clock  crawler.Clock
	logger *zap.Logger

	mu          sync.Mutex
	total       int
	processed   int
	successful  int
	failed      int
	currentItem string
	startedAt   time.Time

	cbMu      sync.RWMutex
	callbacks []namedCallback
}

// NewTracker creates a Tracker expecting total items.
func NewTracker(total int, clk crawler.Clock, logger *zap.Logger) *Tracker {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		clock:  clk,
		logger: logger.Named("progress"),
		total:  total,
	}
}

// Start marks the beginning of the run. Rates are zero until Start is called.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.startedAt = t.clock.Now()
	total := t.total
	t.mu.Unlock()
	t.logger.Info("tracking progress", zap.Int("total", total))
}

// SetTotal changes the expected item count.
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
	t.notify()
}

// Increment adds to the counters and notifies callbacks. An empty
// currentItem leaves the previous value.
func (t *Tracker) Increment(processed, successful, failed int, currentItem string) {
	t.mu.Lock()
	t.processed += processed
	t.successful += successful
	t.failed += failed
	if currentItem != "" {
		t.currentItem = currentItem
	}
	t.mu.Unlock()
	t.notify()
}

// Stats returns the current snapshot.
func (t *Tracker) Stats() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Total:       t.total,
		Processed:   t.processed,
		Successful:  t.successful,
		Failed:      t.failed,
		CurrentItem: t.currentItem,
		StartedAt:   t.startedAt,
	}
	if t.total > 0 {
		snap.CompletionPercent = float64(t.processed) / float64(t.total) * 100
	}
	if t.processed > 0 {
		snap.SuccessRate = float64(t.successful) / float64(t.processed) * 100
	}
	if t.startedAt.IsZero() {
		return snap
	}
	snap.Elapsed = t.clock.Now().Sub(t.startedAt)
	if snap.Elapsed > 0 {
		snap.ItemsPerSecond = float64(t.processed) / snap.Elapsed.Seconds()
	}
	remaining := t.total - t.processed
	if t.processed > 0 && snap.ItemsPerSecond > 0 && remaining > 0 {
		snap.EstimatedRemaining = time.Duration(float64(remaining) / snap.ItemsPerSecond * float64(time.Second))
	}
	return snap
}

// AddCallback registers fn under name, replacing any callback with that name.
func (t *Tracker) AddCallback(name string, fn Callback) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	for i, cb := range t.callbacks {
		if cb.name == name {
			t.callbacks[i].fn = fn
			return
		}
	}
	t.callbacks = append(t.callbacks, namedCallback{name: name, fn: fn})
}

// RemoveCallback unregisters name. Unknown names are ignored.
func (t *Tracker) RemoveCallback(name string) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	for i, cb := range t.callbacks {
		if cb.name == name {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return
		}
	}
}

// Callbacks lists registered callback names in sorted order.
func (t *Tracker) Callbacks() []string {
	t.cbMu.RLock()
	defer t.cbMu.RUnlock()
	names := make([]string, 0, len(t.callbacks))
	for _, cb := range t.callbacks {
		names = append(names, cb.name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) notify() {
	snap := t.Stats()
	t.cbMu.RLock()
	callbacks := append([]namedCallback(nil), t.callbacks...)
	t.cbMu.RUnlock()
	for _, cb := range callbacks {
		t.invoke(cb, snap)
	}
}

func (t *Tracker) invoke(cb namedCallback, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("progress callback panicked", zap.String("callback", cb.name), zap.Any("panic", r))
		}
	}()
	cb.fn(snap)
}
