package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/clock"
	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/metrics"
	"github.com/JakeFAU/dossier-crawler/internal/storage"
)

var (
	// ErrStoreIO marks a flush that could not read or replace the
	// destination. The buffer is kept and the flush retried later.
	ErrStoreIO = errors.New("store io failure")
	// ErrCorrupt marks a destination that exists but cannot be decoded.
	ErrCorrupt = errors.New("store destination is corrupt")
)

const parquetContentType = "application/vnd.apache.parquet"

// Mirror receives every successfully merged batch.
type Mirror interface {
	UpsertRows(ctx context.Context, rows []Row) error
}

// Config controls batching and naming.
type Config struct {
	Destination        storage.Location
	BatchSize          int
	CheckpointInterval int
	MergePolicy        MergePolicy
	TempDir            string
	RunID              string
}

// Checkpoint is the resumability side file.
type Checkpoint struct {
	ProcessedIdentifiers []string  `json:"processed_identifiers"`
	Timestamp            time.Time `json:"timestamp"`
	CacheSize            int       `json:"cache_size"`
	ProcessedCount       int       `json:"processed_count"`
	RunID                string    `json:"run_id,omitempty"`
	OutputPath           string    `json:"output_path"`
}

// Stats summarizes the destination after Finalize.
type Stats struct {
	TotalRecords      int            `json:"total_records"`
	Successful        int            `json:"successful_extractions"`
	Failed            int            `json:"failed_extractions"`
	UniqueIdentifiers int            `json:"unique_identifiers"`
	OutputPath        string         `json:"output_path"`
	FileSizeBytes     int64          `json:"file_size_bytes"`
	Sources           map[string]int `json:"sources"`
	ProcessedCount    int            `json:"processed_count"`
}

// FailureEntry is one line of the failure log.
type FailureEntry struct {
	Identifier string    `json:"identifier"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store buffers rows and merges them into the destination. It is meant for a
// single consumer goroutine.
type Store struct {
	cfg    Config
	blobs  storage.BlobStore
	mirror Mirror
	clock  crawler.Clock
	logger *zap.Logger

	tempDir   string
	buffer    []Row
	persisted map[string]struct{}
	added     int
	flushes   int
}

// New creates a store writing to cfg.Destination through blobs. mirror may be
// nil.
func New(cfg Config, blobs storage.BlobStore, mirror Mirror, clk crawler.Clock, logger *zap.Logger) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Destination.Name == "" {
		return nil, fmt.Errorf("destination is required")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = 1
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = MergeLastWrite
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tempDir, err := os.MkdirTemp(cfg.TempDir, "dossier-store-")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %v", ErrStoreIO, err)
	}
	return &Store{
		cfg:       cfg,
		blobs:     blobs,
		mirror:    mirror,
		clock:     clk,
		logger:    logger.Named("store"),
		tempDir:   tempDir,
		persisted: make(map[string]struct{}),
	}, nil
}

// CheckpointKey is the object key of the checkpoint side file.
func (s *Store) CheckpointKey() string {
	return s.cfg.Destination.Key(s.cfg.Destination.Stem() + "_checkpoint.json")
}

// FailureLogKey is the object key of the failure log.
func (s *Store) FailureLogKey() string {
	return s.cfg.Destination.Key(s.cfg.Destination.Stem() + "_errors.json")
}

func (s *Store) dataKey() string {
	return s.cfg.Destination.Key(s.cfg.Destination.Name)
}

// Buffered reports how many rows await the next flush.
func (s *Store) Buffered() int {
	return len(s.buffer)
}

// Add buffers rec, flushing when the batch is full and checkpointing every
// CheckpointInterval records. A returned ErrStoreIO leaves rec buffered.
// Records whose fields cannot be encoded are stored as parse failures.
func (s *Store) Add(ctx context.Context, rec crawler.Record) error {
	row, err := RowFromRecord(rec)
	if err != nil {
		s.logger.Warn("record fields not encodable, storing failure",
			zap.String("identifier", rec.Identifier),
			zap.Error(err),
		)
		if row, err = RowFromRecord(encodeFailure(rec, err)); err != nil {
			return fmt.Errorf("%w: encode failure row: %v", ErrStoreIO, err)
		}
	}
	s.buffer = append(s.buffer, row)
	s.added++

	var flushErr error
	if len(s.buffer) >= s.cfg.BatchSize {
		flushErr = s.Flush(ctx)
	}
	if s.added%s.cfg.CheckpointInterval == 0 {
		s.SaveCheckpoint(ctx)
	}
	return flushErr
}

// Flush merges the buffer into the destination. The destination is replaced
// only once the merged file has been fully written.
func (s *Store) Flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	start := time.Now()
	err := s.flush(ctx)
	metrics.ObserveFlush(err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("flush failed, keeping buffer",
			zap.Int("buffered", len(s.buffer)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Store) flush(ctx context.Context) error {
	s.flushes++
	batch := s.buffer

	encoded, err := EncodeRows(batch)
	if err != nil {
		return fmt.Errorf("%w: encode batch: %v", ErrStoreIO, err)
	}
	batchPath := filepath.Join(s.tempDir, fmt.Sprintf("batch_%d_%d.parquet", s.flushes, s.clock.Now().Unix()))
	if err := os.WriteFile(batchPath, encoded, 0o600); err != nil {
		return fmt.Errorf("%w: write batch: %v", ErrStoreIO, err)
	}
	defer func() { _ = os.Remove(batchPath) }()

	incoming, err := readBatch(batchPath)
	if err != nil {
		return err
	}
	existing, err := s.readDestination(ctx)
	if err != nil {
		return err
	}
	merged := Merge(existing, incoming, s.cfg.MergePolicy)
	data, err := EncodeRows(merged)
	if err != nil {
		return fmt.Errorf("%w: encode merged file: %v", ErrStoreIO, err)
	}
	mergedPath := filepath.Join(s.tempDir, "merged.parquet")
	if err := os.WriteFile(mergedPath, data, 0o600); err != nil {
		return fmt.Errorf("%w: write merged file: %v", ErrStoreIO, err)
	}
	defer func() { _ = os.Remove(mergedPath) }()

	f, err := os.Open(mergedPath)
	if err != nil {
		return fmt.Errorf("%w: reopen merged file: %v", ErrStoreIO, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := s.blobs.PutObject(ctx, s.dataKey(), parquetContentType, f); err != nil {
		return fmt.Errorf("%w: replace destination: %v", ErrStoreIO, err)
	}

	for _, row := range incoming {
		s.persisted[row.Identifier] = struct{}{}
	}
	s.buffer = nil
	s.logger.Debug("flushed batch",
		zap.Int("batch", len(batch)),
		zap.Int("rows", len(merged)),
	)

	if s.mirror != nil {
		if err := s.mirror.UpsertRows(ctx, incoming); err != nil {
			s.logger.Warn("mirror upsert failed", zap.Int("rows", len(incoming)), zap.Error(err))
		}
	}
	return nil
}

// readBatch decodes the batch file written for the current flush; the merge
// input is what reached disk, not the in-memory buffer.
func readBatch(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read batch: %v", ErrStoreIO, err)
	}
	rows, err := DecodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode batch: %v", ErrStoreIO, err)
	}
	return rows, nil
}

// readDestination returns the rows currently stored. A missing destination
// yields no rows.
func (s *Store) readDestination(ctx context.Context) ([]Row, error) {
	data, err := s.blobs.GetObject(ctx, s.dataKey())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read destination: %v", ErrStoreIO, err)
	}
	rows, err := DecodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.cfg.Destination, err)
	}
	return rows, nil
}

// Rows returns the rows currently in the destination, without the buffer.
func (s *Store) Rows(ctx context.Context) ([]Row, error) {
	return s.readDestination(ctx)
}

// SaveCheckpoint writes the checkpoint side file. It lists identifiers whose
// rows have been merged into the destination. Failures are logged only.
func (s *Store) SaveCheckpoint(ctx context.Context) {
	ids := make([]string, 0, len(s.persisted))
	for id := range s.persisted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cp := Checkpoint{
		ProcessedIdentifiers: ids,
		Timestamp:            s.clock.Now(),
		CacheSize:            len(s.buffer),
		ProcessedCount:       s.added,
		RunID:                s.cfg.RunID,
		OutputPath:           s.cfg.Destination.String(),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		s.logger.Warn("encode checkpoint failed", zap.Error(err))
		return
	}
	if _, err := s.blobs.PutObject(ctx, s.CheckpointKey(), "application/json", bytes.NewReader(data)); err != nil {
		s.logger.Warn("save checkpoint failed", zap.String("key", s.CheckpointKey()), zap.Error(err))
	}
}

// LoadCheckpoint reads the checkpoint side file. It returns nil when there is
// none or it cannot be read.
func (s *Store) LoadCheckpoint(ctx context.Context) *Checkpoint {
	data, err := s.blobs.GetObject(ctx, s.CheckpointKey())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("load checkpoint failed", zap.Error(err))
		}
		return nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint is unreadable, ignoring", zap.Error(err))
		return nil
	}
	return &cp
}

// ProcessedIdentifiers returns the union of checkpointed identifiers and
// identifiers already present in the destination, sorted.
func (s *Store) ProcessedIdentifiers(ctx context.Context) ([]string, error) {
	rows, err := s.readDestination(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		s.persisted[row.Identifier] = struct{}{}
	}
	if cp := s.LoadCheckpoint(ctx); cp != nil {
		for _, id := range cp.ProcessedIdentifiers {
			s.persisted[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(s.persisted))
	for id := range s.persisted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Finalize flushes the remainder, computes statistics, and removes the
// temporary directory and the checkpoint. On a flush error the checkpoint is
// kept so the run can resume.
func (s *Store) Finalize(ctx context.Context) (Stats, error) {
	if err := s.Flush(ctx); err != nil {
		return Stats{}, err
	}
	rows, err := s.readDestination(ctx)
	if err != nil {
		return Stats{}, err
	}
	analysis := Analyze(rows)
	stats := Stats{
		TotalRecords:      analysis.TotalRecords,
		Successful:        analysis.Successful,
		Failed:            analysis.Failed,
		UniqueIdentifiers: analysis.UniqueIdentifiers,
		OutputPath:        s.cfg.Destination.String(),
		Sources:           analysis.Sources,
		ProcessedCount:    s.added,
	}
	if info, err := s.blobs.StatObject(ctx, s.dataKey()); err == nil {
		stats.FileSizeBytes = info.Size
	}

	if err := os.RemoveAll(s.tempDir); err != nil {
		s.logger.Warn("remove temp dir failed", zap.String("dir", s.tempDir), zap.Error(err))
	}
	if err := s.blobs.DeleteObject(ctx, s.CheckpointKey()); err != nil {
		s.logger.Warn("delete checkpoint failed", zap.Error(err))
	}
	return stats, nil
}

// Close removes the temporary directory. The checkpoint is left in place so
// an interrupted run can resume.
func (s *Store) Close() error {
	if err := os.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("%w: remove temp dir: %v", ErrStoreIO, err)
	}
	return nil
}

// WriteFailureLog writes every failed row of the destination to the failure
// log. Nothing is written when there are no failures.
func (s *Store) WriteFailureLog(ctx context.Context) (string, int, error) {
	rows, err := s.readDestination(ctx)
	if err != nil {
		return "", 0, err
	}
	var entries []FailureEntry
	for _, row := range rows {
		if row.Success {
			continue
		}
		entry := FailureEntry{
			Identifier: row.Identifier,
			Kind:       row.ErrorKind,
			Timestamp:  row.ExtractedTime(),
		}
		if row.ErrorMessage != nil {
			entry.Message = *row.ErrorMessage
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return "", 0, nil
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return "", 0, fmt.Errorf("encode failure log: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, s.FailureLogKey(), "application/json", bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("%w: write failure log: %v", ErrStoreIO, err)
	}
	s.logger.Info("wrote failure log", zap.String("uri", uri), zap.Int("failures", len(entries)))
	return uri, len(entries), nil
}
