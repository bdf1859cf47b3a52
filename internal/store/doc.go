// Package store persists dossier records incrementally into a single
// deduplicated parquet file. Records are buffered, flushed in batches by
// merging with the existing destination, and tracked through a checkpoint
// side file so an interrupted run can resume.
package store
