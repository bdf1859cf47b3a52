// Package backend opens the BlobStore that serves a destination location.
package backend

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/dossier-crawler/internal/storage"
	"github.com/JakeFAU/dossier-crawler/internal/storage/gcs"
	"github.com/JakeFAU/dossier-crawler/internal/storage/local"
	"github.com/JakeFAU/dossier-crawler/internal/storage/memory"
	s3store "github.com/JakeFAU/dossier-crawler/internal/storage/s3"
)

// Options carries backend-specific settings.
type Options struct {
	S3Region   string
	S3Endpoint string
	// Memory is reused for memory:// destinations so tests can inspect it.
	Memory *memory.BlobStore
}

// Open returns the store for loc and a function releasing its clients.
func Open(ctx context.Context, loc storage.Location, opts Options) (storage.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch loc.Scheme {
	case storage.SchemeFile:
		store, err := local.New(local.Config{BaseDir: loc.Bucket})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case storage.SchemeMemory:
		if opts.Memory != nil {
			return opts.Memory, noop, nil
		}
		return memory.NewBlobStore(), noop, nil
	case storage.SchemeGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: loc.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	case storage.SchemeS3:
		cfg := s3store.Config{Bucket: loc.Bucket, Region: opts.S3Region, Endpoint: opts.S3Endpoint}
		client, err := s3store.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := s3store.New(client, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported scheme %q", loc.Scheme)
	}
}
