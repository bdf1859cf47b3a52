package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	blob "github.com/JakeFAU/dossier-crawler/internal/storage"
)

func newTestBlobStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "dossiers"})
	require.NoError(t, err)
	return store
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := newTestBlobStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/dossiers/o")
		assert.Equal(t, "runs/out.parquet", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "PAR1")
		fmt.Fprintln(w, `{"name": "runs/out.parquet", "bucket": "dossiers"}`)
	}))

	uri, err := store.PutObject(context.Background(), "runs/out.parquet", "application/octet-stream", bytes.NewReader([]byte("PAR1")))
	require.NoError(t, err)
	require.Equal(t, "gs://dossiers/runs/out.parquet", uri)
}

func TestBlobStorePutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestBlobStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "out.parquet", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBlobStorePutObjectRequiresKey(t *testing.T) {
	t.Parallel()

	store := newTestBlobStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	store := newTestBlobStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := store.StatObject(context.Background(), "missing.parquet")
	require.ErrorIs(t, err, blob.ErrNotFound)
	require.NoError(t, store.DeleteObject(context.Background(), "missing.parquet"))
}
