package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "runs/out.parquet", "", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/out.parquet", uri)

	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "runs/out.parquet")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.GetObject(context.Background(), "runs/out.parquet")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
}

func TestBlobStoreNotFoundAndDelete(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	_, err := store.GetObject(ctx, "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.StatObject(ctx, "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.PutObject(ctx, "a", "", bytes.NewReader([]byte("12345")))
	require.NoError(t, err)
	info, err := store.StatObject(ctx, "a")
	require.NoError(t, err)
	require.EqualValues(t, 5, info.Size)

	require.NoError(t, store.DeleteObject(ctx, "a"))
	require.Empty(t, store.Keys())
}

func TestBlobStoreInjectedFailures(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	store.FailNextPuts(1)
	_, err := store.PutObject(context.Background(), "a", "", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	_, err = store.PutObject(context.Background(), "a", "", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, store.Keys())
}
