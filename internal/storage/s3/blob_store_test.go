package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/storage"
)

type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte)}
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	store, err := New(api, Config{Bucket: "dossiers"})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "runs/out.parquet", "application/octet-stream", strings.NewReader("PAR1"))
	require.NoError(t, err)
	require.Equal(t, "s3://dossiers/runs/out.parquet", uri)

	data, err := store.GetObject(ctx, "runs/out.parquet")
	require.NoError(t, err)
	require.Equal(t, "PAR1", string(data))

	info, err := store.StatObject(ctx, "runs/out.parquet")
	require.NoError(t, err)
	require.EqualValues(t, 4, info.Size)

	require.NoError(t, store.DeleteObject(ctx, "runs/out.parquet"))
	_, err = store.GetObject(ctx, "runs/out.parquet")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.StatObject(ctx, "runs/out.parquet")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBlobStorePutError(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.putErr = errors.New("access denied")
	store, err := New(api, Config{Bucket: "dossiers"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "out.parquet", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "access denied")
	require.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(newFakeAPI(), Config{})
	require.Error(t, err)
}
