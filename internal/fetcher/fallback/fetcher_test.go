package fallback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
	"github.com/JakeFAU/dossier-crawler/internal/headless/detector"
	"github.com/JakeFAU/dossier-crawler/internal/policy/simple"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) crawler.FetchOutcome {
	args := m.Called(ctx, request)
	return args.Get(0).(crawler.FetchOutcome)
}

func failure(kind crawler.FailureKind, attempts int) crawler.FetchOutcome {
	return crawler.FetchOutcome{Failure: &crawler.Failure{Kind: kind, Message: string(kind)}, Attempts: attempts}
}

func TestFetchPrimarySuccessSkipsSecondary(t *testing.T) {
	t.Parallel()

	primary, secondary := &mockFetcher{}, &mockFetcher{}
	req := crawler.FetchRequest{Identifier: "x", URL: "u"}
	primary.On("Fetch", mock.Anything, req).Return(crawler.FetchOutcome{Response: &crawler.FetchResponse{StatusCode: 200}, Attempts: 1})

	out := New(primary, secondary, simple.New(), nil).Fetch(context.Background(), req)
	require.True(t, out.OK())
	secondary.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestFetchFallsBackOnTransientFailure(t *testing.T) {
	t.Parallel()

	primary, secondary := &mockFetcher{}, &mockFetcher{}
	req := crawler.FetchRequest{Identifier: "x", URL: "u"}
	primary.On("Fetch", mock.Anything, req).Return(failure(crawler.FailureTransient, 4))
	secondary.On("Fetch", mock.Anything, req).Return(crawler.FetchOutcome{
		Response: &crawler.FetchResponse{StatusCode: 200, UsedHeadless: true},
		Attempts: 1,
	})

	out := New(primary, secondary, simple.New(), nil).Fetch(context.Background(), req)
	require.True(t, out.OK())
	require.True(t, out.Response.UsedHeadless)
	require.Equal(t, 5, out.Attempts)
}

func TestFetchKeepsPrimaryFailureWhenBothFail(t *testing.T) {
	t.Parallel()

	primary, secondary := &mockFetcher{}, &mockFetcher{}
	req := crawler.FetchRequest{Identifier: "x"}
	primary.On("Fetch", mock.Anything, req).Return(failure(crawler.FailureServerError, 3))
	secondary.On("Fetch", mock.Anything, req).Return(failure(crawler.FailureTransient, 2))

	out := New(primary, secondary, simple.New(), nil).Fetch(context.Background(), req)
	require.Equal(t, crawler.FailureServerError, out.Failure.Kind)
	require.Equal(t, 5, out.Attempts)
}

func TestFetchNotFoundDoesNotFallBack(t *testing.T) {
	t.Parallel()

	primary, secondary := &mockFetcher{}, &mockFetcher{}
	req := crawler.FetchRequest{Identifier: "x"}
	primary.On("Fetch", mock.Anything, req).Return(failure(crawler.FailureNotFound, 1))

	out := New(primary, secondary, simple.New(), nil).Fetch(context.Background(), req)
	require.Equal(t, crawler.FailureNotFound, out.Failure.Kind)
	secondary.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestFetchKeepsThinPrimaryWhenSecondaryFails(t *testing.T) {
	t.Parallel()

	primary, secondary := &mockFetcher{}, &mockFetcher{}
	req := crawler.FetchRequest{Identifier: "x"}
	thin := crawler.FetchOutcome{Response: &crawler.FetchResponse{StatusCode: 200, Body: []byte("<noscript>js</noscript>")}, Attempts: 1}
	primary.On("Fetch", mock.Anything, req).Return(thin)
	secondary.On("Fetch", mock.Anything, req).Return(failure(crawler.FailureTransient, 2))

	out := New(primary, secondary, detector.New(0), nil).Fetch(context.Background(), req)
	require.True(t, out.OK())
	require.Equal(t, 3, out.Attempts)
	require.False(t, out.Response.UsedHeadless)
}

func TestFetchPromotesThinPrimary(t *testing.T) {
	t.Parallel()

	primary, secondary := &mockFetcher{}, &mockFetcher{}
	req := crawler.FetchRequest{Identifier: "x"}
	primary.On("Fetch", mock.Anything, req).Return(crawler.FetchOutcome{Response: &crawler.FetchResponse{StatusCode: 200}, Attempts: 1})
	secondary.On("Fetch", mock.Anything, req).Return(crawler.FetchOutcome{
		Response: &crawler.FetchResponse{StatusCode: 200, Body: []byte("<html>dossier</html>"), UsedHeadless: true},
		Attempts: 1,
	})

	out := New(primary, secondary, detector.New(0), nil).Fetch(context.Background(), req)
	require.True(t, out.OK())
	require.True(t, out.Response.UsedHeadless)
	require.Equal(t, 2, out.Attempts)
}
