package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

func TestSessionDoReturnsBody(t *testing.T) {
	t.Parallel()

	var gotLang, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = r.Header.Get("Accept-Language")
		gotTrace = r.Header.Get("X-Trace")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewFactory(Config{Timeout: 5 * time.Second, UserAgent: "dossier-test"}, nil)
	session, err := f.NewSession(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, session.Close()) }()

	resp, err := session.Do(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/processo",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>ok</html>", string(resp.Body))
	require.Contains(t, gotLang, "pt-BR")
	require.Equal(t, "yes", gotTrace)
}

func TestSessionDoReturnsErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/limited" {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFactory(Config{Timeout: 5 * time.Second}, nil)
	session, err := f.NewSession(context.Background())
	require.NoError(t, err)

	resp, err := session.Do(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The same URL must be fetchable twice from one session.
	resp, err = session.Do(context.Background(), crawler.FetchRequest{URL: srv.URL + "/limited"})
	require.NoError(t, err)
	resp, err = session.Do(context.Background(), crawler.FetchRequest{URL: srv.URL + "/limited"})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "2", resp.Headers.Get("Retry-After"))
}

func TestSessionDoTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	f := NewFactory(Config{Timeout: 5 * time.Second}, nil)
	session, err := f.NewSession(context.Background())
	require.NoError(t, err)

	_, err = session.Do(context.Background(), crawler.FetchRequest{URL: target})
	require.Error(t, err)
}

func TestFactoryRotatesAndQuarantinesProxies(t *testing.T) {
	t.Parallel()

	proxies := []string{"http://10.0.0.1:3128", "http://10.0.0.2:3128"}
	f := NewFactory(Config{Proxies: proxies, ProxyQuarantine: time.Minute}, nil)

	first, err := f.NewSession(context.Background())
	require.NoError(t, err)
	second, err := f.NewSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, proxies[0], first.(*Session).Proxy())
	require.Equal(t, proxies[1], second.(*Session).Proxy())

	f.Retire(first)
	require.True(t, f.Quarantined(proxies[0]))

	for range 3 {
		next, err := f.NewSession(context.Background())
		require.NoError(t, err)
		require.Equal(t, proxies[1], next.(*Session).Proxy())
	}
}

func TestFactoryRejectsBadProxy(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{Proxies: []string{"://bad"}}, nil)
	_, err := f.NewSession(context.Background())
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	hooks := &stubHooks{}
	configureCollectorHooks(hooks)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	holder := &result{}
	cctx := colly.NewContext()
	cctx.Put(resultKey, holder)

	hooks.onError(&colly.Response{Ctx: cctx}, errors.New("connection reset"))
	require.False(t, holder.received)
	require.EqualError(t, holder.err, "connection reset")

	hooks.onError(&colly.Response{
		Ctx:        cctx,
		StatusCode: http.StatusServiceUnavailable,
		Headers:    &http.Header{"Retry-After": {"1"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/x")},
	}, errors.New("Service Unavailable"))
	require.True(t, holder.received)
	require.Equal(t, http.StatusServiceUnavailable, holder.response.StatusCode)
	require.Equal(t, "https://example.com/x", holder.response.URL)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
