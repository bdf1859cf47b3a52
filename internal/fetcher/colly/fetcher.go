// Package collyfetcher implements crawler.Session using gocolly. Each session
// owns a collector, a transport, and at most one sticky proxy.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

const resultKey = "dossier.result"

// DefaultHeaders are sent with every request unless the request overrides
// them.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language":           {"pt-BR,pt;q=0.8,en;q=0.5,en-US;q=0.3"},
		"Dnt":                       {"1"},
		"Upgrade-Insecure-Requests": {"1"},
	}
}

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	RotateUserAgent bool
	RespectRobots   bool
	Timeout         time.Duration
	Proxies         []string
	ProxyQuarantine time.Duration
	Headers         http.Header
}

// Factory builds colly sessions and rotates proxies across them.
type Factory struct {
	cfg        Config
	logger     *zap.Logger
	quarantine *cache.Cache

	mu        sync.Mutex
	nextProxy int
}

var _ crawler.SessionFactory = (*Factory)(nil)

// NewFactory builds a Factory.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ProxyQuarantine <= 0 {
		cfg.ProxyQuarantine = 10 * time.Minute
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders()
	}
	return &Factory{
		cfg:        cfg,
		logger:     logger.Named("colly"),
		quarantine: cache.New(cfg.ProxyQuarantine, 2*cfg.ProxyQuarantine),
	}
}

// NewSession creates a collector bound to the next healthy proxy.
func (f *Factory) NewSession(_ context.Context) (crawler.Session, error) {
	proxy := f.pickProxy()
	transport := newHTTPTransport()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(transport)
	if f.cfg.RotateUserAgent {
		extensions.RandomUserAgent(collector)
	} else if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	configureCollectorHooks(collector)

	f.logger.Debug("session created", zap.String("proxy", proxy))
	return &Session{
		collector: collector,
		transport: transport,
		proxy:     proxy,
		headers:   f.cfg.Headers,
	}, nil
}

// Retire closes the session and quarantines its proxy.
func (f *Factory) Retire(session crawler.Session) {
	if session == nil {
		return
	}
	if s, ok := session.(*Session); ok && s.proxy != "" {
		f.quarantine.SetDefault(s.proxy, time.Now())
		f.logger.Info("proxy quarantined", zap.String("proxy", s.proxy), zap.Duration("ttl", f.cfg.ProxyQuarantine))
	}
	if err := session.Close(); err != nil {
		f.logger.Warn("close retired session", zap.Error(err))
	}
}

// Quarantined reports whether proxy is currently out of rotation.
func (f *Factory) Quarantined(proxy string) bool {
	_, found := f.quarantine.Get(proxy)
	return found
}

func (f *Factory) pickProxy() string {
	if len(f.cfg.Proxies) == 0 {
		return ""
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for range f.cfg.Proxies {
		candidate := f.cfg.Proxies[f.nextProxy%len(f.cfg.Proxies)]
		f.nextProxy++
		if !f.Quarantined(candidate) {
			return candidate
		}
	}
	candidate := f.cfg.Proxies[f.nextProxy%len(f.cfg.Proxies)]
	f.nextProxy++
	f.logger.Warn("all proxies quarantined, reusing one", zap.String("proxy", candidate))
	return candidate
}

// Session issues GET requests through a single collector.
type Session struct {
	collector *colly.Collector
	transport *http.Transport
	proxy     string
	headers   http.Header
}

type result struct {
	response crawler.FetchResponse
	received bool
	err      error
}

// Proxy returns the proxy URL this session is pinned to, if any.
func (s *Session) Proxy() string {
	return s.proxy
}

// Do executes a single GET. Non-2xx responses are returned without error.
func (s *Session) Do(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	holder := &result{}
	cctx := colly.NewContext()
	cctx.Put(resultKey, holder)

	headers := s.headers.Clone()
	for key, values := range request.Headers {
		headers[key] = append([]string(nil), values...)
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- s.collector.Request(http.MethodGet, request.URL, nil, cctx, headers)
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if holder.received {
			holder.response.Duration = time.Since(start)
			return holder.response, nil
		}
		if err == nil {
			err = holder.err
		}
		if err == nil {
			err = errors.New("colly returned no response")
		}
		return crawler.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
	}
}

// Close releases idle connections held by the session transport.
func (s *Session) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func configureCollectorHooks(hooks collectorHooks) {
	hooks.OnResponse(func(r *colly.Response) {
		if holder := holderFrom(r); holder != nil {
			holder.response = toFetchResponse(r)
			holder.received = true
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		holder := holderFrom(r)
		if holder == nil {
			return
		}
		if r.StatusCode > 0 {
			holder.response = toFetchResponse(r)
			holder.received = true
			return
		}
		holder.err = err
	})
}

func holderFrom(r *colly.Response) *result {
	if r == nil || r.Ctx == nil {
		return nil
	}
	holder, _ := r.Ctx.GetAny(resultKey).(*result)
	return holder
}

func toFetchResponse(r *colly.Response) crawler.FetchResponse {
	resp := crawler.FetchResponse{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
	}
	if r.Request != nil && r.Request.URL != nil {
		resp.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
	}
	return resp
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
