// Package headless implements crawler.Session on top of a headless Chrome
// instance driven by chromedp. Each session owns one browser process, so
// cookies and cache are isolated between sessions.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/dossier-crawler/internal/crawler"
)

// Config controls the behavior of the headless sessions.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// QPS caps navigations per second across all sessions. Zero disables.
	QPS     float64
	Headers http.Header
}

// Factory allocates chromedp browser sessions.
type Factory struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	navLimiter  *rate.Limiter
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ crawler.SessionFactory = (*Factory)(nil)

// NewFactory creates a headless session factory backed by chromedp.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.QPS < 0 {
		return nil, fmt.Errorf("qps must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	navLimiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.QPS > 0 {
		navLimiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Factory{
		cfg:         cfg,
		logger:      logger.Named("headless"),
		limiter:     limiter,
		navLimiter:  navLimiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the allocator and every browser it started.
func (f *Factory) Close() {
	f.allocCancel()
}

// NewSession starts a fresh browser.
func (f *Factory) NewSession(_ context.Context) (crawler.Session, error) {
	browserCtx, cancel := chromedp.NewContext(f.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Session{factory: f, browser: browserCtx, cancel: cancel}, nil
}

// Retire closes the browser. Headless sessions carry no proxy to quarantine.
func (f *Factory) Retire(session crawler.Session) {
	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		f.logger.Warn("close retired browser", zap.Error(err))
	}
}

// Session renders pages in tabs of a single browser.
type Session struct {
	factory *Factory
	browser context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// Do navigates a new tab and returns the rendered DOM.
func (s *Session) Do(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	f := s.factory
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.release()
	if err := f.navLimiter.Wait(ctx); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("headless qps wait: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browser)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	headers := cloneHeader(f.cfg.Headers)
	if headers == nil {
		headers = http.Header{}
	}
	for key, values := range request.Headers {
		headers[key] = append([]string(nil), values...)
	}

	start := time.Now()
	html, finalURL, err := f.render(tabCtx, request.URL, headers)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	status, respHeaders, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      respHeaders,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// Close terminates the browser process.
func (s *Session) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (f *Factory) render(ctx context.Context, target string, headers http.Header) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(headers),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Factory) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Factory) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Factory) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Factory) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// responseMeta records the status and headers of the main document, which
// the rendered DOM alone does not expose.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Redirect hops fire first; the last document response wins.
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, cloneHeader(m.headers), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	return src.Clone()
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
