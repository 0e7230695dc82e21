package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/recycle-crawler/internal/crawler"
)

type FetcherOptions struct {
	Endpoints crawler.Endpoints
	// ScrollPasses is the number of scrolls per level; the category page
	// needs fewer than the product listing.
	ScrollPasses map[crawler.Level]int
	ScrollDelay  time.Duration
	// SettleDelay is waited after navigation before scrolling starts.
	SettleDelay time.Duration
	Retries     int
}

func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		Endpoints: crawler.DefaultEndpoints(),
		ScrollPasses: map[crawler.Level]int{
			crawler.LevelCategory:   3,
			crawler.LevelCollection: 3,
			crawler.LevelProduct:    5,
		},
		ScrollDelay: 500 * time.Millisecond,
		SettleDelay: 3 * time.Second,
		Retries:     2,
	}
}

// Fetcher drives a single page through the traversal and forwards the JSON
// and HTML responses it intercepts. Each request is bound to the handler of
// the Fetch that was running when the page issued it, so a response that
// arrives after the next Fetch started still reaches its own step.
type Fetcher struct {
	browser *Browser
	page    playwright.Page
	opts    FetcherOptions
	logger  *slog.Logger
	routes  *routes
	pending sync.WaitGroup
}

// routes binds in-flight requests to response handlers. Keys are the
// request objects playwright hands to both the request and response events.
type routes struct {
	mu      sync.Mutex
	current crawler.ResponseHandler
	bound   map[any]crawler.ResponseHandler
}

func newRoutes() *routes {
	return &routes{bound: make(map[any]crawler.ResponseHandler)}
}

// use installs the handler new requests are bound to. nil stops binding.
func (r *routes) use(h crawler.ResponseHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = h
}

func (r *routes) bind(req any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.bound[req] = r.current
	}
}

// take returns the handler req was bound to and forgets the binding.
func (r *routes) take(req any) crawler.ResponseHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.bound[req]
	delete(r.bound, req)
	return h
}

func (r *routes) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
	clear(r.bound)
}

func NewFetcher(b *Browser, opts FetcherOptions) (*Fetcher, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	f := &Fetcher{
		browser: b,
		page:    page,
		opts:    opts,
		logger:  b.logger.With("component", "browser_fetcher"),
		routes:  newRoutes(),
	}
	page.OnRequest(func(req playwright.Request) { f.routes.bind(req) })
	page.OnRequestFailed(func(req playwright.Request) { f.routes.take(req) })
	page.OnResponse(f.onResponse)
	return f, nil
}

// URL renders the page a target navigates to.
func (f *Fetcher) URL(target crawler.Target) (string, error) {
	return f.opts.Endpoints.URL(target)
}

func (f *Fetcher) Fetch(ctx context.Context, target crawler.Target, deliver crawler.ResponseHandler) error {
	u, err := f.opts.Endpoints.URL(target)
	if err != nil {
		return err
	}

	f.routes.use(deliver)

	f.logger.Debug("navigating", "level", target.Level.String(), "url", u)
	if err := f.browser.NavigateWithRetry(ctx, f.page, u, f.opts.Retries); err != nil {
		return fmt.Errorf("navigate %s: %w", u, err)
	}

	if err := sleep(ctx, f.opts.SettleDelay); err != nil {
		return err
	}
	if err := f.browser.Scroll(ctx, f.page, f.opts.ScrollPasses[target.Level], f.opts.ScrollDelay); err != nil {
		f.logger.Warn("scroll failed", "url", u, "error", err)
	}
	return nil
}

// onResponse runs on the playwright event loop. Reading the body is a
// round trip to the driver, so it happens on its own goroutine.
func (f *Fetcher) onResponse(resp playwright.Response) {
	deliver := f.routes.take(resp.Request())
	if deliver == nil || !isPayload(resp) {
		return
	}

	f.pending.Add(1)
	go func() {
		defer f.pending.Done()

		body, err := resp.Body()
		if err != nil {
			f.logger.Debug("failed to read response body", "url", resp.URL(), "error", err)
			return
		}
		deliver(resp.URL(), body)
	}()
}

func isPayload(resp playwright.Response) bool {
	if resp.Status() < 200 || resp.Status() >= 300 {
		return false
	}
	contentType := strings.ToLower(resp.Headers()["content-type"])
	return strings.Contains(contentType, "json") || strings.Contains(contentType, "html")
}

// Close detaches the handler, waits for in-flight body reads and closes the page.
func (f *Fetcher) Close() error {
	f.routes.reset()

	f.pending.Wait()
	return f.page.Close()
}
