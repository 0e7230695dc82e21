package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/recycle-crawler/internal/collector"
	"github.com/maltedev/recycle-crawler/internal/models"
	"github.com/maltedev/recycle-crawler/internal/parser"
)

// ErrCategoryUnresolved is returned when neither the locator nor any observed
// response supplied the category identifiers brand-level fetches need.
var ErrCategoryUnresolved = errors.New("category identifiers unresolved")

// ErrLevelSkipped is returned by fetchers that have no request for a target
// level. The driver counts the target as skipped rather than fetched.
var ErrLevelSkipped = errors.New("target level not served by fetcher")

// ResponseHandler receives every response a Fetcher observes.
type ResponseHandler func(url string, body []byte)

// Fetcher performs the navigation or request for one traversal node and pushes
// the responses it observes to deliver. Delivery may happen on other
// goroutines and may continue after Fetch returns.
type Fetcher interface {
	Fetch(ctx context.Context, target Target, deliver ResponseHandler) error
}

// URLResolver is implemented by fetchers that can name the URL a target maps
// to. It is used to report failed fetches.
type URLResolver interface {
	URL(target Target) (string, error)
}

// Limiter paces fetch issuance.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Feedback is implemented by limiters that adapt to fetch outcomes.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

type Options struct {
	// DrainWindow is how long the driver waits after each fetch for
	// asynchronous responses to arrive. It is a best-effort settling delay:
	// nothing signals that all responses of a navigation were delivered.
	DrainWindow time.Duration
	// AcceptHosts restricts classification to responses whose URL contains
	// one of these substrings. Empty accepts everything.
	AcceptHosts []string
	// FrontCategoryOnly relaxes category resolution for fetchers whose
	// brand-level requests need only the front category identifier.
	FrontCategoryOnly bool
	Limiter           Limiter
	Logger            *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		DrainWindow: 3 * time.Second,
		AcceptHosts: []string{"aihuishou.com"},
	}
}

type Driver struct {
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger
}

func NewDriver(fetcher Fetcher, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.With("component", "crawler"),
	}
}

// Result is what a crawl accumulated, complete or not.
type Result struct {
	Locator   string
	Category  models.CategoryInfo
	Collector *collector.Collector
	Stats     Stats
}

func (r *Result) Products() []models.Product {
	return r.Collector.Products()
}

func (r *Result) Brands() []models.Brand {
	return r.Collector.Brands()
}

// Crawl walks category → brand → [collection] → products starting from the
// category page at locator. It always returns the records gathered so far;
// the error is non-nil only for an invalid locator, unresolved category
// identifiers or cancellation.
func (d *Driver) Crawl(ctx context.Context, locator string) (*Result, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}

	t := newTraversal(loc, d.opts.AcceptHosts, d.logger)
	defer t.finish()
	start := time.Now()

	d.logger.Info("starting crawl",
		"url", loc.Raw,
		"front_category_id", loc.FrontCategoryID,
		"category_id", loc.CategoryID)

	if err := d.fetch(ctx, t, step{phase: phaseCategory}, Target{
		Level:   LevelCategory,
		Params:  t.params(),
		Locator: loc.Raw,
	}); err != nil {
		return t.result(start), err
	}

	brands := t.collector.Brands()
	if len(brands) == 0 {
		d.logger.Warn("no brands found", "url", loc.Raw)
		return t.result(start), nil
	}

	category := t.freeze()
	if !d.resolved(category) {
		return t.result(start), fmt.Errorf("%w: front=%q category=%q",
			ErrCategoryUnresolved, category.FrontCategoryID, category.CategoryID)
	}

	d.logger.Info("brands collected",
		"count", len(brands),
		"category_id", category.CategoryID,
		"front_category_id", category.FrontCategoryID)

	for i, brand := range brands {
		if err := ctx.Err(); err != nil {
			return t.result(start), err
		}

		d.logger.Info("crawling brand", "brand", brand.Name, "index", i+1, "total", len(brands))
		if err := d.crawlBrand(ctx, t, brand, category); err != nil {
			return t.result(start), err
		}
	}

	result := t.result(start)
	d.logger.Info("crawl completed",
		"brands", result.Stats.Brands,
		"collections", result.Stats.Collections,
		"products", result.Stats.Products,
		"failures", len(result.Stats.FetchFailures),
		"duration", result.Stats.Duration)
	return result, nil
}

func (d *Driver) resolved(c models.CategoryInfo) bool {
	if d.opts.FrontCategoryOnly {
		return c.FrontCategoryID != ""
	}
	return c.Complete()
}

func (d *Driver) crawlBrand(ctx context.Context, t *traversal, brand models.Brand, category models.CategoryInfo) error {
	params := Params{
		BrandID:         brand.ID,
		BrandName:       brand.Name,
		CategoryID:      category.CategoryID,
		FrontCategoryID: category.FrontCategoryID,
		BizType:         category.BizType,
	}

	if err := d.fetch(ctx, t, step{phase: phaseCollections, brand: brand}, Target{
		Level:  LevelCollection,
		Params: params,
	}); err != nil {
		return err
	}

	collections := t.collectionsFor(brand)
	if len(collections) == 0 {
		if err := d.fetch(ctx, t, step{phase: phaseProducts, brand: brand}, Target{
			Level:  LevelProduct,
			Params: params,
		}); err != nil {
			return err
		}
	} else {
		d.logger.Debug("brand has collections", "brand", brand.Name, "count", len(collections))

		for _, col := range collections {
			if err := ctx.Err(); err != nil {
				return err
			}

			p := params
			p.CollectionID = col.ID
			p.SeriesCode = col.SeriesCode
			p.Title = col.Title
			if err := d.fetch(ctx, t, step{phase: phaseProducts, brand: brand, collection: col}, Target{
				Level:  LevelProduct,
				Params: p,
			}); err != nil {
				return err
			}
		}
	}

	if t.productsFor(brand.ID) == 0 {
		d.logger.Info("brand yielded no products", "brand", brand.Name)
		t.recordEmpty(brand)
	}
	return nil
}

// fetch issues one fetch and waits out the drain window. Transport failures
// are recorded and swallowed; only cancellation is returned.
func (d *Driver) fetch(ctx context.Context, t *traversal, s step, target Target) error {
	if d.opts.Limiter != nil {
		if err := d.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	err := d.fetcher.Fetch(ctx, target, t.deliverFor(s))
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrLevelSkipped) {
		t.recordSkip()
		return nil
	}
	t.recordFetch()
	d.feedback(err)

	if err != nil {
		url := d.targetURL(target)
		d.logger.Warn("fetch failed",
			"level", target.Level.String(),
			"brand", s.brand.Name,
			"collection", s.collection.Title,
			"url", url,
			"error", err)
		t.recordFailure(target, url, s, err)
	}

	return d.drain(ctx)
}

func (d *Driver) targetURL(target Target) string {
	if r, ok := d.fetcher.(URLResolver); ok {
		if u, err := r.URL(target); err == nil {
			return u
		}
	}
	return target.Locator
}

func (d *Driver) feedback(err error) {
	fb, ok := d.opts.Limiter.(Feedback)
	if !ok {
		return
	}
	if err != nil {
		fb.RecordError()
	} else {
		fb.RecordSuccess()
	}
}

func (d *Driver) drain(ctx context.Context) error {
	if d.opts.DrainWindow <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d.opts.DrainWindow)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type phase int

const (
	phaseCategory phase = iota
	phaseCollections
	phaseProducts
)

// step is the traversal position a fetch was issued from. Responses are
// tagged with the step that requested them, even when they arrive late.
type step struct {
	phase      phase
	brand      models.Brand
	collection models.Collection
}

// traversal is the mutable state of one crawl. Fetchers deliver responses
// from their own goroutines, so everything here is guarded by mu.
type traversal struct {
	mu          sync.Mutex
	locator     Locator
	category    models.CategoryInfo
	frozen      bool
	acceptHosts []string
	collector   *collector.Collector
	perBrand    map[int64]int
	stats       Stats
	done        bool
	logger      *slog.Logger

	// collections classified from each brand's own collection fetch, keyed
	// by brand key. Duplicates of another brand's collections are kept here.
	brandCollections map[string][]models.Collection
}

func newTraversal(loc Locator, acceptHosts []string, logger *slog.Logger) *traversal {
	t := &traversal{
		locator: loc,
		category: models.CategoryInfo{
			CategoryID:      loc.CategoryID,
			FrontCategoryID: loc.FrontCategoryID,
			BizType:         loc.BizType,
		},
		acceptHosts: acceptHosts,
		collector:   collector.New(),
		perBrand:    make(map[int64]int),

		brandCollections: make(map[string][]models.Collection),
		logger:      logger,
	}
	t.frozen = t.category.Complete()
	return t
}

func (t *traversal) params() Params {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Params{
		CategoryID:      t.category.CategoryID,
		FrontCategoryID: t.category.FrontCategoryID,
		BizType:         t.category.BizType,
	}
}

func (t *traversal) deliverFor(s step) ResponseHandler {
	return func(url string, body []byte) {
		t.handle(s, url, body)
	}
}

func (t *traversal) accepts(url string) bool {
	if len(t.acceptHosts) == 0 {
		return true
	}
	for _, host := range t.acceptHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

func (t *traversal) handle(s step, url string, body []byte) {
	if !t.accepts(url) {
		t.mu.Lock()
		t.stats.Filtered++
		t.mu.Unlock()
		return
	}

	results := parser.ClassifyBody(body)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	t.stats.Responses++

	for _, result := range results {
		if result.Category != nil {
			t.observe(*result.Category)
		}
		if !result.Recognized() {
			t.stats.Unrecognized++
			continue
		}

		added := 0
		for _, record := range result.Records {
			tagged, ok := accept(s, record)
			if !ok {
				t.stats.Ignored++
				continue
			}
			for _, r := range tagged {
				if c, ok := r.(models.Collection); ok {
					t.noteCollection(s.brand, c)
				}
				if !t.collector.Add(r) {
					t.stats.Duplicates++
					continue
				}
				added++
				if p, ok := r.(models.Product); ok {
					t.perBrand[p.BrandID]++
				}
			}
		}

		if added > 0 {
			t.logger.Debug("records added", "kind", result.Kind.String(), "added", added, "url", url)
		}
	}
}

// accept decides whether a record belongs to the step that requested it and
// tags it with the step's brand and collection.
func accept(s step, record models.Record) ([]models.Record, bool) {
	switch s.phase {
	case phaseCategory:
		switch r := record.(type) {
		case models.Brand:
			return []models.Record{r}, true
		case models.CategoryGroup:
			out := []models.Record{r}
			for _, b := range r.Brands {
				out = append(out, b)
			}
			return out, true
		}
	case phaseCollections:
		if c, ok := record.(models.Collection); ok {
			c.BrandID = s.brand.ID
			return []models.Record{c}, true
		}
	case phaseProducts:
		if p, ok := record.(models.Product); ok {
			p.BrandID = s.brand.ID
			p.BrandName = s.brand.Name
			p.CollectionID = s.collection.ID
			p.CollectionTitle = s.collection.Title
			return []models.Record{p}, true
		}
	}
	return nil, false
}

// noteCollection records a collection for brand once per collection key.
// Caller holds mu.
func (t *traversal) noteCollection(brand models.Brand, c models.Collection) {
	key := brand.Key()
	for _, seen := range t.brandCollections[key] {
		if seen.Key() == c.Key() {
			return
		}
	}
	t.brandCollections[key] = append(t.brandCollections[key], c)
}

func (t *traversal) collectionsFor(brand models.Brand) []models.Collection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Collection(nil), t.brandCollections[brand.Key()]...)
}

// observe adopts the first complete category observation for the
// identifiers the locator left open. Caller holds mu.
func (t *traversal) observe(info models.CategoryInfo) {
	if t.frozen || !info.Complete() {
		return
	}

	if t.category.CategoryID == "" {
		t.category.CategoryID = info.CategoryID
	}
	if t.category.FrontCategoryID == "" {
		t.category.FrontCategoryID = info.FrontCategoryID
	}
	if t.category.BizType == "" {
		t.category.BizType = info.BizType
	}
	t.frozen = true

	t.logger.Info("category resolved",
		"category_id", t.category.CategoryID,
		"front_category_id", t.category.FrontCategoryID,
		"biz_type", t.category.BizType)
}

// freeze stops further category observations.
func (t *traversal) freeze() models.CategoryInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
	return t.category
}

func (t *traversal) productsFor(brandID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perBrand[brandID]
}

func (t *traversal) recordFetch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Fetches++
}

func (t *traversal) recordSkip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Skipped++
}

func (t *traversal) recordFailure(target Target, url string, s step, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.FetchFailures = append(t.stats.FetchFailures, FetchFailure{
		Level:      target.Level,
		URL:        url,
		Brand:      s.brand.Name,
		Collection: s.collection.Title,
		Error:      err.Error(),
	})
}

func (t *traversal) recordEmpty(brand models.Brand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.EmptyBrands = append(t.stats.EmptyBrands, brand.Name)
}

// finish drops responses that arrive after the crawl returned.
func (t *traversal) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
}

func (t *traversal) result(start time.Time) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := t.collector.Counts()
	stats := t.stats.clone()
	stats.Brands = counts[models.KindBrand]
	stats.Groups = counts[models.KindCategoryGroup]
	stats.Collections = counts[models.KindCollection]
	stats.Products = counts[models.KindProduct]
	stats.Duration = time.Since(start)

	return &Result{
		Locator:   t.locator.Raw,
		Category:  t.category,
		Collector: t.collector,
		Stats:     stats,
	}
}
