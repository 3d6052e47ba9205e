// Package acquisition builds the listing dataset: it searches the site
// under the acquisition lock, enriches each listing with the hints the
// resolver can use, and caches the result on disk.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/parser"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// Locker guards a running acquisition.
type Locker interface {
	Acquire() error
	Release() error
}

// FilterSource supplies the current search filter.
type FilterSource interface {
	Filter(ctx context.Context) (types.Filter, error)
}

// Acquirer runs acquisitions and serves the cached dataset.
type Acquirer struct {
	cfg      config.AcquisitionConfig
	baseURL  string
	lock     Locker
	filters  FilterSource
	searcher Searcher
	pages    PageFetcher
	parser   *parser.PageParser
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// Deps are the collaborators of an Acquirer.
type Deps struct {
	Lock     Locker
	Filters  FilterSource
	Searcher Searcher
	Pages    PageFetcher
	Parser   *parser.PageParser
	Metrics  *observability.Metrics
}

// New creates an Acquirer.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Acquirer {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(logger)
	}
	return &Acquirer{
		cfg:      cfg.Acquisition,
		baseURL:  strings.TrimRight(cfg.Site.BaseURL, "/"),
		lock:     deps.Lock,
		filters:  deps.Filters,
		searcher: deps.Searcher,
		pages:    deps.Pages,
		parser:   deps.Parser,
		limiter:  newLimiter(cfg.Acquisition.PageDelay),
		metrics:  deps.Metrics,
		now:      time.Now,
		logger:   logger.With("component", "acquirer"),
	}
}

// Cached returns the selected listings of a fresh, non-empty dataset. A
// stale dataset is deleted.
func (a *Acquirer) Cached(ctx context.Context) ([]types.Listing, bool) {
	if IsStale(a.cfg.DatasetPath, a.cfg.MaxAge, a.now()) {
		if err := os.Remove(a.cfg.DatasetPath); err == nil {
			a.logger.Info("stale dataset removed", "path", a.cfg.DatasetPath, "max_age", a.cfg.MaxAge)
		}
		return nil, false
	}
	listings, err := a.Listings(ctx)
	if err != nil || len(listings) == 0 {
		return nil, false
	}
	return listings, true
}

// Listings reads the dataset and keeps the selected categories.
func (a *Acquirer) Listings(ctx context.Context) ([]types.Listing, error) {
	ds, err := ReadDataset(a.cfg.DatasetPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("dataset unreadable, treating as empty", "path", a.cfg.DatasetPath, "error", err)
		}
		return nil, nil
	}
	filter, err := a.filters.Filter(ctx)
	if err != nil {
		return nil, err
	}
	return selectCategories(ds.Data, &filter), nil
}

// Acquire searches for listings, enriches them and writes the dataset. The
// lock is held for the whole call. A failed search leaves any previous
// dataset untouched.
func (a *Acquirer) Acquire(ctx context.Context) ([]types.Listing, error) {
	if err := a.lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := a.lock.Release(); err != nil {
			a.logger.Error("release lock", "error", err)
		}
	}()

	filter, err := a.filters.Filter(ctx)
	if err != nil {
		return nil, fmt.Errorf("read filter: %w", err)
	}
	minFloor, maxFloor := filter.FloorBounds()
	a.logger.Info("acquisition started",
		"region", filter.Region.Name,
		"region_id", filter.Region.ID,
		"rooms", filter.Rooms,
		"min_floor", minFloor,
		"max_floor", maxFloor,
		"categories", filter.CategoryNames(),
	)

	found, err := a.searcher.Search(ctx, &filter)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}

	listings := selectCategories(found, &filter)
	for i := range listings {
		listings[i].URL = a.absolute(listings[i].URL)
	}

	for i := range listings {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		a.enrich(ctx, &listings[i])
	}

	ds := &Dataset{
		CreatedAt: a.now().UTC(),
		Region:    filter.Region,
		Rooms:     filter.Rooms,
		MinFloor:  filter.MinFloors,
		MaxFloor:  filter.MaxFloors,
		MinPrice:  filter.MinPrice,
		MaxPrice:  filter.MaxPrice,
		Data:      listings,
	}
	if err := WriteDataset(a.cfg.DatasetPath, ds); err != nil {
		return nil, err
	}
	a.metrics.ListingsAcquired.Add(int64(len(listings)))
	a.logStats(listings)
	return listings, nil
}

// enrich fetches the listing page once and records the block id for
// developer listings or the visible phone for everyone else.
func (a *Acquirer) enrich(ctx context.Context, l *types.Listing) {
	l.BlockID, l.DirectPhone = nil, nil
	if l.URL == "" {
		return
	}
	body, err := a.pages.Get(ctx, l.URL)
	if err != nil {
		a.logger.Warn("listing page fetch failed", "url", l.URL, "error", err)
		return
	}
	if l.AuthorType.RequiresAPI() {
		if id, ok := a.parser.BlockID(body); ok {
			l.BlockID = &id
		}
		return
	}
	if p, ok := a.parser.Phone(body); ok {
		l.DirectPhone = &p
	}
}

func (a *Acquirer) absolute(raw string) string {
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	base, err := url.Parse(a.baseURL + "/")
	if err != nil {
		return a.baseURL + raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return a.baseURL + raw
	}
	return base.ResolveReference(ref).String()
}

func (a *Acquirer) logStats(listings []types.Listing) {
	type stat struct{ total, phones, blockIDs int }
	stats := make(map[types.AuthorCategory]*stat)
	for _, l := range listings {
		s, ok := stats[l.AuthorType]
		if !ok {
			s = &stat{}
			stats[l.AuthorType] = s
		}
		s.total++
		if l.DirectPhone != nil {
			s.phones++
		}
		if l.BlockID != nil {
			s.blockIDs++
		}
	}

	a.logger.Info("dataset written", "path", a.cfg.DatasetPath, "listings", len(listings))
	for _, c := range types.AllCategories() {
		s, ok := stats[c]
		if !ok {
			continue
		}
		if c.RequiresAPI() {
			a.logger.Info("category stats", "author_type", c, "listings", s.total, "with_block_id", s.blockIDs)
		} else {
			a.logger.Info("category stats", "author_type", c, "listings", s.total, "with_phone", s.phones)
		}
	}
}

func selectCategories(in []types.Listing, f *types.Filter) []types.Listing {
	out := make([]types.Listing, 0, len(in))
	for _, l := range in {
		if f.Includes(l.AuthorType) {
			out = append(out, l)
		}
	}
	return out
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
