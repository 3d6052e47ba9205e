package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/parser"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// Searcher returns the listings matching a filter.
type Searcher interface {
	Search(ctx context.Context, f *types.Filter) ([]types.Listing, error)
}

// PageFetcher fetches a page body.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// SiteSearcher walks the site's paginated search results.
type SiteSearcher struct {
	baseURL   string
	startPage int
	endPage   int
	pages     PageFetcher
	parser    *parser.SearchParser
	limiter   *rate.Limiter
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewSiteSearcher creates a searcher over cfg.Site.BaseURL.
func NewSiteSearcher(cfg *config.Config, pages PageFetcher, metrics *observability.Metrics, logger *slog.Logger) *SiteSearcher {
	if metrics == nil {
		metrics = observability.NewMetrics(logger)
	}
	return &SiteSearcher{
		baseURL:   cfg.Site.BaseURL,
		startPage: cfg.Acquisition.StartPage,
		endPage:   cfg.Acquisition.EndPage,
		pages:     pages,
		parser:    parser.NewSearchParser(logger),
		limiter:   newLimiter(cfg.Acquisition.PageDelay),
		metrics:   metrics,
		logger:    logger.With("component", "searcher"),
	}
}

// Search fetches result pages until one yields no unseen listing or the
// end page is reached. A fetch or parse failure aborts the search.
func (s *SiteSearcher) Search(ctx context.Context, f *types.Filter) ([]types.Listing, error) {
	seen := make(map[string]bool)
	var out []types.Listing

	for page := s.startPage; page <= s.endPage; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		pageURL := s.pageURL(f, page)
		body, err := s.pages.Get(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}
		s.metrics.SearchPages.Add(1)

		found, err := s.parser.Parse(body, pageURL)
		if err != nil {
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}

		added := 0
		for _, l := range found {
			if seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			out = append(out, l)
			added++
		}
		s.logger.Debug("search page parsed", "page", page, "cards", len(found), "new", added)
		if added == 0 {
			break
		}
	}

	s.logger.Info("search finished", "listings", len(out))
	return out, nil
}

func (s *SiteSearcher) pageURL(f *types.Filter, page int) string {
	q := url.Values{}
	q.Set("deal_type", "sale")
	q.Set("engine_version", "2")
	q.Set("offer_type", "flat")
	q.Set("region", f.Region.ID)
	for _, r := range f.Rooms {
		q.Set("room"+strconv.Itoa(r), "1")
	}
	minFloor, maxFloor := f.FloorBounds()
	if minFloor > 0 {
		q.Set("minfloor", strconv.Itoa(minFloor))
	}
	if maxFloor > 0 {
		q.Set("maxfloor", strconv.Itoa(maxFloor))
	}
	if f.MinPrice != nil {
		q.Set("minprice", strconv.FormatInt(*f.MinPrice, 10))
	}
	if f.MaxPrice != nil {
		q.Set("maxprice", strconv.FormatInt(*f.MaxPrice, 10))
	}
	q.Set("p", strconv.Itoa(page))
	return s.baseURL + "/cat.php?" + q.Encode()
}
