package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/lockfile"
	"github.com/IshaanNene/phonegoat/internal/parser"
	"github.com/IshaanNene/phonegoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeFilters struct{ f types.Filter }

func (f fakeFilters) Filter(context.Context) (types.Filter, error) { return f.f, nil }

type fakeSearcher struct {
	listings []types.Listing
	err      error
	calls    int
}

func (s *fakeSearcher) Search(context.Context, *types.Filter) ([]types.Listing, error) {
	s.calls++
	return s.listings, s.err
}

type fakePages struct {
	bodies map[string]string
	seen   []string
}

func (p *fakePages) Get(_ context.Context, u string) ([]byte, error) {
	p.seen = append(p.seen, u)
	body, ok := p.bodies[u]
	if !ok {
		return nil, &types.FetchError{URL: u, StatusCode: 404, Err: errors.New("not found")}
	}
	return []byte(body), nil
}

type fixture struct {
	acq      *Acquirer
	cfg      *config.Config
	lock     *lockfile.Lock
	searcher *fakeSearcher
	pages    *fakePages
}

func newFixture(t *testing.T, cats ...types.AuthorCategory) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Acquisition.DatasetPath = filepath.Join(dir, "region_data.json")
	cfg.Acquisition.LockPath = filepath.Join(dir, "parsing.lock")
	cfg.Acquisition.PageDelay = 0

	pp, err := parser.NewPageParser(parser.PageRules{}, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		cfg:      cfg,
		lock:     lockfile.New(cfg.Acquisition.LockPath, 0, testLogger),
		searcher: &fakeSearcher{},
		pages:    &fakePages{bodies: map[string]string{}},
	}
	f.acq = New(cfg, Deps{
		Lock:     f.lock,
		Filters:  fakeFilters{types.Filter{Region: types.Region{Name: "Тюмень", ID: "4827"}, Rooms: []int{1, 2}, Categories: cats}},
		Searcher: f.searcher,
		Pages:    f.pages,
		Parser:   pp,
	}, testLogger)
	return f
}

func TestAcquireFiltersAndEnriches(t *testing.T) {
	f := newFixture(t, types.CategoryDeveloper, types.CategoryOwner)
	f.searcher.listings = []types.Listing{
		{URL: "/sale/flat/1/", AuthorType: types.CategoryDeveloper},
		{URL: "https://tyumen.cian.ru/sale/flat/2/", AuthorType: types.CategoryOwner},
		{URL: "https://tyumen.cian.ru/sale/flat/3/", AuthorType: types.CategoryAgency},
	}
	f.pages.bodies["https://www.cian.ru/sale/flat/1/"] = `<script>{"siteBlockId": 555}</script>`
	f.pages.bodies["https://tyumen.cian.ru/sale/flat/2/"] = `<script>{"offerPhone": "+79991112233"}</script>`

	got, err := f.acq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listings = %d, want 2", len(got))
	}
	if got[0].URL != "https://www.cian.ru/sale/flat/1/" {
		t.Errorf("relative URL not absolutized: %s", got[0].URL)
	}
	if got[0].BlockID == nil || *got[0].BlockID != 555 || got[0].DirectPhone != nil {
		t.Errorf("developer hints = %v / %v", got[0].BlockID, got[0].DirectPhone)
	}
	if got[1].DirectPhone == nil || *got[1].DirectPhone != "+79991112233" || got[1].BlockID != nil {
		t.Errorf("owner hints = %v / %v", got[1].BlockID, got[1].DirectPhone)
	}
	if len(f.pages.seen) != 2 {
		t.Errorf("page fetches = %v", f.pages.seen)
	}

	ds, err := ReadDataset(f.cfg.Acquisition.DatasetPath)
	if err != nil {
		t.Fatalf("ReadDataset: %v", err)
	}
	if ds.Region.ID != "4827" || len(ds.Data) != 2 || len(ds.Rooms) != 2 {
		t.Errorf("dataset = %+v", ds)
	}
	if f.lock.Held() {
		t.Error("lock still held after Acquire")
	}
}

func TestAcquireSearchErrorKeepsDataset(t *testing.T) {
	f := newFixture(t, types.AllCategories()...)
	os.WriteFile(f.cfg.Acquisition.DatasetPath, []byte("previous"), 0o644)
	f.searcher.err = errors.New("blocked")

	if _, err := f.acq.Acquire(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	data, _ := os.ReadFile(f.cfg.Acquisition.DatasetPath)
	if string(data) != "previous" {
		t.Errorf("dataset overwritten: %q", data)
	}
	if f.lock.Held() {
		t.Error("lock not released after failed search")
	}
}

func TestAcquireWhileLocked(t *testing.T) {
	f := newFixture(t, types.AllCategories()...)
	if err := f.lock.Acquire(); err != nil {
		t.Fatal(err)
	}

	if _, err := f.acq.Acquire(context.Background()); !errors.Is(err, types.ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
	if f.searcher.calls != 0 {
		t.Error("search ran while locked")
	}
	if !f.lock.Held() {
		t.Error("foreign lock was released")
	}
}

func TestCachedFreshAndStale(t *testing.T) {
	f := newFixture(t, types.CategoryDeveloper)
	path := f.cfg.Acquisition.DatasetPath
	err := WriteDataset(path, &Dataset{Data: []types.Listing{
		{URL: "https://tyumen.cian.ru/sale/flat/1/", AuthorType: types.CategoryDeveloper},
		{URL: "https://tyumen.cian.ru/sale/flat/2/", AuthorType: types.CategoryRealtor},
	}})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := f.acq.Cached(context.Background())
	if !ok || len(got) != 1 || got[0].AuthorType != types.CategoryDeveloper {
		t.Errorf("Cached = %v, %v", got, ok)
	}

	old := time.Now().Add(-25 * time.Hour)
	os.Chtimes(path, old, old)
	if _, ok := f.acq.Cached(context.Background()); ok {
		t.Error("stale dataset served")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale dataset not removed")
	}
}

func TestListingsCorruptDatasetIsEmpty(t *testing.T) {
	f := newFixture(t, types.CategoryDeveloper)
	path := f.cfg.Acquisition.DatasetPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"data": [`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := f.acq.Listings(context.Background())
	if err != nil {
		t.Fatalf("Listings: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no listings, got %d", len(got))
	}
}

func TestIsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.json")
	now := time.Now()
	if !IsStale(path, time.Hour, now) {
		t.Error("missing file should be stale")
	}
	os.WriteFile(path, []byte("{}"), 0o644)
	if IsStale(path, time.Hour, now) {
		t.Error("new file reported stale")
	}
	if !IsStale(path, time.Hour, now.Add(2*time.Hour)) {
		t.Error("old file not stale")
	}
}

const resultsPage = `<html><body>
<article data-name="CardComponent">
  <a href="/sale/flat/%d/"><span data-mark="OfferTitle">2-комн. кв., 54 м², 5/9 этаж</span></a>
  <div>Застройщик</div>
</article>
</body></html>`

// pagedFetcher serves one new card on pages 1 and 2 and repeats page 2
// afterwards.
type pagedFetcher struct{ requested []string }

func (p *pagedFetcher) Get(_ context.Context, u string) ([]byte, error) {
	p.requested = append(p.requested, u)
	parsed, _ := url.Parse(u)
	id := 102
	if parsed.Query().Get("p") == "1" {
		id = 101
	}
	return []byte(fmt.Sprintf(resultsPage, id)), nil
}

func TestSiteSearcherStopsWithoutNewCards(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Acquisition.PageDelay = 0
	pages := &pagedFetcher{}
	s := NewSiteSearcher(cfg, pages, nil, testLogger)

	minPrice := int64(1_000_000)
	got, err := s.Search(context.Background(), &types.Filter{
		Region:    types.Region{ID: "4827"},
		Rooms:     []int{2},
		MinFloors: []int{3},
		MinPrice:  &minPrice,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("listings = %d, want 2", len(got))
	}
	if len(pages.requested) != 3 {
		t.Errorf("pages requested = %d, want 3", len(pages.requested))
	}
	first := pages.requested[0]
	for _, want := range []string{"/cat.php?", "region=4827", "room2=1", "minfloor=3", "minprice=1000000", "p=1"} {
		if !strings.Contains(first, want) {
			t.Errorf("query %q missing %q", first, want)
		}
	}
}
