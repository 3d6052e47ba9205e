package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/ledger"
	"github.com/IshaanNene/phonegoat/internal/resolver"
	"github.com/IshaanNene/phonegoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

type fakeResolver struct {
	calls  []string
	before func(n int)
}

func (f *fakeResolver) Resolve(_ context.Context, l *types.Listing) (resolver.Result, error) {
	f.calls = append(f.calls, l.ID())
	if f.before != nil {
		f.before(len(f.calls))
	}
	if l.AuthorType.RequiresAPI() {
		return resolver.Result{
			Record:    types.Record{Phone: "+79990000000", NotFormattedPhone: "79990000000", Source: types.SourceAPI},
			APICalled: true,
		}, nil
	}
	return resolver.Result{
		Record: types.Record{Phone: "+79991112233", NotFormattedPhone: "79991112233", Source: types.SourceDirect},
	}, nil
}

type fakeHarvester struct{ urls []string }

func (f *fakeHarvester) Harvest(_ context.Context, u string) bool {
	f.urls = append(f.urls, u)
	return true
}

type fakeFilters struct{ f types.Filter }

func (f fakeFilters) Filter(context.Context) (types.Filter, error) { return f.f, nil }

type recordingSleeper struct {
	delays []time.Duration
	err    error
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

func allCategories() fakeFilters {
	return fakeFilters{types.Filter{
		Region:     types.Region{Name: "Тюмень", ID: "4827"},
		Categories: types.AllCategories(),
	}}
}

func listing(id int, cat types.AuthorCategory) types.Listing {
	return types.Listing{URL: fmt.Sprintf("https://tyumen.cian.ru/sale/flat/%d/", id), AuthorType: cat}
}

func testConfig(dir string) config.SessionConfig {
	return config.SessionConfig{
		LedgerPath:      filepath.Join(dir, "data.json"),
		ReportDir:       dir,
		CheckpointEvery: 5,
		ShortDelay:      time.Second,
		LongPause:       15 * time.Second,
		LongPauseEvery:  50,
	}
}

type harness struct {
	sess      *Session
	resolver  *fakeResolver
	harvester *fakeHarvester
	sleeper   *recordingSleeper
	cfg       config.SessionConfig
}

func newHarness(t *testing.T, filters FilterSource) *harness {
	t.Helper()
	h := &harness{
		resolver:  &fakeResolver{},
		harvester: &fakeHarvester{},
		sleeper:   &recordingSleeper{},
		cfg:       testConfig(t.TempDir()),
	}
	h.sess = New(h.cfg, "https://tyumen.cian.ru/sale/flat/1/", Deps{
		Resolver:  h.resolver,
		Harvester: h.harvester,
		Filters:   filters,
		Sleep:     h.sleeper.Sleep,
		Now:       func() time.Time { return fixedNow },
	}, testLogger)
	return h
}

func seedLedger(t *testing.T, path string, records map[string]types.Record) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResumeSkipsKnownIDs(t *testing.T) {
	h := newHarness(t, allCategories())
	ok := types.Record{Phone: "+71", NotFormattedPhone: "71", Source: types.SourceDirect}
	seedLedger(t, h.cfg.LedgerPath, map[string]types.Record{"1": ok, "2": ok})

	in := Static{listing(1, types.CategoryOwner), listing(2, types.CategoryOwner), listing(3, types.CategoryOwner)}
	rep, err := h.sess.Run(context.Background(), in, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.resolver.calls) != 1 || h.resolver.calls[0] != "3" {
		t.Errorf("resolved %v, want [3]", h.resolver.calls)
	}
	if rep.Processed != 1 || rep.Skipped != 2 || rep.Total != 3 {
		t.Errorf("report processed=%d skipped=%d total=%d", rep.Processed, rep.Skipped, rep.Total)
	}
	if len(rep.New) != 1 || rep.New[0].ID != "3" {
		t.Errorf("New = %+v", rep.New)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	h := newHarness(t, allCategories())
	in := Static{listing(10, types.CategoryOwner), listing(11, types.CategoryDeveloper)}

	if _, err := h.sess.Run(context.Background(), in, Options{}); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(h.cfg.LedgerPath)

	if _, err := h.sess.Run(context.Background(), in, Options{}); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(h.cfg.LedgerPath)

	if !bytes.Equal(first, second) {
		t.Errorf("ledger changed on rerun:\n%s\n---\n%s", first, second)
	}
	if len(h.resolver.calls) != 2 {
		t.Errorf("resolver calls = %d, want 2", len(h.resolver.calls))
	}
}

func TestLongPauseEveryFiftyAPICalls(t *testing.T) {
	h := newHarness(t, allCategories())
	var in Static
	for i := 1; i <= 51; i++ {
		in = append(in, listing(i, types.CategoryDeveloper))
	}

	rep, err := h.sess.Run(context.Background(), in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.APICalls != 51 {
		t.Errorf("APICalls = %d, want 51", rep.APICalls)
	}
	if len(h.sleeper.delays) != 50 {
		t.Fatalf("sleeps = %d, want 50", len(h.sleeper.delays))
	}
	for i, d := range h.sleeper.delays {
		want := time.Second
		if i == 49 {
			want = 15 * time.Second
		}
		if d != want {
			t.Errorf("sleep %d = %v, want %v", i, d, want)
		}
	}
}

func TestNonAPIListingsNeverPause(t *testing.T) {
	h := newHarness(t, allCategories())
	var in Static
	for i := 1; i <= 60; i++ {
		in = append(in, listing(i, types.CategoryRealtor))
	}

	rep, err := h.sess.Run(context.Background(), in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.APICalls != 0 {
		t.Errorf("APICalls = %d", rep.APICalls)
	}
	for i, d := range h.sleeper.delays {
		if d != time.Second {
			t.Fatalf("sleep %d = %v, want short delay", i, d)
		}
	}
	if len(h.harvester.urls) != 0 {
		t.Error("harvest should not run without developer listings")
	}
}

func TestCheckpointEveryFive(t *testing.T) {
	h := newHarness(t, allCategories())
	var onDisk = -1
	h.resolver.before = func(n int) {
		if n == 6 {
			onDisk = ledger.Open(h.cfg.LedgerPath, testLogger).Len()
		}
	}
	var in Static
	for i := 1; i <= 6; i++ {
		in = append(in, listing(i, types.CategoryOwner))
	}

	if _, err := h.sess.Run(context.Background(), in, Options{}); err != nil {
		t.Fatal(err)
	}
	if onDisk != 5 {
		t.Errorf("records on disk before 6th listing = %d, want 5", onDisk)
	}
}

func TestMaxPhonesCap(t *testing.T) {
	h := newHarness(t, allCategories())
	in := Static{
		listing(1, types.CategoryOwner), listing(2, types.CategoryOwner),
		listing(3, types.CategoryOwner), listing(4, types.CategoryOwner),
	}

	rep, err := h.sess.Run(context.Background(), in, Options{MaxPhones: 2})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 2 || len(h.resolver.calls) != 2 {
		t.Errorf("processed = %d, calls = %v", rep.Processed, h.resolver.calls)
	}
	if len(h.sleeper.delays) != 1 {
		t.Errorf("sleeps = %d, want 1", len(h.sleeper.delays))
	}
}

func TestHarvestOnceWithDeveloperTarget(t *testing.T) {
	h := newHarness(t, allCategories())
	in := Static{listing(1, types.CategoryOwner), listing(2, types.CategoryDeveloper), listing(3, types.CategoryDeveloper)}

	if _, err := h.sess.Run(context.Background(), in, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(h.harvester.urls) != 1 || !strings.HasSuffix(h.harvester.urls[0], "/2/") {
		t.Errorf("harvest targets = %v", h.harvester.urls)
	}
}

func TestCategoryFilterAndEmptyInput(t *testing.T) {
	filters := fakeFilters{types.Filter{Categories: []types.AuthorCategory{types.CategoryDeveloper}}}
	h := newHarness(t, filters)

	_, err := h.sess.Run(context.Background(), Static{listing(1, types.CategoryOwner)}, Options{})
	if !errors.Is(err, types.ErrNoListings) {
		t.Fatalf("err = %v, want ErrNoListings", err)
	}
	if _, err := os.Stat(h.cfg.LedgerPath); !os.IsNotExist(err) {
		t.Error("ledger written for empty input")
	}

	_, err = h.sess.Run(context.Background(), Static{}, Options{})
	if !errors.Is(err, types.ErrNoListings) {
		t.Errorf("empty input err = %v", err)
	}
}

func TestCancellationSavesProgress(t *testing.T) {
	h := newHarness(t, allCategories())
	h.sleeper.err = context.Canceled
	in := Static{listing(1, types.CategoryOwner), listing(2, types.CategoryOwner)}

	_, err := h.sess.Run(context.Background(), in, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := ledger.Open(h.cfg.LedgerPath, testLogger).Len(); n != 1 {
		t.Errorf("saved records = %d, want 1", n)
	}
}

func TestFreshResetsLedger(t *testing.T) {
	h := newHarness(t, allCategories())
	seedLedger(t, h.cfg.LedgerPath, map[string]types.Record{
		"1":  {Phone: "+71", Source: types.SourceDirect},
		"99": {Phone: "+72", Source: types.SourceDirect},
	})

	rep, err := h.sess.Run(context.Background(), Static{listing(1, types.CategoryOwner)}, Options{Fresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 1 || len(h.resolver.calls) != 1 {
		t.Errorf("total = %d, calls = %v", rep.Total, h.resolver.calls)
	}
}

func TestReportCountsWholeLedger(t *testing.T) {
	h := newHarness(t, allCategories())
	records := make(map[string]types.Record)
	var in Static
	for i := 1; i <= 10; i++ {
		id := fmt.Sprint(i)
		if i <= 7 {
			records[id] = types.Record{Phone: "+7900000000" + id, Source: types.SourceAPI}
		} else {
			records[id] = types.FailedRecord(nil)
		}
		in = append(in, listing(i, types.CategoryDeveloper))
	}
	seedLedger(t, h.cfg.LedgerPath, records)

	rep, err := h.sess.Run(context.Background(), in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 10 || rep.Success != 7 {
		t.Errorf("total=%d success=%d, want 10/7", rep.Total, rep.Success)
	}

	body, err := os.ReadFile(rep.Path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		"Регион: Тюмень (ID: 4827)",
		"Обработано объявлений: 10",
		"Успешно полученных номеров: 7",
		"Ограничение на количество: без ограничений",
		"Source: failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Index(text, "ID: 2\n") > strings.Index(text, "ID: 10\n") {
		t.Error("records not in numeric order")
	}
}

func TestReportFilename(t *testing.T) {
	r := &Report{
		Started:    fixedNow,
		Region:     types.Region{ID: "4827"},
		Categories: []types.AuthorCategory{types.CategoryDeveloper, types.CategoryOwner},
	}
	want := "phones_4827_developer_homeowner_05.03.2024-14-07-09.txt"
	if got := r.Filename(); got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}

func TestReportCapLabel(t *testing.T) {
	var buf bytes.Buffer
	r := &Report{Started: fixedNow, MaxPhones: 25}
	if err := r.Render(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Ограничение на количество: 25") {
		t.Errorf("cap not rendered:\n%s", buf.String())
	}
}
