package resolver

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/IshaanNene/phonegoat/internal/browser"
	"github.com/IshaanNene/phonegoat/internal/credentials"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/parser"
	"github.com/IshaanNene/phonegoat/internal/retry"
	"github.com/IshaanNene/phonegoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakePages struct {
	pages map[string]string
	err   error
	calls int
}

func (f *fakePages) Get(ctx context.Context, rawURL string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, &types.FetchError{URL: rawURL, StatusCode: 404, Err: errors.New("not found")}
	}
	return []byte(body), nil
}

type fakeAPI struct {
	phones   []string
	errs     []error
	calls    int
	payloads []map[string]any
}

func (f *fakeAPI) RequestPhone(ctx context.Context, headers map[string]string, payload map[string]any) (string, error) {
	f.calls++
	f.payloads = append(f.payloads, payload)
	i := f.calls - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.phones) && f.phones[i] != "" {
		return f.phones[i], nil
	}
	return "", types.ErrEmptyPhone
}

type fakeBrowser struct {
	phone string
	calls int
}

func (f *fakeBrowser) RevealPhone(ctx context.Context, pageURL string) (*browser.Capture, error) {
	f.calls++
	return &browser.Capture{Phone: f.phone}, nil
}

type sleepRecorder struct{ n int }

func (s *sleepRecorder) sleep(context.Context, time.Duration) error {
	s.n++
	return nil
}

type fixture struct {
	pages   *fakePages
	api     *fakeAPI
	browser *fakeBrowser
	sleeps  *sleepRecorder
	metrics *observability.Metrics
	r       *Resolver
}

func newFixture(t *testing.T, withBrowser bool) *fixture {
	t.Helper()
	pp, err := parser.NewPageParser(parser.DefaultPageRules(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		pages:   &fakePages{pages: map[string]string{}},
		api:     &fakeAPI{},
		browser: &fakeBrowser{},
		sleeps:  &sleepRecorder{},
		metrics: observability.NewMetrics(testLogger),
	}
	deps := Deps{
		Pages:   f.pages,
		API:     f.api,
		Bundle:  credentials.DefaultBundle("https://www.cian.ru", "ua"),
		Parser:  pp,
		Metrics: f.metrics,
	}
	if withBrowser {
		deps.Browser = f.browser
	}
	f.r = New(deps, retry.Policy{MaxAttempts: 6, Backoff: 2 * time.Second, Sleep: f.sleeps.sleep}, testLogger)
	return f
}

const devURL = "https://tyumen.cian.ru/sale/flat/307997699/"

func TestDeveloperResolvedViaAPI(t *testing.T) {
	f := newFixture(t, true)
	f.pages.pages[devURL] = `{"siteBlockId": 4242}`
	f.api.phones = []string{"", "89261234567"}

	res, err := f.r.Resolve(context.Background(), &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper})
	if err != nil {
		t.Fatal(err)
	}

	rec := res.Record
	if rec.Source != types.SourceAPI || rec.Phone != "+79261234567" || rec.NotFormattedPhone != "89261234567" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.SiteBlockID == nil || *rec.SiteBlockID != 4242 {
		t.Errorf("block id not kept: %v", rec.SiteBlockID)
	}
	if !res.APICalled || res.APIAttempts != 2 {
		t.Errorf("expected API called with 2 attempts, got %+v", res)
	}

	p := f.api.payloads[0]
	if p["blockId"] != int64(4242) || p["announcementId"] != int64(307997699) {
		t.Errorf("payload overrides wrong: %v", p)
	}
	if p["locationUrl"] != "https://tyumen.cian.ru/sale/flat/307997699/" {
		t.Errorf("locationUrl = %v", p["locationUrl"])
	}
}

func TestDeveloperUsesBlockIDHint(t *testing.T) {
	f := newFixture(t, true)
	hint := types.BlockID(77)
	f.api.phones = []string{"+79990000001"}

	res, _ := f.r.Resolve(context.Background(), &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper, BlockID: &hint})

	if f.pages.calls != 0 {
		t.Errorf("page fetched despite hint (%d calls)", f.pages.calls)
	}
	if res.Record.Source != types.SourceAPI {
		t.Errorf("expected api source, got %s", res.Record.Source)
	}
}

func TestDeveloperExhaustsSixAttemptsThenBrowser(t *testing.T) {
	f := newFixture(t, true)
	f.pages.pages[devURL] = `"siteBlockId":1`
	f.browser.phone = "+7 (926) 111-22-33"

	res, err := f.r.Resolve(context.Background(), &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper})
	if err != nil {
		t.Fatal(err)
	}

	if f.api.calls != 6 {
		t.Errorf("expected exactly 6 API attempts, got %d", f.api.calls)
	}
	if f.sleeps.n != 5 {
		t.Errorf("expected 5 backoff sleeps, got %d", f.sleeps.n)
	}
	if f.browser.calls != 1 {
		t.Errorf("expected one browser fallback, got %d", f.browser.calls)
	}
	if res.Record.Source != types.SourceBrowser || res.Record.Phone != "+79261112233" {
		t.Errorf("unexpected record %+v", res.Record)
	}
	if f.metrics.BrowserFallbacks.Load() != 1 {
		t.Error("browser fallback not counted")
	}
}

func TestDeveloperRetriesMalformedAndRequestErrors(t *testing.T) {
	f := newFixture(t, false)
	f.pages.pages[devURL] = `"siteBlockId":1`
	f.api.errs = []error{types.ErrMalformedResponse, &types.FetchError{URL: "api", Err: errors.New("reset")}}
	f.api.phones = []string{"", "", "+79990000002"}

	res, _ := f.r.Resolve(context.Background(), &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper})
	if res.Record.Source != types.SourceAPI || f.api.calls != 3 {
		t.Errorf("expected success on third attempt, got %+v after %d calls", res.Record, f.api.calls)
	}
}

func TestDeveloperWithoutBlockIDFailsWithoutAPI(t *testing.T) {
	f := newFixture(t, true)
	f.pages.pages[devURL] = `<html>no block here</html>`

	res, _ := f.r.Resolve(context.Background(), &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper})

	if res.Record.Source != types.SourceFailed || res.Record.Phone != types.UnresolvedPhone {
		t.Errorf("expected failed record, got %+v", res.Record)
	}
	if res.APICalled || f.api.calls != 0 || f.browser.calls != 0 {
		t.Error("no API or browser call expected without block id")
	}
}

func TestDeveloperFailsWhenBrowserFindsNothing(t *testing.T) {
	f := newFixture(t, true)
	f.pages.pages[devURL] = `"siteBlockId":9`

	res, _ := f.r.Resolve(context.Background(), &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper})
	if res.Record.Source != types.SourceFailed {
		t.Errorf("expected failed, got %s", res.Record.Source)
	}
	if res.Record.SiteBlockID == nil || *res.Record.SiteBlockID != 9 {
		t.Error("failed developer record should keep its block id")
	}
}

func TestNonDeveloperNeverCallsAPI(t *testing.T) {
	for _, c := range []types.AuthorCategory{types.CategoryAgency, types.CategoryOwner, types.CategoryRealtor} {
		t.Run(string(c), func(t *testing.T) {
			f := newFixture(t, true)
			u := "https://tyumen.cian.ru/sale/flat/100/"
			f.pages.pages[u] = `{"offerPhone":"89001234567","siteBlockId":5}`

			res, err := f.r.Resolve(context.Background(), &types.Listing{URL: u, AuthorType: c})
			if err != nil {
				t.Fatal(err)
			}
			if f.api.calls != 0 || res.APICalled {
				t.Error("API called for non-developer listing")
			}
			if res.Record.Source != types.SourceDirect || res.Record.Phone != "+79001234567" {
				t.Errorf("unexpected record %+v", res.Record)
			}
			if res.Record.SiteBlockID != nil {
				t.Error("non-developer record must not carry a block id")
			}
		})
	}
}

func TestNonDeveloperFallbacks(t *testing.T) {
	f := newFixture(t, true)
	markup := "https://tyumen.cian.ru/sale/flat/101/"
	missing := "https://tyumen.cian.ru/sale/flat/102/"
	f.pages.pages[markup] = `<a data-testid="PhoneLink">+7 912 000-11-22</a>`
	f.pages.pages[missing] = `<html></html>`

	res, _ := f.r.Resolve(context.Background(), &types.Listing{URL: markup, AuthorType: types.CategoryOwner})
	if res.Record.Source != types.SourceDirect || res.Record.Phone != "+79120001122" {
		t.Errorf("markup fallback failed: %+v", res.Record)
	}

	res, _ = f.r.Resolve(context.Background(), &types.Listing{URL: missing, AuthorType: types.CategoryOwner})
	if res.Record.Source != types.SourceFailed {
		t.Errorf("expected failed, got %+v", res.Record)
	}
	if f.browser.calls != 0 {
		t.Error("browser must not be used for non-developer listings")
	}
}

func TestNonDeveloperUsesDirectPhoneHint(t *testing.T) {
	f := newFixture(t, true)
	hint := "8 (900) 555-44-33"

	res, _ := f.r.Resolve(context.Background(), &types.Listing{
		URL: "https://tyumen.cian.ru/sale/flat/103/", AuthorType: types.CategoryRealtor, DirectPhone: &hint,
	})
	if f.pages.calls != 0 {
		t.Error("page fetched despite direct phone hint")
	}
	if res.Record.Phone != "+79005554433" || res.Record.NotFormattedPhone != "89005554433" {
		t.Errorf("unexpected record %+v", res.Record)
	}
}

func TestResolveCancelled(t *testing.T) {
	f := newFixture(t, true)
	f.pages.pages[devURL] = `"siteBlockId":1`
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.r.Resolve(ctx, &types.Listing{URL: devURL, AuthorType: types.CategoryDeveloper}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocationURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://tyumen.cian.ru/sale/flat/1/", "https://tyumen.cian.ru/sale/flat/1/"},
		{"https://spb.cian.ru/sale/flat/1/?x=1", "https://spb.cian.ru/sale/flat/1/"},
		{"https://example.com/sale/flat/1/", "https://www.cian.ru/sale/flat/1/"},
	}
	for _, tt := range tests {
		if got := locationURL(tt.in, "1"); got != tt.want {
			t.Errorf("locationURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
