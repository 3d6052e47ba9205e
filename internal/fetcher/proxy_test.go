package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/IshaanNene/phonegoat/internal/config"
)

// deadProxyURL returns the address of a server that is no longer listening.
func deadProxyURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func newProxiedFetcher(t *testing.T, proxies ...string) *HTTPFetcher {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Proxy.Enabled = true
	cfg.Proxy.URLs = proxies
	f, err := NewHTTPFetcher(cfg, nil, testLogger)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestUnreachableProxyMarkedFailed(t *testing.T) {
	f := newProxiedFetcher(t, deadProxyURL(t))
	if f.Proxies().HealthyCount() != 1 {
		t.Fatalf("expected 1 healthy proxy before the request")
	}

	_, err := f.Get(context.Background(), "http://listing.example/sale/flat/1/")
	if err == nil {
		t.Fatal("expected an error through a dead proxy")
	}
	if got := f.Proxies().HealthyCount(); got != 0 {
		t.Errorf("healthy proxies = %d, want 0", got)
	}
}

func TestTargetErrorKeepsProxyHealthy(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer proxy.Close()

	f := newProxiedFetcher(t, proxy.URL)
	if _, err := f.Get(context.Background(), "http://listing.example/sale/flat/1/"); err == nil {
		t.Fatal("expected status error")
	}
	if got := f.Proxies().HealthyCount(); got != 1 {
		t.Errorf("healthy proxies = %d, want 1", got)
	}
}

func TestHealthCheck(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer live.Close()

	f := newProxiedFetcher(t, live.URL, deadProxyURL(t))
	pm := f.Proxies()

	liveURL, _ := url.Parse(live.URL)
	pm.MarkFailed(liveURL, errors.New("earlier failure"))
	if pm.HealthyCount() != 1 {
		t.Fatalf("expected 1 healthy proxy after MarkFailed, got %d", pm.HealthyCount())
	}

	pm.HealthCheck(context.Background(), "http://listing.example/")

	if got := pm.HealthyCount(); got != 1 {
		t.Fatalf("healthy proxies = %d, want 1", got)
	}
	if next := pm.Next(); next == nil || next.String() != liveURL.String() {
		t.Errorf("Next = %v, want %s", next, liveURL)
	}
}
