package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for acquisition and resolution.
type Metrics struct {
	// Transport
	PagesFetched   atomic.Int64
	FetchErrors    atomic.Int64
	ProxyRotations atomic.Int64

	// Acquisition
	ListingsAcquired atomic.Int64
	SearchPages      atomic.Int64

	// Resolution
	ListingsProcessed atomic.Int64
	ListingsSkipped   atomic.Int64
	PhonesDirect      atomic.Int64
	PhonesAPI         atomic.Int64
	PhonesBrowser     atomic.Int64
	PhonesFailed      atomic.Int64
	APICalls          atomic.Int64
	APIAttempts       atomic.Int64
	BrowserFallbacks  atomic.Int64

	// Session
	Harvests     atomic.Int64
	HarvestFails atomic.Int64
	LedgerSaves  atomic.Int64
	SessionsRun  atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

type metricLine struct {
	name  string
	help  string
	value int64
}

func (m *Metrics) lines() []metricLine {
	return []metricLine{
		{"phonegoat_pages_fetched_total", "Total HTTP responses read", m.PagesFetched.Load()},
		{"phonegoat_fetch_errors_total", "Total failed HTTP requests", m.FetchErrors.Load()},
		{"phonegoat_proxy_rotations_total", "Total proxy rotations", m.ProxyRotations.Load()},
		{"phonegoat_listings_acquired_total", "Total listings written to the dataset", m.ListingsAcquired.Load()},
		{"phonegoat_search_pages_total", "Total search result pages walked", m.SearchPages.Load()},
		{"phonegoat_listings_processed_total", "Total listings resolved", m.ListingsProcessed.Load()},
		{"phonegoat_listings_skipped_total", "Total listings skipped as already resolved or without ID", m.ListingsSkipped.Load()},
		{"phonegoat_phones_direct_total", "Phones taken from listing pages", m.PhonesDirect.Load()},
		{"phonegoat_phones_api_total", "Phones returned by the call-tracking API", m.PhonesAPI.Load()},
		{"phonegoat_phones_browser_total", "Phones scraped with the headless browser", m.PhonesBrowser.Load()},
		{"phonegoat_phones_failed_total", "Listings left unresolved", m.PhonesFailed.Load()},
		{"phonegoat_api_calls_total", "Listings that reached the phone API", m.APICalls.Load()},
		{"phonegoat_api_attempts_total", "Individual phone API requests", m.APIAttempts.Load()},
		{"phonegoat_browser_fallbacks_total", "Browser scrapes after API exhaustion", m.BrowserFallbacks.Load()},
		{"phonegoat_harvests_total", "Successful credential harvests", m.Harvests.Load()},
		{"phonegoat_harvest_failures_total", "Harvests that kept default credentials", m.HarvestFails.Load()},
		{"phonegoat_ledger_saves_total", "Ledger checkpoints written", m.LedgerSaves.Load()},
		{"phonegoat_sessions_total", "Resolution sessions completed", m.SessionsRun.Load()},
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	for _, metric := range m.lines() {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the standalone metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return srv
}

// Snapshot returns the resolution counters as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"listings_processed": m.ListingsProcessed.Load(),
		"listings_skipped":   m.ListingsSkipped.Load(),
		"phones_direct":      m.PhonesDirect.Load(),
		"phones_api":         m.PhonesAPI.Load(),
		"phones_browser":     m.PhonesBrowser.Load(),
		"phones_failed":      m.PhonesFailed.Load(),
		"api_calls":          m.APICalls.Load(),
		"api_attempts":       m.APIAttempts.Load(),
		"pages_fetched":      m.PagesFetched.Load(),
		"fetch_errors":       m.FetchErrors.Load(),
	}
}
