package fetcher

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestFetcher(t *testing.T) (*HTTPFetcher, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(testLogger)
	f, err := NewHTTPFetcher(config.DefaultConfig(), metrics, testLogger)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f, metrics
}

func TestGetDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`"offerPhone":"+79990001122"`))
		gz.Close()
	}))
	defer srv.Close()

	f, metrics := newTestFetcher(t)
	body, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `"offerPhone":"+79990001122"` {
		t.Errorf("unexpected body %q", body)
	}
	if metrics.PagesFetched.Load() != 1 {
		t.Errorf("expected 1 page fetched, got %d", metrics.PagesFetched.Load())
	}
}

func TestPostJSONSendsHeadersAndPayload(t *testing.T) {
	var gotCookie, gotUA string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"phone":"+79990001122"}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	headers := map[string]string{"Cookie": "session=abc", "User-Agent": "test-agent"}
	body, err := f.PostJSON(context.Background(), srv.URL, headers, map[string]any{"blockId": 42})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if string(body) != `{"phone":"+79990001122"}` {
		t.Errorf("unexpected body %q", body)
	}
	if gotCookie != "session=abc" || gotUA != "test-agent" {
		t.Errorf("headers not forwarded: cookie=%q ua=%q", gotCookie, gotUA)
	}
	if gotBody["blockId"] != float64(42) {
		t.Errorf("payload not forwarded: %v", gotBody)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusForbidden, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		f, metrics := newTestFetcher(t)
		_, err := f.Get(context.Background(), srv.URL)
		srv.Close()

		var fe *types.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("status %d: expected FetchError, got %v", tt.status, err)
		}
		if fe.StatusCode != tt.status || fe.Retryable != tt.retryable {
			t.Errorf("status %d: got status=%d retryable=%v", tt.status, fe.StatusCode, fe.Retryable)
		}
		if metrics.FetchErrors.Load() != 1 {
			t.Errorf("status %d: expected 1 fetch error, got %d", tt.status, metrics.FetchErrors.Load())
		}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	if isRetryableError(context.Canceled) {
		t.Error("context cancellation must not be retryable")
	}
	if !isRetryableError(fmt.Errorf("read: %w", timeoutError{})) {
		t.Error("network timeouts should be retryable")
	}
	if isRetryableError(nil) {
		t.Error("nil is not retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("expected 3s, got %s", got)
	}
	if got := parseRetryAfter("600"); got != 120*time.Second {
		t.Errorf("expected cap at 120s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 5*time.Second {
		t.Errorf("expected default 5s, got %s", got)
	}
}
