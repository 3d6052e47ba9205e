package fetcher

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/observability"
)

// ProxyManager rotates outbound proxies and tracks their health.
type ProxyManager struct {
	proxies  []*proxyEntry
	rotation string
	index    atomic.Int64
	mu       sync.RWMutex
	logger   *slog.Logger
}

// proxyChoice records the proxy the transport picked for one request.
type proxyChoice struct {
	mu  sync.Mutex
	url *url.URL
}

type proxyChoiceKey struct{}

func (c *proxyChoice) set(u *url.URL) {
	c.mu.Lock()
	c.url = u
	c.mu.Unlock()
}

func (c *proxyChoice) get() *url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// withProxyChoice attaches a proxyChoice to ctx for ProxyFunc to fill in.
func withProxyChoice(ctx context.Context) (context.Context, *proxyChoice) {
	c := &proxyChoice{}
	return context.WithValue(ctx, proxyChoiceKey{}, c), c
}

type proxyEntry struct {
	URL     *url.URL
	Healthy bool
	LastErr error
	LastUse time.Time
	mu      sync.Mutex
}

// NewProxyManager creates a new ProxyManager from configuration.
func NewProxyManager(cfg *config.ProxyConfig, logger *slog.Logger) *ProxyManager {
	pm := &ProxyManager{
		proxies:  make([]*proxyEntry, 0, len(cfg.URLs)),
		rotation: cfg.Rotation,
		logger:   logger.With("component", "proxy_manager"),
	}

	for _, rawURL := range cfg.URLs {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			logger.Warn("invalid proxy URL", "url", rawURL, "error", err)
			continue
		}
		pm.proxies = append(pm.proxies, &proxyEntry{URL: u, Healthy: true})
	}

	logger.Info("proxy manager initialized", "count", len(pm.proxies), "rotation", cfg.Rotation)
	return pm
}

// ProxyFunc returns an http.Transport-compatible proxy function.
func (pm *ProxyManager) ProxyFunc(metrics *observability.Metrics) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		proxy := pm.Next()
		if proxy == nil {
			return nil, nil // No proxy = direct connection
		}
		if metrics != nil {
			metrics.ProxyRotations.Add(1)
		}
		if c, ok := req.Context().Value(proxyChoiceKey{}).(*proxyChoice); ok {
			c.set(proxy)
		}
		return proxy, nil
	}
}

// Next returns the next proxy URL based on the rotation strategy.
func (pm *ProxyManager) Next() *url.URL {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	healthy := pm.healthyProxies()
	if len(healthy) == 0 {
		return nil
	}

	var entry *proxyEntry
	switch pm.rotation {
	case "random":
		entry = healthy[rand.Intn(len(healthy))]
	default: // round_robin
		entry = healthy[pm.index.Add(1)%int64(len(healthy))]
	}
	entry.mu.Lock()
	entry.LastUse = time.Now()
	entry.mu.Unlock()
	return entry.URL
}

// MarkFailed marks a proxy as unhealthy.
func (pm *ProxyManager) MarkFailed(proxyURL *url.URL, err error) {
	pm.setHealth(proxyURL, false, err)
	pm.logger.Warn("proxy marked unhealthy", "proxy", proxyURL.Host, "error", err)
}

// MarkHealthy marks a proxy as healthy.
func (pm *ProxyManager) MarkHealthy(proxyURL *url.URL) {
	pm.setHealth(proxyURL, true, nil)
}

func (pm *ProxyManager) setHealth(proxyURL *url.URL, healthy bool, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.proxies {
		if p.URL.String() == proxyURL.String() {
			p.mu.Lock()
			p.Healthy = healthy
			p.LastErr = err
			p.mu.Unlock()
			return
		}
	}
}

// HealthCheck requests probeURL through every proxy and updates its status.
func (pm *ProxyManager) HealthCheck(ctx context.Context, probeURL string) {
	pm.mu.RLock()
	proxies := make([]*proxyEntry, len(pm.proxies))
	copy(proxies, pm.proxies)
	pm.mu.RUnlock()

	for _, p := range proxies {
		client := &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(p.URL)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			pm.MarkFailed(p.URL, err)
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			pm.MarkFailed(p.URL, err)
			continue
		}
		resp.Body.Close()
		pm.MarkHealthy(p.URL)
	}

	pm.logger.Info("proxy health check complete", "healthy", pm.HealthyCount(), "total", pm.Count())
}

// Count returns the total number of proxies.
func (pm *ProxyManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.proxies)
}

// HealthyCount returns the number of healthy proxies.
func (pm *ProxyManager) HealthyCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.healthyProxies())
}

func (pm *ProxyManager) healthyProxies() []*proxyEntry {
	healthy := make([]*proxyEntry, 0, len(pm.proxies))
	for _, p := range pm.proxies {
		p.mu.Lock()
		if p.Healthy {
			healthy = append(healthy, p)
		}
		p.mu.Unlock()
	}
	return healthy
}
