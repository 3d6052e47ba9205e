package credentials

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/IshaanNene/phonegoat/internal/browser"
	"github.com/IshaanNene/phonegoat/internal/observability"
)

// Harvester refreshes a Bundle from one live page visit. A harvester runs at
// most once; later calls are no-ops.
type Harvester struct {
	automator browser.Automator
	bundle    *Bundle
	metrics   *observability.Metrics
	logger    *slog.Logger
	used      atomic.Bool
}

// NewHarvester creates a harvester that writes into bundle.
func NewHarvester(automator browser.Automator, bundle *Bundle, metrics *observability.Metrics, logger *slog.Logger) *Harvester {
	if metrics == nil {
		metrics = observability.NewMetrics(logger)
	}
	return &Harvester{
		automator: automator,
		bundle:    bundle,
		metrics:   metrics,
		logger:    logger.With("component", "harvester"),
	}
}

// Harvest visits sampleURL and merges the intercepted request into the
// bundle. It returns false, leaving the defaults in place, when nothing was
// intercepted or when a harvest already ran.
func (h *Harvester) Harvest(ctx context.Context, sampleURL string) bool {
	if !h.used.CompareAndSwap(false, true) {
		h.logger.Warn("harvest already attempted in this session")
		return false
	}

	h.logger.Info("harvesting API credentials", "url", sampleURL)
	capture, err := h.automator.RevealPhone(ctx, sampleURL)
	if err != nil {
		h.logger.Warn("browser harvest failed, keeping default credentials", "error", err)
		h.metrics.HarvestFails.Add(1)
		return false
	}
	if !capture.Intercepted() {
		h.logger.Warn("no API request intercepted, keeping default credentials", "url", sampleURL)
		h.metrics.HarvestFails.Add(1)
		return false
	}

	h.bundle.Merge(capture.Headers, capture.Payload)
	h.metrics.Harvests.Add(1)
	h.logger.Info("credentials updated from intercepted request")
	return true
}
