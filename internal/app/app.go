// Package app wires the components into the end-to-end run: reuse a fresh
// dataset or acquire one, resolve phones, and export the new records.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IshaanNene/phonegoat/internal/acquisition"
	"github.com/IshaanNene/phonegoat/internal/browser"
	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/credentials"
	"github.com/IshaanNene/phonegoat/internal/fetcher"
	"github.com/IshaanNene/phonegoat/internal/lockfile"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/parser"
	"github.com/IshaanNene/phonegoat/internal/resolver"
	"github.com/IshaanNene/phonegoat/internal/retry"
	"github.com/IshaanNene/phonegoat/internal/session"
	"github.com/IshaanNene/phonegoat/internal/settings"
	"github.com/IshaanNene/phonegoat/internal/storage"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// App owns the long-lived components shared by every run.
type App struct {
	cfg      *config.Config
	metrics  *observability.Metrics
	settings *settings.Provider
	fetcher  *fetcher.HTTPFetcher
	parser   *parser.PageParser
	lock     *lockfile.Lock
	acquirer *acquisition.Acquirer
	sinks    storage.Storage
	logger   *slog.Logger
}

// New builds an App from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	metrics := observability.NewMetrics(logger)

	store, err := settings.Open(ctx, &cfg.Settings, logger)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	provider := settings.NewProvider(store)

	f, err := fetcher.NewHTTPFetcher(cfg, metrics, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	if pm := f.Proxies(); pm != nil {
		pm.HealthCheck(ctx, cfg.Site.BaseURL)
	}

	pp, err := parser.NewPageParser(parser.PageRules{
		BlockIDPattern: cfg.Resolver.BlockIDPattern,
		PhonePattern:   cfg.Resolver.PhonePattern,
		PhoneSelector:  cfg.Resolver.PhoneSelector,
	}, logger)
	if err != nil {
		store.Close()
		f.Close()
		return nil, err
	}

	sinks, err := storage.New(ctx, &cfg.Storage, logger)
	if err != nil {
		store.Close()
		f.Close()
		return nil, fmt.Errorf("open exports: %w", err)
	}

	lock := lockfile.New(cfg.Acquisition.LockPath, cfg.Acquisition.LockTTL, logger)

	a := &App{
		cfg:      cfg,
		metrics:  metrics,
		settings: provider,
		fetcher:  f,
		parser:   pp,
		lock:     lock,
		sinks:    sinks,
		logger:   logger.With("component", "app"),
	}
	a.acquirer = acquisition.New(cfg, acquisition.Deps{
		Lock:     lock,
		Filters:  provider,
		Searcher: acquisition.NewSiteSearcher(cfg, f, metrics, logger),
		Pages:    f,
		Parser:   pp,
		Metrics:  metrics,
	}, logger)
	return a, nil
}

// Settings returns the settings provider.
func (a *App) Settings() *settings.Provider { return a.settings }

// Metrics returns the shared counters.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Run performs a full pass. A fresh cached dataset is resolved directly.
// Otherwise, when another process is acquiring, the session waits for it
// and reads its dataset; else a new acquisition runs first. New records
// are exported to the configured sinks.
func (a *App) Run(ctx context.Context, opts session.Options) (*session.Report, error) {
	var src session.ListingSource

	switch cached, ok := a.acquirer.Cached(ctx); {
	case ok:
		a.logger.Info("using cached dataset", "listings", len(cached), "path", a.cfg.Acquisition.DatasetPath)
		src = session.Static(cached)
	case a.lock.Held():
		a.logger.Info("acquisition already running, waiting for its dataset")
		src = a.acquirer
	default:
		listings, err := a.acquirer.Acquire(ctx)
		switch {
		case errors.Is(err, types.ErrLocked):
			src = a.acquirer
		case err != nil:
			return nil, fmt.Errorf("acquire listings: %w", err)
		default:
			src = session.Static(listings)
		}
	}

	return a.resolve(ctx, src, opts)
}

// Acquire runs a listing acquisition only.
func (a *App) Acquire(ctx context.Context) ([]types.Listing, error) {
	return a.acquirer.Acquire(ctx)
}

// Resolve runs a session over the stored dataset without acquiring.
func (a *App) Resolve(ctx context.Context, opts session.Options) (*session.Report, error) {
	return a.resolve(ctx, a.acquirer, opts)
}

func (a *App) resolve(ctx context.Context, src session.ListingSource, opts session.Options) (*session.Report, error) {
	if opts.MaxPhones == 0 {
		opts.MaxPhones = a.cfg.Session.MaxPhones
	}

	sess := session.New(a.cfg.Session, a.cfg.Site.SampleURL, a.sessionDeps(), a.logger)
	rep, err := sess.Run(ctx, src, opts)
	if err != nil {
		return rep, err
	}

	if a.sinks != nil && len(rep.New) > 0 {
		if err := a.sinks.Store(ctx, rep.New); err != nil {
			a.logger.Error("export failed", "sink", a.sinks.Name(), "error", err)
		} else {
			a.logger.Info("records exported", "sink", a.sinks.Name(), "count", len(rep.New))
		}
	}
	return rep, nil
}

// sessionDeps builds the per-session collaborators. Credentials and the
// harvest guard live for one session only.
func (a *App) sessionDeps() session.Deps {
	origin := strings.TrimRight(a.cfg.Site.BaseURL, "/")
	userAgent := ""
	if len(a.cfg.Fetcher.UserAgents) > 0 {
		userAgent = a.cfg.Fetcher.UserAgents[0]
	}
	bundle := credentials.DefaultBundle(origin, userAgent)

	var automator browser.Automator
	if a.cfg.Browser.Enabled {
		var proxies browser.ProxySource
		if pm := a.fetcher.Proxies(); pm != nil {
			proxies = pm
		}
		automator = browser.NewRodAutomator(&a.cfg.Browser, a.cfg.Site.APIURL, proxies, a.logger)
	}

	res := resolver.New(resolver.Deps{
		Pages:   a.fetcher,
		API:     resolver.NewAPIClient(a.fetcher, a.cfg.Site.APIURL),
		Browser: automator,
		Bundle:  bundle,
		Parser:  a.parser,
		Metrics: a.metrics,
	}, retry.Policy{
		MaxAttempts: a.cfg.Resolver.MaxAttempts,
		Backoff:     a.cfg.Resolver.RetryBackoff,
	}, a.logger)

	deps := session.Deps{
		Resolver: res,
		Filters:  a.settings,
		Lock:     a.lock,
		Metrics:  a.metrics,
	}
	if automator != nil {
		deps.Harvester = credentials.NewHarvester(automator, bundle, a.metrics, a.logger)
	}
	return deps
}

// Close releases the settings store, the exports and the HTTP client.
func (a *App) Close() error {
	var errs []error
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	errs = append(errs, a.settings.Store().Close(), a.fetcher.Close())
	return errors.Join(errs...)
}
