// Package session drives one resolution pass over a listing set: it skips
// listings already in the ledger, resolves the rest, checkpoints progress
// and writes the run report.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/ledger"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/resolver"
	"github.com/IshaanNene/phonegoat/internal/retry"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// Resolver resolves the phone of a single listing.
type Resolver interface {
	Resolve(ctx context.Context, l *types.Listing) (resolver.Result, error)
}

// Harvester refreshes API credentials from a live page.
type Harvester interface {
	Harvest(ctx context.Context, sampleURL string) bool
}

// FilterSource supplies the current search filter.
type FilterSource interface {
	Filter(ctx context.Context) (types.Filter, error)
}

// LockWaiter blocks while a listing acquisition is in progress.
type LockWaiter interface {
	Wait(ctx context.Context, interval time.Duration) error
}

// ListingSource yields the listings to process. It is read after the
// acquisition lock has been released.
type ListingSource interface {
	Listings(ctx context.Context) ([]types.Listing, error)
}

// Static is a fixed listing set.
type Static []types.Listing

func (s Static) Listings(context.Context) ([]types.Listing, error) { return s, nil }

// Deps are the collaborators of a session.
type Deps struct {
	Resolver  Resolver
	Harvester Harvester
	Filters   FilterSource
	Lock      LockWaiter
	Metrics   *observability.Metrics

	// Sleep and Now default to retry.SleepContext and time.Now.
	Sleep retry.Sleeper
	Now   func() time.Time
}

// Options tune a single run.
type Options struct {
	// MaxPhones caps the number of listings processed; 0 means unlimited.
	MaxPhones int `json:"max_phones"`
	// Fresh wipes the ledger before the run.
	Fresh bool `json:"fresh"`
}

// Session runs resolution passes against the ledger at cfg.LedgerPath.
type Session struct {
	cfg       config.SessionConfig
	sampleURL string
	deps      Deps
	logger    *slog.Logger
}

// New creates a Session. sampleURL is the harvest target used when the
// listing set contains no developer listing.
func New(cfg config.SessionConfig, sampleURL string, deps Deps, logger *slog.Logger) *Session {
	if deps.Sleep == nil {
		deps.Sleep = retry.SleepContext
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(logger)
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 5
	}
	if cfg.LongPauseEvery <= 0 {
		cfg.LongPauseEvery = 50
	}
	return &Session{
		cfg:       cfg,
		sampleURL: sampleURL,
		deps:      deps,
		logger:    logger.With("component", "session"),
	}
}

// Run processes the listings from src and returns the report. It returns
// types.ErrNoListings, writing nothing, when no listing matches the
// selected categories. On cancellation the ledger is saved before the
// context error is returned.
func (s *Session) Run(ctx context.Context, src ListingSource, opts Options) (*Report, error) {
	started := s.deps.Now()

	if s.deps.Lock != nil {
		if err := s.deps.Lock.Wait(ctx, s.cfg.LockPollInterval); err != nil {
			return nil, err
		}
	}

	filter, err := s.deps.Filters.Filter(ctx)
	if err != nil {
		return nil, fmt.Errorf("read filter: %w", err)
	}

	all, err := src.Listings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	listings := selectCategories(all, &filter)
	if len(listings) == 0 {
		s.logger.Warn("no listings to process", "categories", filter.CategoryNames(), "available", len(all))
		return nil, types.ErrNoListings
	}

	led := ledger.Open(s.cfg.LedgerPath, s.logger)
	if opts.Fresh {
		if err := led.Reset(); err != nil {
			return nil, err
		}
		s.logger.Info("ledger cleared")
	}

	s.deps.Metrics.SessionsRun.Add(1)
	s.logger.Info("session started",
		"listings", len(listings),
		"categories", filter.CategoryNames(),
		"max_phones", capLabel(opts.MaxPhones),
		"known", led.Len(),
	)

	if needsAPI(listings) && s.deps.Harvester != nil {
		if !s.deps.Harvester.Harvest(ctx, s.harvestTarget(listings)) {
			s.logger.Warn("credential harvest failed, using default headers")
		}
	}

	stats, runErr := s.process(ctx, led, listings, opts.MaxPhones)

	if err := s.save(led); err != nil {
		if runErr != nil {
			return nil, errors.Join(runErr, err)
		}
		return nil, err
	}
	if runErr != nil {
		s.logger.Warn("session interrupted, progress saved", "processed", stats.processed, "error", runErr)
		return nil, runErr
	}

	rep := &Report{
		Started:    started,
		Elapsed:    s.deps.Now().Sub(started),
		Region:     filter.Region,
		Categories: filter.Categories,
		MaxPhones:  opts.MaxPhones,
		Total:      led.Len(),
		Success:    led.Resolved(),
		Processed:  stats.processed,
		Resolved:   stats.resolved,
		Skipped:    stats.skipped,
		APICalls:   stats.apiCalls,
		New:        stats.fresh,
	}
	for _, id := range led.IDs() {
		r, _ := led.Get(id)
		rep.Records = append(rep.Records, types.Entry{ID: id, Record: r})
	}

	path, err := rep.Write(s.cfg.ReportDir)
	if err != nil {
		return rep, err
	}
	s.logger.Info("session finished",
		"processed", rep.Processed,
		"resolved", rep.Resolved,
		"api_calls", rep.APICalls,
		"success", fmt.Sprintf("%d/%d", rep.Success, rep.Total),
		"elapsed", rep.Elapsed.Round(time.Second),
		"report", path,
	)
	return rep, nil
}

type runStats struct {
	processed int
	resolved  int
	skipped   int
	apiCalls  int
	fresh     []types.Entry
}

func (s *Session) process(ctx context.Context, led *ledger.Ledger, listings []types.Listing, maxPhones int) (runStats, error) {
	var st runStats
	total := len(listings)

	for i := range listings {
		if maxPhones > 0 && st.processed >= maxPhones {
			s.logger.Info("phone cap reached", "max_phones", maxPhones)
			break
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}

		l := &listings[i]
		id := l.ID()
		if id == "" {
			s.logger.Warn("listing has no id", "url", l.URL)
			st.skipped++
			s.deps.Metrics.ListingsSkipped.Add(1)
			continue
		}
		if led.Has(id) {
			s.logger.Debug("already resolved", "id", id, "progress", fmt.Sprintf("%d/%d", i+1, total))
			st.skipped++
			s.deps.Metrics.ListingsSkipped.Add(1)
			continue
		}

		s.logger.Info("resolving", "id", id, "author_type", l.AuthorType, "progress", fmt.Sprintf("%d/%d", i+1, total))
		res, err := s.deps.Resolver.Resolve(ctx, l)
		if err != nil {
			return st, err
		}

		led.Put(id, res.Record)
		st.processed++
		st.fresh = append(st.fresh, types.Entry{ID: id, Record: res.Record})
		s.deps.Metrics.ListingsProcessed.Add(1)
		if res.Record.Resolved() {
			st.resolved++
		}

		if st.processed%s.cfg.CheckpointEvery == 0 {
			if err := s.save(led); err != nil {
				s.logger.Error("checkpoint failed", "error", err)
			}
		}

		long := false
		if res.APICalled {
			st.apiCalls++
			long = st.apiCalls%s.cfg.LongPauseEvery == 0
		}
		if i == total-1 || (maxPhones > 0 && st.processed >= maxPhones) {
			continue
		}
		delay := s.cfg.ShortDelay
		if long {
			delay = s.cfg.LongPause
			s.logger.Info("pausing after api calls", "api_calls", st.apiCalls, "pause", delay)
		}
		if err := s.deps.Sleep(ctx, delay); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *Session) save(led *ledger.Ledger) error {
	if err := led.Save(); err != nil {
		return err
	}
	s.deps.Metrics.LedgerSaves.Add(1)
	return nil
}

// harvestTarget prefers a developer listing from the current set.
func (s *Session) harvestTarget(listings []types.Listing) string {
	for _, l := range listings {
		if l.AuthorType.RequiresAPI() && l.URL != "" {
			return l.URL
		}
	}
	return s.sampleURL
}

func selectCategories(in []types.Listing, f *types.Filter) []types.Listing {
	out := make([]types.Listing, 0, len(in))
	for _, l := range in {
		if f.Includes(l.AuthorType) {
			out = append(out, l)
		}
	}
	return out
}

func needsAPI(listings []types.Listing) bool {
	for _, l := range listings {
		if l.AuthorType.RequiresAPI() {
			return true
		}
	}
	return false
}

func capLabel(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
