// Package resolver turns a listing into a ledger record by trying, in a
// category-dependent order, the listing page, the phone API and the browser.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/IshaanNene/phonegoat/internal/browser"
	"github.com/IshaanNene/phonegoat/internal/credentials"
	"github.com/IshaanNene/phonegoat/internal/observability"
	"github.com/IshaanNene/phonegoat/internal/parser"
	"github.com/IshaanNene/phonegoat/internal/phone"
	"github.com/IshaanNene/phonegoat/internal/retry"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// PageFetcher downloads a listing page.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// PhoneAPI performs a single phone API call.
type PhoneAPI interface {
	RequestPhone(ctx context.Context, headers map[string]string, payload map[string]any) (string, error)
}

// Result is the outcome of resolving one listing.
type Result struct {
	Record      types.Record
	APICalled   bool
	APIAttempts int
}

// Resolver resolves listings one at a time.
type Resolver struct {
	pages   PageFetcher
	api     PhoneAPI
	browser browser.Automator
	bundle  *credentials.Bundle
	parser  *parser.PageParser
	policy  retry.Policy
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Deps are the collaborators of a Resolver. Browser may be nil, in which
// case exhausted API retries end in a failed record.
type Deps struct {
	Pages   PageFetcher
	API     PhoneAPI
	Browser browser.Automator
	Bundle  *credentials.Bundle
	Parser  *parser.PageParser
	Metrics *observability.Metrics
}

// New creates a Resolver. policy governs the API tier; its Retryable and
// OnRetry fields are filled in when unset.
func New(deps Deps, policy retry.Policy, logger *slog.Logger) *Resolver {
	r := &Resolver{
		pages:   deps.Pages,
		api:     deps.API,
		browser: deps.Browser,
		bundle:  deps.Bundle,
		parser:  deps.Parser,
		metrics: deps.Metrics,
		logger:  logger.With("component", "resolver"),
	}
	if r.metrics == nil {
		r.metrics = observability.NewMetrics(logger)
	}
	if policy.Retryable == nil {
		policy.Retryable = retry.DefaultRetryable
	}
	r.policy = policy
	return r
}

type strategy func(r *Resolver, ctx context.Context, l *types.Listing, id string) (Result, error)

// strategyFor picks the resolution path for a category. Only developer
// listings carry a block id, so every other category uses the page.
func strategyFor(c types.AuthorCategory) strategy {
	if c.RequiresAPI() {
		return (*Resolver).resolveDeveloper
	}
	return (*Resolver).resolveDirect
}

// Resolve produces the record for l. The error is non-nil only when ctx was
// cancelled, in which case the result must not be stored.
func (r *Resolver) Resolve(ctx context.Context, l *types.Listing) (Result, error) {
	id, ok := types.ListingID(l.URL)
	if !ok {
		r.metrics.PhonesFailed.Add(1)
		return Result{Record: types.FailedRecord(nil)}, nil
	}

	res, err := strategyFor(l.AuthorType)(r, ctx, l, id)
	if err != nil {
		return res, err
	}

	switch res.Record.Source {
	case types.SourceDirect:
		r.metrics.PhonesDirect.Add(1)
	case types.SourceAPI:
		r.metrics.PhonesAPI.Add(1)
	case types.SourceBrowser:
		r.metrics.PhonesBrowser.Add(1)
	default:
		r.metrics.PhonesFailed.Add(1)
	}
	return res, nil
}

func (r *Resolver) resolveDeveloper(ctx context.Context, l *types.Listing, id string) (Result, error) {
	logger := r.logger.With("id", id, "category", l.AuthorType)

	blockID, ok := r.blockID(ctx, l, logger)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !ok {
		logger.Warn("block id not found, skipping API")
		return Result{Record: types.FailedRecord(nil)}, nil
	}

	announcementID, _ := strconv.ParseInt(id, 10, 64)
	location := locationURL(l.URL, id)

	var got string
	policy := r.policy
	policy.OnRetry = func(attempt int, err error) {
		logger.Warn("phone API attempt failed", "attempt", attempt, "max", r.policy.MaxAttempts, "error", err)
	}
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		r.metrics.APIAttempts.Add(1)
		headers, payload := r.bundle.Request(int64(blockID), announcementID, location)
		p, err := r.api.RequestPhone(ctx, headers, payload)
		if err != nil {
			return err
		}
		got = p
		return nil
	})
	r.metrics.APICalls.Add(1)
	res := Result{APICalled: true, APIAttempts: attempts}

	if err == nil {
		logger.Info("phone resolved via API", "block_id", blockID, "attempts", attempts)
		res.Record = newRecord(got, types.SourceAPI, &blockID)
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	logger.Warn("phone API exhausted", "attempts", attempts, "error", err)

	if r.browser == nil {
		res.Record = types.FailedRecord(&blockID)
		return res, nil
	}

	r.metrics.BrowserFallbacks.Add(1)
	capture, err := r.browser.RevealPhone(ctx, l.URL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if err != nil || capture == nil || phone.Digits(capture.Phone) == "" {
		logger.Warn("browser fallback found no phone", "error", err)
		res.Record = types.FailedRecord(&blockID)
		return res, nil
	}

	logger.Info("phone resolved via browser")
	res.Record = newRecord(capture.Phone, types.SourceBrowser, &blockID)
	return res, nil
}

// blockID prefers the acquisition hint and falls back to the listing page.
func (r *Resolver) blockID(ctx context.Context, l *types.Listing, logger *slog.Logger) (types.BlockID, bool) {
	if l.BlockID != nil {
		return *l.BlockID, true
	}
	body, err := r.pages.Get(ctx, l.URL)
	if err != nil {
		logger.Warn("listing page fetch failed", "error", err)
		return 0, false
	}
	return r.parser.BlockID(body)
}

func (r *Resolver) resolveDirect(ctx context.Context, l *types.Listing, id string) (Result, error) {
	logger := r.logger.With("id", id, "category", l.AuthorType)

	if l.DirectPhone != nil && phone.Digits(*l.DirectPhone) != "" {
		logger.Info("phone taken from acquisition hint")
		return Result{Record: newRecord(*l.DirectPhone, types.SourceDirect, nil)}, nil
	}

	body, err := r.pages.Get(ctx, l.URL)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		logger.Warn("listing page fetch failed", "error", err)
		return Result{Record: types.FailedRecord(nil)}, nil
	}

	raw, ok := r.parser.Phone(body)
	if !ok {
		logger.Warn("no phone on listing page")
		return Result{Record: types.FailedRecord(nil)}, nil
	}

	logger.Info("phone resolved from listing page")
	return Result{Record: newRecord(raw, types.SourceDirect, nil)}, nil
}

func newRecord(raw string, source types.Source, blockID *types.BlockID) types.Record {
	return types.Record{
		Phone:             phone.Format(raw),
		NotFormattedPhone: phone.Digits(raw),
		Source:            source,
		SiteBlockID:       blockID,
	}
}

// locationURL rebuilds the canonical listing URL on the listing's own
// regional host.
func locationURL(listingURL, id string) string {
	host := "www.cian.ru"
	if u, err := url.Parse(listingURL); err == nil {
		if h := u.Hostname(); strings.HasSuffix(h, ".cian.ru") {
			host = h
		}
	}
	return "https://" + host + "/sale/flat/" + id + "/"
}
