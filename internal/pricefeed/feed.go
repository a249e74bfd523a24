// Package pricefeed fans quote requests out to the configured venues.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexbot/internal/domain"
	"github.com/alanyoungcy/dexbot/internal/metrics"
)

// Config bounds every venue call.
type Config struct {
	Timeout    time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// Feed quotes tokens across venues. It holds no state besides the optional
// write-through cache.
type Feed struct {
	sources map[string]domain.PriceSource
	order   []string
	limiter domain.RateLimiter
	cache   domain.PriceCache
	cfg     Config
	logger  *slog.Logger
}

// New creates a Feed. limiter and cache may be nil.
func New(sources []domain.PriceSource, limiter domain.RateLimiter, cache domain.PriceCache, cfg Config, logger *slog.Logger) *Feed {
	f := &Feed{
		sources: make(map[string]domain.PriceSource, len(sources)),
		limiter: limiter,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "pricefeed")),
	}
	for _, s := range sources {
		f.sources[s.Name()] = s
		f.order = append(f.order, s.Name())
	}
	return f
}

// Venues returns the configured venue names in registration order.
func (f *Feed) Venues() []string {
	return append([]string(nil), f.order...)
}

// Quote asks one venue. Every failure, including timeouts, unknown venues and
// rate limiting, is reported as domain.ErrUnavailable.
func (f *Feed) Quote(ctx context.Context, token domain.Token, venue string) (domain.PriceQuote, error) {
	src, ok := f.sources[venue]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("pricefeed: unknown venue %s: %w", venue, domain.ErrUnavailable)
	}

	if f.limiter != nil && f.cfg.RateLimit > 0 {
		allowed, err := f.limiter.Allow(ctx, "venue:"+venue, f.cfg.RateLimit, f.cfg.RateWindow)
		if err != nil {
			f.logger.DebugContext(ctx, "rate limiter unavailable", slog.String("venue", venue), slog.String("error", err.Error()))
		} else if !allowed {
			metrics.QuoteFailures.WithLabelValues(venue).Inc()
			return domain.PriceQuote{}, fmt.Errorf("pricefeed: %s: %w: %w", venue, domain.ErrUnavailable, domain.ErrRateLimited)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	q, err := src.Quote(callCtx, token)
	metrics.QuoteDuration.WithLabelValues(venue).Observe(time.Since(start).Seconds())
	if err == nil && q.Price <= 0 {
		err = errors.New("non-positive price")
	}
	if err != nil {
		metrics.QuoteFailures.WithLabelValues(venue).Inc()
		if !errors.Is(err, domain.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return domain.PriceQuote{}, fmt.Errorf("pricefeed: %s %s: %w", venue, token.Symbol, err)
	}

	if f.cache != nil {
		if cerr := f.cache.SetQuote(ctx, q); cerr != nil {
			f.logger.DebugContext(ctx, "cache quote failed", slog.String("venue", venue), slog.String("error", cerr.Error()))
		}
	}
	return q, nil
}

// Quotes asks every venue concurrently and returns the successful quotes in
// the order of venues. Unavailable venues are logged and omitted.
func (f *Feed) Quotes(ctx context.Context, token domain.Token, venues []string) []domain.PriceQuote {
	if venues == nil {
		venues = f.order
	}
	results := make([]*domain.PriceQuote, len(venues))

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	for i, v := range venues {
		g.Go(func() error {
			q, err := f.Quote(ctx, token, v)
			if err != nil {
				mu.Lock()
				failed = append(failed, v)
				mu.Unlock()
				f.logger.DebugContext(ctx, "venue unavailable",
					slog.String("venue", v),
					slog.String("token", token.Symbol),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.PriceQuote, 0, len(venues))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	if len(failed) > 0 && len(out) == 0 {
		f.logger.WarnContext(ctx, "all venues unavailable", slog.String("token", token.Symbol), slog.Any("venues", failed))
	}
	return out
}
