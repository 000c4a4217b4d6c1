package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scalp-backtest-go/internal/market"
)

// BarCache stores previously fetched windows of bars.
type BarCache interface {
	// Covered reports whether [start, end] was fetched before.
	Covered(ctx context.Context, symbol, timeframe string, start, end time.Time) (bool, error)
	LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error)
	// SaveBars stores bars and records [start, end] as covered.
	SaveBars(ctx context.Context, symbol, timeframe string, start, end time.Time, bars []market.Bar) error
}

// Cached serves repeat queries from a BarCache and fills it from the wrapped Provider.
// Cache failures are logged and fall through to the provider.
type Cached struct {
	next   Provider
	cache  BarCache
	logger *zap.Logger
	now    func() time.Time
}

var _ Provider = (*Cached)(nil)

func NewCached(next Provider, cache BarCache, logger *zap.Logger) *Cached {
	return &Cached{next: next, cache: cache, logger: logger.Named("cache"), now: time.Now}
}

func (c *Cached) Bars(ctx context.Context, q Query) ([]market.Bar, error) {
	q = Clip(q)
	symbol, tf := q.Symbol, string(q.Timeframe)
	l := c.logger.With(zap.String("symbol", symbol), zap.String("timeframe", tf))

	hit, err := c.cache.Covered(ctx, symbol, tf, q.Start, q.End)
	if err != nil {
		l.Warn("Bar cache lookup failed", zap.Error(err))
	}
	if hit {
		bars, err := c.cache.LoadBars(ctx, symbol, tf, q.Start, q.End)
		if err == nil {
			for i := range bars {
				bars[i].Time = bars[i].Time.In(q.Start.Location())
			}
			l.Debug("Serving bars from cache", zap.Int("bars", len(bars)))
			return bars, nil
		}
		l.Warn("Bar cache load failed", zap.Error(err))
	}

	bars, err := c.next.Bars(ctx, q)
	if err != nil {
		return nil, err
	}

	// A window reaching into the live session can still change.
	if q.End.Before(c.now().Add(-q.Timeframe.Duration())) {
		if err := c.cache.SaveBars(ctx, symbol, tf, q.Start, q.End, bars); err != nil {
			l.Warn("Failed to cache bars", zap.Error(err))
		}
	}
	return bars, nil
}
