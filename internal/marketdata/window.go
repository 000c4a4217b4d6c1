package marketdata

import (
	"context"
	"time"

	"scalp-backtest-go/internal/market"
)

// Provider supplies ordered, business-day-only bars for a query. An empty slice
// with a nil error means the source has no data for the window.
type Provider interface {
	Bars(ctx context.Context, q Query) ([]market.Bar, error)
}

// Query selects a symbol's bars for [Start, End].
type Query struct {
	Symbol    string
	Timeframe market.Timeframe
	Start     time.Time
	End       time.Time
}

// maxLookback is how far back the chart API serves each intraday interval.
var maxLookback = map[market.Timeframe]time.Duration{
	market.TF1m:  7 * 24 * time.Hour,
	market.TF5m:  60 * 24 * time.Hour,
	market.TF15m: 60 * 24 * time.Hour,
	market.TF1h:  730 * 24 * time.Hour,
}

// Clip moves the start of q forward so the range fits the provider's lookback limit.
func Clip(q Query) Query {
	limit, ok := maxLookback[q.Timeframe]
	if !ok {
		return q
	}
	if earliest := q.End.Add(-limit); q.Start.Before(earliest) {
		q.Start = earliest
	}
	return q
}

// Window is a resolved request range.
type Window struct {
	Start time.Time
	End   time.Time
	// Period is the number of business days actually covered after capping.
	Period int
}

const (
	openHour, openMinute = 9, 30
	closeHour            = 16
)

// maxPeriod caps the business-day period for intraday timeframes.
var maxPeriod = map[market.Timeframe]int{
	market.TF1m: 7,
	market.TF5m: 60,
}

// ResolveWindow finds the range covering periodDays business days ending at the most
// recent session as of now. Times are interpreted in now's location. Intraday
// windows end at the current minute while the market is open and at the previous
// session's close otherwise.
func ResolveWindow(now time.Time, tf market.Timeframe, periodDays int) Window {
	if periodDays < 1 {
		periodDays = 1
	}

	end := now
	for !market.IsBusinessDay(end) {
		end = end.AddDate(0, 0, -1)
	}

	if tf.Intraday() {
		open := atClock(end, openHour, openMinute)
		closing := atClock(end, closeHour, 0)
		if sameDay(end, now) && !now.Before(open) && !now.After(closing) {
			end = now.Truncate(time.Minute)
		} else if sameDay(end, now) {
			end = previousBusinessDay(end)
			end = atClock(end, closeHour, 0)
		} else {
			end = closing
		}
		if limit, ok := maxPeriod[tf]; ok && periodDays > limit {
			periodDays = limit
		}
	} else {
		end = atClock(end, closeHour, 0)
	}

	start := end
	for counted := 0; counted < periodDays; {
		start = start.AddDate(0, 0, -1)
		if market.IsBusinessDay(start) {
			counted++
		}
	}

	return Window{Start: atClock(start, openHour, openMinute), End: end, Period: periodDays}
}

func atClock(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func previousBusinessDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, -1)
	for !market.IsBusinessDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
