package market

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the bar granularity requested from a data source.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe accepts the canonical names plus a few common aliases.
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1m", "m1":
		return TF1m, nil
	case "5m", "m5":
		return TF5m, nil
	case "15m", "m15":
		return TF15m, nil
	case "1h", "h1", "60m":
		return TF1h, nil
	case "1d", "d1", "day":
		return TF1d, nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
}

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Intraday reports whether the timeframe is minute-level data subject to short provider limits.
func (tf Timeframe) Intraday() bool {
	return tf == TF1m || tf == TF5m
}

// IsBusinessDay reports whether t falls on Monday through Friday.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
