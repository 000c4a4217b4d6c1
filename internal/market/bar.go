package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Bar is a single OHLCV observation.
type Bar struct {
	Time   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

var (
	// ErrMalformedBar is returned when a bar's prices or volume are inconsistent.
	ErrMalformedBar = errors.New("malformed bar")
	// ErrNonMonotonic is returned when bar timestamps do not strictly increase.
	ErrNonMonotonic = errors.New("non-monotonic timestamp")
)

// BarError identifies the offending bar of a rejected series.
type BarError struct {
	Index  int
	Time   time.Time
	Reason string
	Err    error
}

func (e *BarError) Error() string {
	return fmt.Sprintf("bar %d (%s): %s: %v", e.Index, e.Time.Format(time.RFC3339), e.Reason, e.Err)
}

func (e *BarError) Unwrap() error { return e.Err }

// ValidateBar checks the internal consistency of a single bar.
func ValidateBar(i int, b Bar) error {
	malformed := func(reason string) error {
		return &BarError{Index: i, Time: b.Time, Reason: reason, Err: ErrMalformedBar}
	}

	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return malformed(fmt.Sprintf("price %v is not a positive number", p))
		}
	}
	if b.High < b.Low {
		return malformed(fmt.Sprintf("high %v below low %v", b.High, b.Low))
	}
	if b.High < math.Max(b.Open, b.Close) {
		return malformed(fmt.Sprintf("high %v below open/close", b.High))
	}
	if b.Low > math.Min(b.Open, b.Close) {
		return malformed(fmt.Sprintf("low %v above open/close", b.Low))
	}
	if b.Volume < 0 {
		return malformed(fmt.Sprintf("negative volume %d", b.Volume))
	}
	if b.Time.IsZero() {
		return malformed("missing timestamp")
	}
	return nil
}

// ValidateNext checks bar i against its predecessor. prev is nil for the first bar.
func ValidateNext(i int, prev *Bar, b Bar) error {
	if err := ValidateBar(i, b); err != nil {
		return err
	}
	if prev != nil && !b.Time.After(prev.Time) {
		return &BarError{
			Index:  i,
			Time:   b.Time,
			Reason: fmt.Sprintf("not after previous bar at %s", prev.Time.Format(time.RFC3339)),
			Err:    ErrNonMonotonic,
		}
	}
	return nil
}

// ValidateSeries validates every bar and the ordering of the whole series.
func ValidateSeries(bars []Bar) error {
	for i := range bars {
		var prev *Bar
		if i > 0 {
			prev = &bars[i-1]
		}
		if err := ValidateNext(i, prev, bars[i]); err != nil {
			return err
		}
	}
	return nil
}
