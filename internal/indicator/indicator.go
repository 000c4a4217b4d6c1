// Package indicator derives band, oscillator and volatility series from bars using
// trailing windows only, so the row at index i depends on bars[0..i] and nothing later.
package indicator

import (
	"errors"
	"math"

	"scalp-backtest-go/internal/market"
)

// Params configures the indicator windows.
type Params struct {
	BandPeriod int
	BandStdDev float64
	RSIPeriod  int
}

func (p Params) Validate() error {
	if p.BandPeriod < 2 {
		return errors.New("band period must be at least 2")
	}
	if p.BandStdDev <= 0 {
		return errors.New("band width multiplier must be positive")
	}
	if p.RSIPeriod < 1 {
		return errors.New("oscillator period must be at least 1")
	}
	return nil
}

// Row is a bar augmented with derived fields. Fields that are not ready yet hold NaN.
type Row struct {
	market.Bar
	Upper      float64
	Middle     float64
	Lower      float64
	RSI        float64
	Volatility float64
	Return     float64
	LogReturn  float64
}

// Frame is a time-ordered sequence of rows.
type Frame []Row

// Ready reports whether a derived value has enough history behind it.
func Ready(v float64) bool {
	return !math.IsNaN(v)
}

// Last returns the most recent row.
func (f Frame) Last() (Row, bool) {
	if len(f) == 0 {
		return Row{}, false
	}
	return f[len(f)-1], true
}

// BandWidth returns (upper-lower)/middle, or NaN if the bands are not ready.
func (r Row) BandWidth() float64 {
	if !Ready(r.Upper) || !Ready(r.Lower) || !Ready(r.Middle) || r.Middle == 0 {
		return math.NaN()
	}
	return (r.Upper - r.Lower) / r.Middle
}

// Calculator computes rows one bar at a time with rolling accumulators.
type Calculator struct {
	p      Params
	closes *window
	rets   *window
	frame  Frame

	prevClose float64
	changes   int
	sumGain   float64
	sumLoss   float64
	avgGain   float64
	avgLoss   float64
}

// NewCalculator returns an empty calculator. Invalid params yield rows that never become ready.
func NewCalculator(p Params) *Calculator {
	return &Calculator{
		p:      p,
		closes: newWindow(p.BandPeriod),
		rets:   newWindow(p.BandPeriod),
	}
}

// Push appends a bar and returns its row.
func (c *Calculator) Push(b market.Bar) Row {
	row := Row{
		Bar:        b,
		Upper:      math.NaN(),
		Middle:     math.NaN(),
		Lower:      math.NaN(),
		RSI:        math.NaN(),
		Volatility: math.NaN(),
		Return:     math.NaN(),
		LogReturn:  math.NaN(),
	}

	c.closes.push(b.Close)
	if c.p.BandPeriod > 0 && c.closes.full() {
		mid := c.closes.mean()
		dev := c.p.BandStdDev * c.closes.std(0)
		row.Middle = mid
		row.Upper = mid + dev
		row.Lower = mid - dev
	}

	if len(c.frame) > 0 {
		prev := c.prevClose
		change := b.Close - prev
		if prev != 0 {
			row.Return = change / prev
			row.LogReturn = math.Log(b.Close / prev)
			c.rets.push(row.Return)
			if c.p.BandPeriod > 0 && c.rets.full() {
				row.Volatility = c.rets.std(1)
			}
		}
		row.RSI = c.pushChange(change)
	}

	c.prevClose = b.Close
	c.frame = append(c.frame, row)
	return row
}

// pushChange applies Wilder smoothing, seeded with the simple mean of the first period changes.
func (c *Calculator) pushChange(change float64) float64 {
	n := c.p.RSIPeriod
	if n < 1 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	c.changes++
	switch {
	case c.changes < n:
		c.sumGain += gain
		c.sumLoss += loss
		return math.NaN()
	case c.changes == n:
		c.sumGain += gain
		c.sumLoss += loss
		c.avgGain = c.sumGain / float64(n)
		c.avgLoss = c.sumLoss / float64(n)
	default:
		c.avgGain = (c.avgGain*float64(n-1) + gain) / float64(n)
		c.avgLoss = (c.avgLoss*float64(n-1) + loss) / float64(n)
	}

	if c.avgLoss == 0 {
		return 100
	}
	return 100 * c.avgGain / (c.avgGain + c.avgLoss)
}

// Frame returns the rows pushed so far. Callers must not modify it.
func (c *Calculator) Frame() Frame {
	return c.frame
}

// Len returns the number of bars pushed.
func (c *Calculator) Len() int { return len(c.frame) }

// Compute derives a frame for a whole series.
func Compute(bars []market.Bar, p Params) Frame {
	c := NewCalculator(p)
	c.frame = make(Frame, 0, len(bars))
	for _, b := range bars {
		c.Push(b)
	}
	return c.frame
}

// SqueezeRatio is the fraction of the average band width under which the bands count as squeezed.
const SqueezeRatio = 0.98

// Squeeze reports whether the latest band width is below SqueezeRatio times the average
// band width over the last period rows. It is false whenever that history is incomplete.
func Squeeze(f Frame, period int) bool {
	cur, avg, ok := SqueezeWidths(f, period)
	if !ok {
		return false
	}
	return cur < avg*SqueezeRatio
}

// SqueezeWidths returns the current band width and its trailing average.
func SqueezeWidths(f Frame, period int) (current, average float64, ok bool) {
	if period <= 0 || len(f) < period {
		return 0, 0, false
	}
	var sum float64
	for _, r := range f[len(f)-period:] {
		w := r.BandWidth()
		if !Ready(w) {
			return 0, 0, false
		}
		sum += w
	}
	return f[len(f)-1].BandWidth(), sum / float64(period), true
}
