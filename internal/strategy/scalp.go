package strategy

import (
	"go.uber.org/zap"

	"scalp-backtest-go/internal/indicator"
)

// Confidence attached to every scalp signal.
const scalpConfidence = 0.8

// Scalp trades oscillator extremes during a band squeeze.
type Scalp struct {
	p   Params
	log *zap.Logger
}

// NewScalp builds a scalping strategy. Params are assumed valid.
func NewScalp(p Params, log *zap.Logger) *Scalp {
	return &Scalp{p: p, log: log.Named("scalp")}
}

func (s *Scalp) Name() string { return NameScalping }

func (s *Scalp) Params() Params { return s.p }

// Generate emits a LONG when the oscillator is oversold and a SHORT when it is overbought,
// provided volatility is high enough and the bands are squeezed.
func (s *Scalp) Generate(symbol string, history indicator.Frame) (Signal, bool) {
	if len(history) < s.p.BandPeriod {
		s.log.Debug("Not enough data points", zap.Int("rows", len(history)), zap.Int("required", s.p.BandPeriod))
		return Signal{}, false
	}
	row, _ := history.Last()
	l := s.log.With(zap.Time("time", row.Time))

	if !indicator.Ready(row.Volatility) || row.Volatility < s.p.MinVolatility {
		l.Debug("Volatility too low", zap.Float64("volatility", row.Volatility), zap.Float64("min", s.p.MinVolatility))
		return Signal{}, false
	}

	cur, avg, ok := indicator.SqueezeWidths(history, s.p.BandPeriod)
	if !ok || cur >= avg*indicator.SqueezeRatio {
		l.Debug("No band squeeze", zap.Float64("width", cur), zap.Float64("avg_width", avg))
		return Signal{}, false
	}

	if !indicator.Ready(row.RSI) {
		return Signal{}, false
	}

	price := row.Close
	sig := Signal{
		Time:       row.Time,
		Symbol:     symbol,
		Confidence: scalpConfidence,
		Price:      price,
	}
	switch {
	case row.RSI < s.p.Oversold:
		sig.Direction = Long
		sig.StopLoss = price * (1 - s.p.StopLossPct)
		sig.TakeProfit = price * (1 + s.p.TakeProfitPct)
	case row.RSI > s.p.Overbought:
		sig.Direction = Short
		sig.StopLoss = price * (1 + s.p.StopLossPct)
		sig.TakeProfit = price * (1 - s.p.TakeProfitPct)
	default:
		return Signal{}, false
	}

	l.Debug("Generated signal",
		zap.String("direction", string(sig.Direction)),
		zap.Float64("price", price),
		zap.Float64("rsi", row.RSI),
		zap.Float64("upper", row.Upper),
		zap.Float64("lower", row.Lower))
	return sig, true
}
