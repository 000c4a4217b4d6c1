package strategy

import (
	"go.uber.org/zap"

	"scalp-backtest-go/internal/indicator"
)

// Breakout enters when a bar breaks the previous bar's range on rising volume.
// It enters at the breakout bar's open with tight fixed stops, so the decision sees
// that bar's high, low and volume before its fill; this intrabar look-ahead is part of
// the rule. Positions have no holding limit and close only on stop or target.
type Breakout struct {
	p   Params
	log *zap.Logger
}

const (
	breakoutStopPct   = 0.0005
	breakoutTargetPct = 0.001
)

func NewBreakout(p Params, log *zap.Logger) *Breakout {
	p.MaxHoldingMinutes = 0
	return &Breakout{p: p, log: log.Named("breakout")}
}

func (b *Breakout) Name() string { return NameBreakout }

func (b *Breakout) Params() Params { return b.p }

func (b *Breakout) Generate(symbol string, history indicator.Frame) (Signal, bool) {
	if len(history) < 2 {
		return Signal{}, false
	}
	cur := history[len(history)-1]
	prev := history[len(history)-2]
	if cur.Volume <= prev.Volume {
		return Signal{}, false
	}

	price := cur.Open
	sig := Signal{Time: cur.Time, Symbol: symbol, Confidence: 0.6, Price: price}
	switch {
	case cur.High > prev.High:
		sig.Direction = Long
		sig.StopLoss = price * (1 - breakoutStopPct)
		sig.TakeProfit = price * (1 + breakoutTargetPct)
	case cur.Low < prev.Low:
		sig.Direction = Short
		sig.StopLoss = price * (1 + breakoutStopPct)
		sig.TakeProfit = price * (1 - breakoutTargetPct)
	default:
		return Signal{}, false
	}

	b.log.Debug("Breakout signal", zap.String("direction", string(sig.Direction)), zap.Time("time", cur.Time))
	return sig, true
}
