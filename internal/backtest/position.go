package backtest

import (
	"math"
	"time"

	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/strategy"
)

// positionSize floors the number of units that fraction of capital buys at price.
func positionSize(capital, fraction, price float64) int64 {
	if capital <= 0 || fraction <= 0 || price <= 0 {
		return 0
	}
	return int64(math.Floor(capital * fraction / price))
}

// applySlippage moves a fill price against the position.
func applySlippage(price, slippage float64, dir strategy.Direction, entry bool) float64 {
	if slippage <= 0 {
		return price
	}
	// Buying fills higher, selling fills lower.
	buying := (dir == strategy.Long) == entry
	if buying {
		return price * (1 + slippage)
	}
	return price * (1 - slippage)
}

// openPosition turns a signal into an open position. Size is taken from the signal
// price; slippage only moves the recorded fill. It returns false when capital is
// insufficient for a single unit.
func openPosition(sig strategy.Signal, capital float64, opts Options) (Position, bool) {
	fill := applySlippage(sig.Price, opts.Slippage, sig.Direction, true)
	size := positionSize(capital, opts.PositionFraction, sig.Price)
	// The slipped notional must still fit in capital.
	if size > 0 && float64(size)*fill > capital {
		size = int64(math.Floor(capital / fill))
	}
	if size < 1 {
		return Position{}, false
	}
	return Position{
		State:      StateOpen,
		Direction:  sig.Direction,
		EntryTime:  sig.Time,
		EntryPrice: fill,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Size:       size,
	}, true
}

// checkExit evaluates the exit rules in priority order: stop-loss, take-profit, then
// holding time. It returns the un-slipped fill price of the first rule that fires.
func checkExit(p Position, b market.Bar, maxHolding time.Duration) (ExitReason, float64, bool) {
	if p.State != StateOpen {
		return "", 0, false
	}

	switch p.Direction {
	case strategy.Long:
		if b.Low <= p.StopLoss {
			return ExitStopLoss, p.StopLoss, true
		}
		if b.High >= p.TakeProfit {
			return ExitTakeProfit, p.TakeProfit, true
		}
	case strategy.Short:
		if b.High >= p.StopLoss {
			return ExitStopLoss, p.StopLoss, true
		}
		if b.Low <= p.TakeProfit {
			return ExitTakeProfit, p.TakeProfit, true
		}
	}

	if maxHolding > 0 && b.Time.Sub(p.EntryTime) >= maxHolding {
		return ExitMaxHolding, b.Close, true
	}
	return "", 0, false
}

// closePosition freezes p into its closed form and returns the capital released.
func closePosition(p Position, exitTime time.Time, price float64, reason ExitReason, opts Options) (Position, float64) {
	fill := applySlippage(price, opts.Slippage, p.Direction, false)
	size := float64(p.Size)

	pnl := (fill - p.EntryPrice) * size
	if p.Direction == strategy.Short {
		pnl = -pnl
	}
	pnl -= 2 * opts.Commission

	p.State = StateClosed
	p.ExitTime = exitTime
	p.ExitPrice = fill
	p.ExitReason = reason
	p.PnL = pnl
	return p, p.EntryPrice*size + pnl
}

func (p Position) trade(symbol string) Trade {
	return Trade{
		Symbol:     symbol,
		Direction:  p.Direction,
		EntryTime:  p.EntryTime,
		ExitTime:   p.ExitTime,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Size:       p.Size,
		PnL:        p.PnL,
		ExitReason: p.ExitReason,
	}
}
