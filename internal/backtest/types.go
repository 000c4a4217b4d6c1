package backtest

import (
	"errors"
	"time"

	"scalp-backtest-go/internal/strategy"
)

// ExitReason records which condition closed a position.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitMaxHolding ExitReason = "max_holding_time"
)

// Valid reports whether r is one of the defined exit reasons.
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStopLoss, ExitTakeProfit, ExitMaxHolding:
		return true
	}
	return false
}

// PositionState is the lifecycle stage of a position: none -> open -> closed.
type PositionState int

const (
	StateNone PositionState = iota
	StateOpen
	StateClosed
)

func (s PositionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "none"
	}
}

// Position is the single position slot of a run.
type Position struct {
	State      PositionState      `json:"state"`
	Direction  strategy.Direction `json:"direction"`
	EntryTime  time.Time          `json:"entry_time"`
	EntryPrice float64            `json:"entry_price"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	Size       int64              `json:"size"`

	ExitTime   time.Time  `json:"exit_time,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	PnL        float64    `json:"pnl,omitempty"`
}

// Trade is the immutable record of a closed position.
type Trade struct {
	Symbol     string             `json:"symbol"`
	Direction  strategy.Direction `json:"direction"`
	EntryTime  time.Time          `json:"entry_time"`
	ExitTime   time.Time          `json:"exit_time"`
	EntryPrice float64            `json:"entry_price"`
	ExitPrice  float64            `json:"exit_price"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	Size       int64              `json:"size"`
	PnL        float64            `json:"pnl"`
	ExitReason ExitReason         `json:"exit_reason"`
}

// EquityPoint is the account capital after a bar was processed.
type EquityPoint struct {
	Time   time.Time `json:"timestamp"`
	Equity float64   `json:"equity"`
}

// Options configures capital and execution costs of a run.
type Options struct {
	InitialCapital float64
	// Commission is a flat amount charged on entry and again on exit.
	Commission float64
	// Slippage is an adverse fraction applied to every fill.
	Slippage float64
	// PositionFraction is the share of available capital committed per entry.
	PositionFraction float64
	// MaxHolding overrides the strategy's holding limit when non-zero.
	MaxHolding time.Duration
}

// DefaultOptions mirrors the engine defaults.
func DefaultOptions() Options {
	return Options{
		InitialCapital:   100000,
		PositionFraction: 0.10,
	}
}

func (o Options) Validate() error {
	if o.InitialCapital < 0 {
		return errors.New("initial capital must not be negative")
	}
	if o.Commission < 0 {
		return errors.New("commission must not be negative")
	}
	if o.Slippage < 0 || o.Slippage >= 1 {
		return errors.New("slippage must be in [0, 1)")
	}
	if o.PositionFraction <= 0 || o.PositionFraction > 1 {
		return errors.New("position fraction must be in (0, 1]")
	}
	if o.MaxHolding < 0 {
		return errors.New("max holding must not be negative")
	}
	return nil
}

// Result is everything a completed run produces.
type Result struct {
	Symbol       string        `json:"symbol"`
	Strategy     string        `json:"strategy"`
	Trades       []Trade       `json:"trades"`
	Equity       []EquityPoint `json:"equity_curve"`
	Report       Report        `json:"performance"`
	FinalCapital float64       `json:"final_capital"`
	// Open is the position still held when the data ran out, if any.
	Open *Position `json:"open_position,omitempty"`
}
