package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"scalp-backtest-go/internal/indicator"
)

// Direction is the side of a simulated position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Signal is a request to open a position at Price.
type Signal struct {
	Time       time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
}

// Params holds the tunables shared by the strategies. It is passed by value and never mutated.
type Params struct {
	BandPeriod        int
	BandStdDev        float64
	RSIPeriod         int
	Oversold          float64
	Overbought        float64
	MinVolatility     float64
	MaxHoldingMinutes int
	StopLossPct       float64
	TakeProfitPct     float64
}

// DefaultParams returns the scalping defaults.
func DefaultParams() Params {
	return Params{
		BandPeriod:        10,
		BandStdDev:        1.5,
		RSIPeriod:         7,
		Oversold:          40,
		Overbought:        60,
		MinVolatility:     0.0001,
		MaxHoldingMinutes: 30,
		StopLossPct:       0.005,
		TakeProfitPct:     0.01,
	}
}

func (p Params) Validate() error {
	if err := p.Indicators().Validate(); err != nil {
		return err
	}
	if p.Oversold < 0 || p.Overbought > 100 || p.Oversold > p.Overbought {
		return fmt.Errorf("invalid oscillator thresholds: oversold %v, overbought %v", p.Oversold, p.Overbought)
	}
	if p.MinVolatility < 0 {
		return errors.New("min volatility must not be negative")
	}
	if p.MaxHoldingMinutes <= 0 {
		return errors.New("max holding minutes must be positive")
	}
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 || p.TakeProfitPct <= 0 || p.TakeProfitPct >= 1 {
		return errors.New("stop-loss and take-profit percentages must be in (0, 1)")
	}
	return nil
}

// Indicators returns the indicator windows these params require.
func (p Params) Indicators() indicator.Params {
	return indicator.Params{BandPeriod: p.BandPeriod, BandStdDev: p.BandStdDev, RSIPeriod: p.RSIPeriod}
}

// MaxHolding returns the holding limit as a duration.
func (p Params) MaxHolding() time.Duration {
	return time.Duration(p.MaxHoldingMinutes) * time.Minute
}

// Strategy decides whether the latest row of a history justifies opening a position.
type Strategy interface {
	// Name returns the identifier the strategy is registered under.
	Name() string

	// Params returns the configuration the strategy was built with.
	Params() Params

	// Generate inspects only the most recent row of history. It never fails; a
	// history that is too short simply yields no signal.
	Generate(symbol string, history indicator.Frame) (Signal, bool)
}

const (
	NameScalping = "scalping"
	NameBreakout = "breakout"
)

// ErrUnknownStrategy is returned by New for an unregistered identifier.
var ErrUnknownStrategy = errors.New("unknown strategy")

// New builds the strategy registered under name. An empty name selects scalping.
func New(name string, p Params, log *zap.Logger) (Strategy, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy params: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameScalping, "scalp":
		return NewScalp(p, log), nil
	case NameBreakout:
		return NewBreakout(p, log), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
}

// Names lists the registered identifiers.
func Names() []string {
	return []string{NameScalping, NameBreakout}
}
