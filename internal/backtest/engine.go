package backtest

import (
	"fmt"

	"go.uber.org/zap"

	"scalp-backtest-go/internal/indicator"
	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/strategy"
)

// Engine replays bars through a strategy. It keeps no state between runs, so one
// Engine may serve several Run calls, including concurrent ones.
type Engine struct {
	logger   *zap.Logger
	opts     Options
	strategy strategy.Strategy
}

// NewEngine creates a backtest engine.
func NewEngine(logger *zap.Logger, opts Options, strat strategy.Strategy) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxHolding == 0 {
		opts.MaxHolding = strat.Params().MaxHolding()
	}
	return &Engine{
		logger:   logger.Named("engine"),
		opts:     opts,
		strategy: strat,
	}
}

// session is the mutable state of one run.
type session struct {
	symbol  string
	capital float64
	pos     Position
	trades  []Trade
	equity  []EquityPoint
}

// Run simulates the strategy over bars. The strategy only ever sees the rows up to
// the bar being processed. A malformed or out-of-order bar aborts the run.
func (e *Engine) Run(symbol string, bars []market.Bar) (Result, error) {
	if err := e.opts.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid backtest options: %w", err)
	}

	l := e.logger.With(zap.String("symbol", symbol), zap.String("strategy", e.strategy.Name()))
	l.Info("Starting backtest", zap.Int("bars", len(bars)), zap.Float64("initial_capital", e.opts.InitialCapital))

	calc := indicator.NewCalculator(e.strategy.Params().Indicators())
	s := &session{
		symbol:  symbol,
		capital: e.opts.InitialCapital,
		trades:  []Trade{},
		equity:  make([]EquityPoint, 0, len(bars)),
	}

	for i, bar := range bars {
		var prev *market.Bar
		if i > 0 {
			prev = &bars[i-1]
		}
		if err := market.ValidateNext(i, prev, bar); err != nil {
			l.Error("Backtest aborted on invalid bar", zap.Error(err))
			return Result{}, fmt.Errorf("backtest aborted: %w", err)
		}
		calc.Push(bar)

		if s.pos.State == StateOpen {
			e.exit(l, s, bar)
		}
		if s.pos.State != StateOpen {
			if sig, ok := e.strategy.Generate(symbol, calc.Frame()); ok {
				e.enter(l, s, sig)
			}
		}

		s.equity = append(s.equity, EquityPoint{Time: bar.Time, Equity: s.capital})
	}

	res := Result{
		Symbol:       symbol,
		Strategy:     e.strategy.Name(),
		Trades:       s.trades,
		Equity:       s.equity,
		Report:       ComputeReport(s.trades, s.equity),
		FinalCapital: s.capital,
	}
	if s.pos.State == StateOpen {
		open := s.pos
		res.Open = &open
	}

	l.Info("Backtest complete",
		zap.Int("trades", res.Report.TotalTrades),
		zap.Float64("total_pnl", res.Report.TotalPnL),
		zap.Float64("final_capital", res.FinalCapital),
		zap.Bool("position_open", res.Open != nil))
	return res, nil
}

func (e *Engine) exit(l *zap.Logger, s *session, bar market.Bar) {
	reason, price, ok := checkExit(s.pos, bar, e.opts.MaxHolding)
	if !ok {
		return
	}
	closed, released := closePosition(s.pos, bar.Time, price, reason, e.opts)
	s.capital += released
	s.trades = append(s.trades, closed.trade(s.symbol))
	s.pos = Position{}

	l.Debug("Closed position",
		zap.String("reason", string(reason)),
		zap.Time("exit_time", closed.ExitTime),
		zap.Float64("exit_price", closed.ExitPrice),
		zap.Float64("pnl", closed.PnL),
		zap.Float64("capital", s.capital))
}

func (e *Engine) enter(l *zap.Logger, s *session, sig strategy.Signal) {
	pos, ok := openPosition(sig, s.capital, e.opts)
	if !ok {
		l.Debug("Insufficient capital for signal, skipping",
			zap.Float64("capital", s.capital), zap.Float64("price", sig.Price))
		return
	}
	s.capital -= pos.EntryPrice * float64(pos.Size)
	s.pos = pos

	l.Debug("Opened position",
		zap.String("direction", string(pos.Direction)),
		zap.Time("entry_time", pos.EntryTime),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Int64("size", pos.Size))
}
