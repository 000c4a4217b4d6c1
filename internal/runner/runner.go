// Package runner turns backtest requests into market-data queries, engine runs and
// persisted results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scalp-backtest-go/internal/backtest"
	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/marketdata"
	"scalp-backtest-go/internal/models"
	"scalp-backtest-go/internal/strategy"
)

var (
	// ErrDataUnavailable wraps failures of the market data source.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// Request selects what to backtest.
type Request struct {
	Symbol    string
	Timeframe string
	// Period is the number of business days to cover.
	Period   int
	Strategy string
}

// Response is the outcome of a backtest request. Error is set, and the report is
// zero, when the source had no data for the window.
type Response struct {
	RunID        string             `json:"run_id,omitempty"`
	Symbol       string             `json:"ticker"`
	Timeframe    string             `json:"timeframe"`
	Period       int                `json:"period"`
	Strategy     string             `json:"strategy"`
	Start        time.Time          `json:"start_date"`
	End          time.Time          `json:"end_date"`
	Bars         int                `json:"bars"`
	Trades       []backtest.Trade   `json:"trades"`
	Performance  backtest.Report    `json:"performance"`
	FinalCapital float64            `json:"final_capital,omitempty"`
	OpenPosition *backtest.Position `json:"open_position,omitempty"`
	Error        string             `json:"error,omitempty"`

	// Equity is kept for exports; the API does not return it.
	Equity []backtest.EquityPoint `json:"-"`
}

// NoData reports whether the response describes an empty data window.
func (r *Response) NoData() bool { return r.Bars == 0 }

// MarketDataResponse carries raw bars for a resolved window.
type MarketDataResponse struct {
	Symbol     string       `json:"ticker"`
	Timeframe  string       `json:"timeframe"`
	Period     int          `json:"period"`
	Start      time.Time    `json:"start_date"`
	End        time.Time    `json:"end_date"`
	Data       []market.Bar `json:"data"`
	PeriodInfo string       `json:"period_info,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// RunStore persists completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.BacktestRun) error
}

// Runner executes backtest requests. It is safe for concurrent use.
type Runner struct {
	provider marketdata.Provider
	store    RunStore
	params   strategy.Params
	opts     backtest.Options
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Runner. store may be nil to disable persistence; loc is the market's
// time zone used to resolve windows.
func New(provider marketdata.Provider, store RunStore, params strategy.Params, opts backtest.Options, loc *time.Location, logger *zap.Logger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		provider: provider,
		store:    store,
		params:   params,
		opts:     opts,
		location: loc,
		logger:   logger.Named("runner"),
		now:      time.Now,
	}
}

type resolved struct {
	symbol    string
	timeframe market.Timeframe
	window    marketdata.Window
}

func (r *Runner) resolve(symbol, timeframe string, period int) (resolved, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return resolved{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if timeframe == "" {
		timeframe = string(market.TF1m)
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return resolved{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if period < 0 {
		return resolved{}, fmt.Errorf("%w: period must not be negative", ErrInvalidRequest)
	}
	return resolved{
		symbol:    symbol,
		timeframe: tf,
		window:    marketdata.ResolveWindow(r.now().In(r.location), tf, period),
	}, nil
}

func (r *Runner) fetch(ctx context.Context, rv resolved) ([]market.Bar, error) {
	bars, err := r.provider.Bars(ctx, marketdata.Query{
		Symbol:    rv.symbol,
		Timeframe: rv.timeframe,
		Start:     rv.window.Start,
		End:       rv.window.End,
	})
	if err == nil {
		return bars, nil
	}
	if errors.Is(err, market.ErrMalformedBar) || errors.Is(err, market.ErrNonMonotonic) || errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
}

func noDataMessage(rv resolved) string {
	return fmt.Sprintf("no data available for %s from %s to %s (timeframe: %s, period: %d business days)",
		rv.symbol, rv.window.Start.Format(time.RFC3339), rv.window.End.Format(time.RFC3339), rv.timeframe, rv.window.Period)
}

// Run resolves the request window, fetches bars and backtests them. An empty window
// is reported through Response.Error rather than as an error.
func (r *Runner) Run(ctx context.Context, req Request) (*Response, error) {
	rv, err := r.resolve(req.Symbol, req.Timeframe, req.Period)
	if err != nil {
		return nil, err
	}
	strat, err := strategy.New(req.Strategy, r.params, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	l := r.logger.With(
		zap.String("symbol", rv.symbol),
		zap.String("timeframe", string(rv.timeframe)),
		zap.Int("period", rv.window.Period),
		zap.String("strategy", strat.Name()))
	l.Info("Backtesting",
		zap.Time("start", rv.window.Start),
		zap.Time("end", rv.window.End))

	resp := &Response{
		Symbol:    rv.symbol,
		Timeframe: string(rv.timeframe),
		Period:    rv.window.Period,
		Strategy:  strat.Name(),
		Start:     rv.window.Start,
		End:       rv.window.End,
		Trades:    []backtest.Trade{},
	}

	bars, err := r.fetch(ctx, rv)
	if err != nil {
		l.Error("Failed to fetch market data", zap.Error(err))
		return nil, err
	}
	if len(bars) == 0 {
		resp.Error = noDataMessage(rv)
		l.Warn("No market data for window")
		return resp, nil
	}

	res, err := backtest.NewEngine(r.logger, r.opts, strat).Run(rv.symbol, bars)
	if err != nil {
		return nil, err
	}

	resp.RunID = uuid.NewString()
	resp.Bars = len(bars)
	resp.Trades = res.Trades
	resp.Performance = res.Report
	resp.FinalCapital = res.FinalCapital
	resp.OpenPosition = res.Open
	resp.Equity = res.Equity

	if r.store != nil {
		if err := r.store.SaveRun(ctx, toRecord(resp, r.opts.InitialCapital)); err != nil {
			l.Warn("Failed to persist backtest run", zap.String("run_id", resp.RunID), zap.Error(err))
		}
	}

	l.Info("Backtest finished",
		zap.String("run_id", resp.RunID),
		zap.Int("bars", resp.Bars),
		zap.Int("trades", resp.Performance.TotalTrades))
	return resp, nil
}

// MarketData returns the bars a backtest of the same request would use.
func (r *Runner) MarketData(ctx context.Context, symbol, timeframe string, period int) (*MarketDataResponse, error) {
	rv, err := r.resolve(symbol, timeframe, period)
	if err != nil {
		return nil, err
	}

	bars, err := r.fetch(ctx, rv)
	if err != nil {
		r.logger.Error("Failed to fetch market data", zap.String("symbol", rv.symbol), zap.Error(err))
		return nil, err
	}

	resp := &MarketDataResponse{
		Symbol:    rv.symbol,
		Timeframe: string(rv.timeframe),
		Period:    rv.window.Period,
		Start:     rv.window.Start,
		End:       rv.window.End,
		Data:      bars,
	}
	if len(bars) == 0 {
		resp.Data = []market.Bar{}
		resp.Error = noDataMessage(rv)
		return resp, nil
	}
	resp.PeriodInfo = fmt.Sprintf("Showing %d business days of %s data", rv.window.Period, rv.timeframe)
	return resp, nil
}

func toRecord(resp *Response, initialCapital float64) *models.BacktestRun {
	p := resp.Performance
	run := &models.BacktestRun{
		RunID:          resp.RunID,
		Symbol:         resp.Symbol,
		Timeframe:      resp.Timeframe,
		Period:         resp.Period,
		Strategy:       resp.Strategy,
		StartTime:      resp.Start,
		EndTime:        resp.End,
		Bars:           resp.Bars,
		InitialCapital: initialCapital,
		FinalCapital:   resp.FinalCapital,
		TotalTrades:    p.TotalTrades,
		WinningTrades:  p.WinningTrades,
		LosingTrades:   p.LosingTrades,
		WinRate:        p.WinRate,
		TotalPnL:       p.TotalPnL,
		AvgPnL:         p.AvgPnL,
		AvgWin:         p.AvgWin,
		AvgLoss:        p.AvgLoss,
		MaxDrawdown:    p.MaxDrawdown,
		SharpeRatio:    p.SharpeRatio,
	}
	if p.ProfitFactor.IsInf() {
		run.ProfitFactorInf = true
	} else {
		run.ProfitFactor = float64(p.ProfitFactor)
	}

	run.Trades = make([]models.TradeRecord, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		run.Trades = append(run.Trades, models.TradeRecord{
			RunID:      resp.RunID,
			Symbol:     t.Symbol,
			Direction:  string(t.Direction),
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			Size:       t.Size,
			PnL:        t.PnL,
			ExitReason: string(t.ExitReason),
		})
	}
	return run
}
