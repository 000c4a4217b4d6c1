package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"scalp-backtest-go/internal/backtest"
	"scalp-backtest-go/internal/config"
	"scalp-backtest-go/internal/database"
	"scalp-backtest-go/internal/logger"
	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/marketdata"
	"scalp-backtest-go/internal/report"
	"scalp-backtest-go/internal/runner"
	"scalp-backtest-go/internal/strategy"
)

func main() {
	os.Exit(run())
}

// run executes one backtest and returns the process exit code. Deferred cleanup runs
// before the caller exits.
func run() int {
	configPath := flag.String("config", "./configs", "directory containing config.yml")
	symbol := flag.String("symbol", "", "ticker to backtest (default from config)")
	timeframe := flag.String("timeframe", "", "bar timeframe: 1m, 5m, 15m, 1h, 1d (default from config)")
	period := flag.Int("period", -1, "business days to cover (default from config)")
	strategyName := flag.String("strategy", "", "strategy name (default from config)")
	input := flag.String("input", "", "backtest bars from this CSV file instead of the market data API")
	tradesOut := flag.String("trades", "", "write trades to this CSV file")
	equityOut := flag.String("equity", "", "write the equity curve to this CSV file")
	flag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		return 1
	}
	if *symbol == "" {
		*symbol = cfg.Backtest.Symbol
	}
	if *timeframe == "" {
		*timeframe = cfg.Backtest.Timeframe
	}
	if *period < 0 {
		*period = cfg.Backtest.Period
	}
	if *strategyName == "" {
		*strategyName = cfg.Strategy.Name
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.Outputs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var resp *runner.Response
	if *input != "" {
		resp, err = runFile(log, &cfg, *input, *symbol, *timeframe, *strategyName)
	} else {
		resp, err = runLive(ctx, log, &cfg, runner.Request{
			Symbol:    *symbol,
			Timeframe: *timeframe,
			Period:    *period,
			Strategy:  *strategyName,
		})
	}
	if err != nil {
		log.Error("Backtest failed", zap.Error(err))
		return 1
	}
	if resp.NoData() {
		fmt.Fprintln(os.Stderr, resp.Error)
		return 2
	}

	err = report.PrintSummary(os.Stdout, report.Summary{
		Symbol:         resp.Symbol,
		Timeframe:      resp.Timeframe,
		Strategy:       resp.Strategy,
		Start:          resp.Start,
		End:            resp.End,
		Bars:           resp.Bars,
		InitialCapital: cfg.Backtest.InitialCapital,
		FinalCapital:   resp.FinalCapital,
		Report:         resp.Performance,
		Open:           resp.OpenPosition,
	})
	if err != nil {
		log.Error("Failed to print summary", zap.Error(err))
	}

	if *tradesOut != "" {
		if err := writeFile(*tradesOut, func(f *os.File) error { return report.WriteTrades(f, resp.Trades) }); err != nil {
			log.Error("Failed to write trades", zap.String("path", *tradesOut), zap.Error(err))
			return 1
		}
		log.Info("Trades written", zap.String("path", *tradesOut), zap.Int("trades", len(resp.Trades)))
	}
	if *equityOut != "" {
		if err := writeFile(*equityOut, func(f *os.File) error { return report.WriteEquity(f, resp.Equity) }); err != nil {
			log.Error("Failed to write equity curve", zap.String("path", *equityOut), zap.Error(err))
			return 1
		}
		log.Info("Equity curve written", zap.String("path", *equityOut))
	}
	return 0
}

// runLive fetches the request window from the market data API, optionally through the
// sqlite bar cache, and persists the run.
func runLive(ctx context.Context, log *zap.Logger, cfg *config.Config, req runner.Request) (*runner.Response, error) {
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()
	log.Info("Database connection successful and schema migrated.")
	store := database.NewStore(db, log)

	client := marketdata.NewClient(&cfg.MarketData, log)
	var provider marketdata.Provider = client
	if cfg.MarketData.Cache {
		provider = marketdata.NewCached(client, store, log)
	}

	r := runner.New(provider, store, cfg.StrategyParams(), cfg.EngineOptions(), client.Location(), log)
	return r.Run(ctx, req)
}

// runFile backtests bars read from a CSV file. Nothing is persisted.
func runFile(log *zap.Logger, cfg *config.Config, path, symbol, timeframe, strategyName string) (*runner.Response, error) {
	loc, err := time.LoadLocation(cfg.MarketData.Timezone)
	if err != nil {
		loc = time.UTC
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := report.ReadBars(f, loc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	resp := &runner.Response{Symbol: symbol, Timeframe: timeframe, Trades: []backtest.Trade{}}
	if len(bars) == 0 {
		resp.Error = fmt.Sprintf("no data in %s", path)
		return resp, nil
	}

	strat, err := strategy.New(strategyName, cfg.StrategyParams(), log)
	if err != nil {
		return nil, err
	}
	res, err := backtest.NewEngine(log, cfg.EngineOptions(), strat).Run(symbol, bars)
	if err != nil {
		var be *market.BarError
		if errors.As(err, &be) {
			log.Error("Rejected bar", zap.Int("index", be.Index), zap.String("reason", be.Reason))
		}
		return nil, err
	}

	resp.Strategy = strat.Name()
	resp.Start = bars[0].Time
	resp.End = bars[len(bars)-1].Time
	resp.Bars = len(bars)
	resp.Trades = res.Trades
	resp.Performance = res.Report
	resp.FinalCapital = res.FinalCapital
	resp.OpenPosition = res.Open
	resp.Equity = res.Equity
	return resp, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
