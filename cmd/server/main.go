package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"

	"scalp-backtest-go/internal/config"
	"scalp-backtest-go/internal/database"
	"scalp-backtest-go/internal/logger"
	"scalp-backtest-go/internal/marketdata"
	"scalp-backtest-go/internal/runner"
	"scalp-backtest-go/internal/server"
)

func main() {
	os.Exit(run())
}

// run serves until a signal or a listener error and returns the process exit code.
func run() int {
	configPath := flag.String("config", "./configs", "directory containing config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.Outputs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return 1
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()
	store := database.NewStore(db, log)

	client := marketdata.NewClient(&cfg.MarketData, log)
	var provider marketdata.Provider = client
	if cfg.MarketData.Cache {
		provider = marketdata.NewCached(client, store, log)
	}

	bt := runner.New(provider, store, cfg.StrategyParams(), cfg.EngineOptions(), client.Location(), log)
	srv := server.NewServer(&cfg.Server, bt, store, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Web server failed", zap.Error(err))
			return 1
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received, gracefully shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Server has been shut down.")
	return 0
}
