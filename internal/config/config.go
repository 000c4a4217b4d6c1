package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"scalp-backtest-go/internal/backtest"
	"scalp-backtest-go/internal/strategy"
)

// Config holds all configuration for the application.
type Config struct {
	Strategy   Strategy   `mapstructure:"strategy"`
	Backtest   Backtest   `mapstructure:"backtest"`
	MarketData MarketData `mapstructure:"market_data"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
}

// Strategy holds the signal generation parameters.
type Strategy struct {
	Name              string  `mapstructure:"name"`
	BandPeriod        int     `mapstructure:"band_period"`
	BandStdDev        float64 `mapstructure:"band_std_dev"`
	RSIPeriod         int     `mapstructure:"rsi_period"`
	Oversold          float64 `mapstructure:"oversold"`
	Overbought        float64 `mapstructure:"overbought"`
	MinVolatility     float64 `mapstructure:"min_volatility"`
	MaxHoldingMinutes int     `mapstructure:"max_holding_minutes"`
	StopLossPct       float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct     float64 `mapstructure:"take_profit_pct"`
}

// Backtest holds the simulated account settings.
type Backtest struct {
	InitialCapital   float64 `mapstructure:"initial_capital"`
	Commission       float64 `mapstructure:"commission"`
	Slippage         float64 `mapstructure:"slippage"`
	PositionFraction float64 `mapstructure:"position_fraction"`
	// Symbol, Timeframe and Period are the CLI defaults.
	Symbol    string `mapstructure:"symbol"`
	Timeframe string `mapstructure:"timeframe"`
	Period    int    `mapstructure:"period"`
}

// MarketData holds the configuration for the chart data API.
type MarketData struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timezone       string        `mapstructure:"timezone"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Cache          bool          `mapstructure:"cache"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level   string   `mapstructure:"level"`
	Format  string   `mapstructure:"format"`
	Outputs []string `mapstructure:"outputs"`
}

// LoadConfig reads configuration from file or environment variables. A missing
// config file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	p := strategy.DefaultParams()
	v.SetDefault("strategy.name", strategy.NameScalping)
	v.SetDefault("strategy.band_period", p.BandPeriod)
	v.SetDefault("strategy.band_std_dev", p.BandStdDev)
	v.SetDefault("strategy.rsi_period", p.RSIPeriod)
	v.SetDefault("strategy.oversold", p.Oversold)
	v.SetDefault("strategy.overbought", p.Overbought)
	v.SetDefault("strategy.min_volatility", p.MinVolatility)
	v.SetDefault("strategy.max_holding_minutes", p.MaxHoldingMinutes)
	v.SetDefault("strategy.stop_loss_pct", p.StopLossPct)
	v.SetDefault("strategy.take_profit_pct", p.TakeProfitPct)

	o := backtest.DefaultOptions()
	v.SetDefault("backtest.initial_capital", o.InitialCapital)
	v.SetDefault("backtest.commission", o.Commission)
	v.SetDefault("backtest.slippage", o.Slippage)
	v.SetDefault("backtest.position_fraction", o.PositionFraction)
	v.SetDefault("backtest.symbol", "SPY")
	v.SetDefault("backtest.timeframe", "1m")
	v.SetDefault("backtest.period", 1)

	v.SetDefault("market_data.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market_data.user_agent", "Mozilla/5.0 (compatible; scalp-backtest/1.0)")
	v.SetDefault("market_data.timezone", "America/New_York")
	v.SetDefault("market_data.timeout", 30*time.Second)
	v.SetDefault("market_data.rate_limit", 2) // requests per second
	v.SetDefault("market_data.rate_limit_burst", 2)
	v.SetDefault("market_data.cache", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "backtest.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.outputs", []string{"stderr"})
}

// StrategyParams returns the immutable strategy parameters.
func (c *Config) StrategyParams() strategy.Params {
	s := c.Strategy
	return strategy.Params{
		BandPeriod:        s.BandPeriod,
		BandStdDev:        s.BandStdDev,
		RSIPeriod:         s.RSIPeriod,
		Oversold:          s.Oversold,
		Overbought:        s.Overbought,
		MinVolatility:     s.MinVolatility,
		MaxHoldingMinutes: s.MaxHoldingMinutes,
		StopLossPct:       s.StopLossPct,
		TakeProfitPct:     s.TakeProfitPct,
	}
}

// EngineOptions returns the backtest engine options.
func (c *Config) EngineOptions() backtest.Options {
	b := c.Backtest
	return backtest.Options{
		InitialCapital:   b.InitialCapital,
		Commission:       b.Commission,
		Slippage:         b.Slippage,
		PositionFraction: b.PositionFraction,
	}
}
