package models

import (
	"time"

	"gorm.io/gorm"
)

// BacktestRun is a completed backtest request and its performance report.
type BacktestRun struct {
	gorm.Model
	RunID     string    `gorm:"uniqueIndex;size:36" json:"run_id"`
	Symbol    string    `gorm:"index" json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Period    int       `json:"period"`
	Strategy  string    `json:"strategy"`
	StartTime time.Time `json:"start_date"`
	EndTime   time.Time `json:"end_date"`
	Bars      int       `json:"bars"`

	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `gorm:"column:total_pnl" json:"total_pnl"`
	AvgPnL        float64 `gorm:"column:avg_pnl" json:"avg_pnl"`
	// ProfitFactor is stored finite; ProfitFactorInf marks a run without losers.
	ProfitFactor    float64 `json:"profit_factor"`
	ProfitFactorInf bool    `json:"profit_factor_inf"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	SharpeRatio     float64 `json:"sharpe_ratio"`

	Trades []TradeRecord `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE" json:"trades,omitempty"`
}
