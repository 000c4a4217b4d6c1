package models

import (
	"time"

	"gorm.io/gorm"
)

// TradeRecord is a closed simulated trade belonging to a BacktestRun.
type TradeRecord struct {
	gorm.Model
	RunID      string    `gorm:"index;size:36" json:"run_id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"` // "LONG" or "SHORT"
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Size       int64     `json:"size"`
	PnL        float64   `gorm:"column:pnl" json:"pnl"`
	ExitReason string    `json:"exit_reason"`
}
