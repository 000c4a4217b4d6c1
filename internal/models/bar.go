package models

import "time"

// BarRecord is a cached OHLCV bar. Times are stored in UTC.
type BarRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"uniqueIndex:idx_bar_key;size:16;not null"`
	Timeframe string    `gorm:"uniqueIndex:idx_bar_key;size:4;not null"`
	Time      time.Time `gorm:"uniqueIndex:idx_bar_key;not null"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// BarCoverage records a window of bars that was fetched in full.
type BarCoverage struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"index:idx_coverage_key;size:16;not null"`
	Timeframe string    `gorm:"index:idx_coverage_key;size:4;not null"`
	StartTime time.Time `gorm:"not null"`
	EndTime   time.Time `gorm:"not null"`
	CreatedAt time.Time
}
