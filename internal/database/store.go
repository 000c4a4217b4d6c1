package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/models"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("backtest run not found")

// Store persists backtest runs and cached market data.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("store")}
}

// SaveRun inserts a run together with its trades.
func (s *Store) SaveRun(ctx context.Context, run *models.BacktestRun) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	s.logger.Debug("Saved backtest run", zap.String("run_id", run.RunID), zap.Int("trades", len(run.Trades)))
	return nil
}

// ListRuns returns the most recent runs first, without their trades.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.BacktestRun, error) {
	var runs []models.BacktestRun
	q := s.db.WithContext(ctx).Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads a run and its trades in entry order.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.BacktestRun, error) {
	var run models.BacktestRun
	err := s.db.WithContext(ctx).
		Preload("Trades", func(db *gorm.DB) *gorm.DB { return db.Order("entry_time asc") }).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &run, nil
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalRuns        int64   `json:"total_runs"`
	TotalTrades      int64   `json:"total_trades"`
	ProfitableTrades int64   `json:"profitable_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalProfit      float64 `json:"total_profit"`
}

// Statistics aggregates persisted trades over the last 24 hours and all time.
type Statistics struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// Statistics aggregates trades by the time their run was recorded.
func (s *Store) Statistics(ctx context.Context, now time.Time) (Statistics, error) {
	// created_at is written in local time; compare in the same zone.
	since24h := now.Add(-24 * time.Hour).Local()
	var stats Statistics

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.BacktestRun{}).Count(&stats.AllTime.TotalRuns).Error; err != nil {
		return Statistics{}, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := db.Model(&models.BacktestRun{}).Where("created_at > ?", since24h).Count(&stats.Since24h.TotalRuns).Error; err != nil {
		return Statistics{}, fmt.Errorf("failed to count runs: %w", err)
	}

	var trades []models.TradeRecord
	if err := db.Select("pnl", "created_at").Find(&trades).Error; err != nil {
		return Statistics{}, fmt.Errorf("failed to get trades for statistics: %w", err)
	}

	for _, trade := range trades {
		add(&stats.AllTime, trade.PnL)
		if trade.CreatedAt.After(since24h) {
			add(&stats.Since24h, trade.PnL)
		}
	}
	finish(&stats.AllTime)
	finish(&stats.Since24h)
	return stats, nil
}

func add(d *StatsDetail, pnl float64) {
	d.TotalTrades++
	if pnl > 0 {
		d.ProfitableTrades++
	}
	d.TotalProfit += pnl
}

func finish(d *StatsDetail) {
	if d.TotalTrades > 0 {
		d.WinRate = float64(d.ProfitableTrades) / float64(d.TotalTrades)
	}
}

// Covered reports whether a stored coverage window contains [start, end].
func (s *Store) Covered(ctx context.Context, symbol, timeframe string, start, end time.Time) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.BarCoverage{}).
		Where("symbol = ? AND timeframe = ? AND start_time <= ? AND end_time >= ?", symbol, timeframe, start.UTC(), end.UTC()).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check bar coverage: %w", err)
	}
	return n > 0, nil
}

// LoadBars returns cached bars in [start, end], ordered by time, in UTC.
func (s *Store) LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	var records []models.BarRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND time >= ? AND time <= ?", symbol, timeframe, start.UTC(), end.UTC()).
		Order("time asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load bars: %w", err)
	}

	bars := make([]market.Bar, len(records))
	for i, r := range records {
		bars[i] = market.Bar{Time: r.Time.UTC(), Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return bars, nil
}

// SaveBars upserts bars and records [start, end] as covered.
func (s *Store) SaveBars(ctx context.Context, symbol, timeframe string, start, end time.Time, bars []market.Bar) error {
	records := make([]models.BarRecord, len(bars))
	for i, b := range bars {
		records[i] = models.BarRecord{
			Symbol:    symbol,
			Timeframe: timeframe,
			Time:      b.Time.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(records) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "time"}},
				DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
			}).CreateInBatches(records, 500).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(&models.BarCoverage{
			Symbol:    symbol,
			Timeframe: timeframe,
			StartTime: start.UTC(),
			EndTime:   end.UTC(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save bars: %w", err)
	}
	return nil
}
