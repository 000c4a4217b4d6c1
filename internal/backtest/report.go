package backtest

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// tradingDaysPerYear annualises daily Sharpe ratios.
const tradingDaysPerYear = 252

// riskFreeAnnual is the annual risk-free rate; it is compounded down to a daily rate.
const riskFreeAnnual = 0.02

// ProfitFactor is gross profit over gross loss. A run with winners and no losers has
// an infinite profit factor, which encodes as the JSON string "inf".
type ProfitFactor float64

func (pf ProfitFactor) IsInf() bool { return math.IsInf(float64(pf), 1) }

func (pf ProfitFactor) MarshalJSON() ([]byte, error) {
	if pf.IsInf() {
		return []byte(`"inf"`), nil
	}
	return []byte(strconv.FormatFloat(float64(pf), 'f', -1, 64)), nil
}

func (pf *ProfitFactor) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(`"inf"`)) {
		*pf = ProfitFactor(math.Inf(1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*pf = ProfitFactor(v)
	return nil
}

// Report is the performance summary of a run.
type Report struct {
	TotalTrades   int          `json:"total_trades"`
	WinningTrades int          `json:"winning_trades"`
	LosingTrades  int          `json:"losing_trades"`
	WinRate       float64      `json:"win_rate"`
	TotalPnL      float64      `json:"total_pnl"`
	AvgPnL        float64      `json:"avg_pnl"`
	ProfitFactor  ProfitFactor `json:"profit_factor"`
	AvgWin        float64      `json:"avg_win"`
	AvgLoss       float64      `json:"avg_loss"`
	MaxDrawdown   float64      `json:"max_drawdown"`
	SharpeRatio   float64      `json:"sharpe_ratio"`
}

// ComputeReport summarises closed trades and the equity curve. No closed trades yields
// the zero report, drawdown and Sharpe included, even when an open position moved the
// curve.
func ComputeReport(trades []Trade, equity []EquityPoint) Report {
	if len(trades) == 0 {
		return Report{}
	}

	var r Report
	var grossWin, grossLoss float64
	for _, t := range trades {
		r.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			r.WinningTrades++
			grossWin += t.PnL
		case t.PnL < 0:
			r.LosingTrades++
			grossLoss += t.PnL
		}
	}

	r.TotalTrades = len(trades)
	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	r.AvgPnL = r.TotalPnL / float64(r.TotalTrades)
	if r.WinningTrades > 0 {
		r.AvgWin = grossWin / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = grossLoss / float64(r.LosingTrades)
	}

	switch {
	case grossLoss < 0:
		r.ProfitFactor = ProfitFactor(grossWin / -grossLoss)
	case grossWin > 0:
		r.ProfitFactor = ProfitFactor(math.Inf(1))
	}

	r.MaxDrawdown = maxDrawdown(equity)
	r.SharpeRatio = sharpeRatio(equity)
	return r
}

// maxDrawdown is (peak - trough) / peak over the whole curve, not peak-to-subsequent-trough.
func maxDrawdown(equity []EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	hi, lo := equity[0].Equity, equity[0].Equity
	for _, p := range equity[1:] {
		hi = math.Max(hi, p.Equity)
		lo = math.Min(lo, p.Equity)
	}
	if hi <= 0 {
		return 0
	}
	return math.Min(math.Max((hi-lo)/hi, 0), 1)
}

// dailyCloses keeps the last equity value of each calendar day, in order.
func dailyCloses(equity []EquityPoint) []float64 {
	var (
		closes  []float64
		lastDay time.Time
	)
	for _, p := range equity {
		y, m, d := p.Time.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, p.Time.Location())
		if len(closes) > 0 && day.Equal(lastDay) {
			closes[len(closes)-1] = p.Equity
			continue
		}
		closes = append(closes, p.Equity)
		lastDay = day
	}
	return closes
}

// sharpeRatio annualises the mean daily excess return over its sample deviation.
// Fewer than two daily returns, or a flat curve, yields zero; a run inside one or two
// sessions therefore always reports zero.
func sharpeRatio(equity []EquityPoint) float64 {
	closes := dailyCloses(equity)
	if len(closes) < 3 {
		return 0
	}

	rf := math.Pow(1+riskFreeAnnual, 1.0/tradingDaysPerYear) - 1
	excess := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		ret := 0.0
		if closes[i-1] != 0 {
			ret = closes[i]/closes[i-1] - 1
		}
		excess = append(excess, ret-rf)
	}

	var mean float64
	for _, v := range excess {
		mean += v
	}
	mean /= float64(len(excess))

	var ss float64
	for _, v := range excess {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(excess)-1))
	if std < 1e-12 {
		return 0
	}
	return math.Sqrt(tradingDaysPerYear) * mean / std
}
