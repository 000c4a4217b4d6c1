// Package report writes backtest results for people: CSV files and console summaries.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"scalp-backtest-go/internal/backtest"
	"scalp-backtest-go/internal/market"
)

const (
	pricePlaces = 4
	moneyPlaces = 2
)

var tradeHeader = []string{
	"symbol", "direction", "entry_time", "exit_time", "entry_price", "exit_price",
	"stop_loss", "take_profit", "size", "pnl", "exit_reason",
}

// ErrBadCSV is returned for bar files that cannot be parsed.
var ErrBadCSV = errors.New("bad csv")

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// WriteTrades writes one row per trade. Prices keep four decimals and pnl two.
func WriteTrades(w io.Writer, trades []backtest.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.Symbol,
			string(t.Direction),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			fixed(t.EntryPrice, pricePlaces),
			fixed(t.ExitPrice, pricePlaces),
			fixed(t.StopLoss, pricePlaces),
			fixed(t.TakeProfit, pricePlaces),
			strconv.FormatInt(t.Size, 10),
			fixed(t.PnL, moneyPlaces),
			string(t.ExitReason),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquity writes the equity curve as timestamp,equity rows.
func WriteEquity(w io.Writer, curve []backtest.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity"}); err != nil {
		return err
	}
	for _, p := range curve {
		if err := cw.Write([]string{p.Time.Format(time.RFC3339), fixed(p.Equity, moneyPlaces)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// ReadBars parses an OHLCV file with a date,open,high,low,close,volume header. Column
// order is taken from the header; a UTF-8 or UTF-16 byte order mark is honoured. Times
// without a zone are read in loc. The series is validated before it is returned.
func ReadBars(r io.Reader, loc *time.Location) ([]market.Bar, error) {
	if loc == nil {
		loc = time.UTC
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrBadCSV, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "time", "timestamp", "datetime":
			name = "date"
		}
		cols[name] = i
	}
	for _, c := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadCSV, c)
		}
	}

	var bars []market.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadCSV, err)
		}
		b, err := parseBar(rec, cols, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrBadCSV, line, err)
		}
		bars = append(bars, b)
	}

	if err := market.ValidateSeries(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func parseBar(rec []string, cols map[string]int, loc *time.Location) (market.Bar, error) {
	var b market.Bar
	t, err := parseTime(strings.TrimSpace(rec[cols["date"]]), loc)
	if err != nil {
		return b, err
	}
	b.Time = t

	prices := map[string]*float64{"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close}
	for name, dst := range prices {
		d, err := decimal.NewFromString(strings.TrimSpace(rec[cols[name]]))
		if err != nil {
			return b, fmt.Errorf("%s: %w", name, err)
		}
		*dst = d.InexactFloat64()
	}

	vol, err := decimal.NewFromString(strings.TrimSpace(rec[cols["volume"]]))
	if err != nil {
		return b, fmt.Errorf("volume: %w", err)
	}
	b.Volume = vol.IntPart()
	return b, nil
}
