package report

import (
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"scalp-backtest-go/internal/backtest"
)

// Summary is what the console summary prints.
type Summary struct {
	Symbol         string
	Timeframe      string
	Strategy       string
	Start, End     time.Time
	Bars           int
	InitialCapital float64
	FinalCapital   float64
	Report         backtest.Report
	Open           *backtest.Position
}

// PrintSummary writes a human readable summary with grouped thousands.
func PrintSummary(w io.Writer, s Summary) error {
	p := message.NewPrinter(language.English)
	r := s.Report

	pf := "inf"
	if !r.ProfitFactor.IsInf() {
		pf = p.Sprintf("%.2f", float64(r.ProfitFactor))
	}

	lines := []struct {
		format string
		args   []any
	}{
		{"Backtest %s %s (%s)\n", []any{s.Symbol, s.Timeframe, s.Strategy}},
		{"Window:          %s to %s\n", []any{s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339)}},
		{"Bars:            %d\n", []any{s.Bars}},
		{"Initial capital: %.2f\n", []any{s.InitialCapital}},
		{"Final capital:   %.2f\n", []any{s.FinalCapital}},
		{"Trades:          %d (%d won, %d lost)\n", []any{r.TotalTrades, r.WinningTrades, r.LosingTrades}},
		{"Win rate:        %.2f%%\n", []any{r.WinRate * 100}},
		{"Total P&L:       %.2f\n", []any{r.TotalPnL}},
		{"Average P&L:     %.2f\n", []any{r.AvgPnL}},
		{"Average win:     %.2f\n", []any{r.AvgWin}},
		{"Average loss:    %.2f\n", []any{r.AvgLoss}},
		{"Profit factor:   %s\n", []any{pf}},
		{"Max drawdown:    %.2f%%\n", []any{r.MaxDrawdown * 100}},
		{"Sharpe ratio:    %.3f\n", []any{r.SharpeRatio}},
	}
	for _, l := range lines {
		if _, err := p.Fprintf(w, l.format, l.args...); err != nil {
			return err
		}
	}

	if s.Open != nil {
		_, err := p.Fprintf(w, "Open position:   %s %d @ %.4f since %s\n",
			s.Open.Direction, s.Open.Size, s.Open.EntryPrice, s.Open.EntryTime.Format(time.RFC3339))
		return err
	}
	return nil
}
