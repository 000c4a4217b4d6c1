package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scalp-backtest-go/internal/config"
	"scalp-backtest-go/internal/report"
)

func TestRunFile(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString("date,open,high,low,close,volume\n")
	for _, ts := range []string{"09:30", "09:31", "09:32"} {
		sb.WriteString("2024-03-05 " + ts + ",100,100.5,99.5,100,1000\n")
	}
	input := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(input, []byte(sb.String()), 0o600))

	t.Run("Bars", func(t *testing.T) {
		// Act
		resp, err := runFile(zap.NewNop(), &cfg, input, "SPY", "1m", "scalping")

		// Assert
		require.NoError(t, err)
		assert.False(t, resp.NoData())
		assert.Equal(t, 3, resp.Bars)
		assert.Len(t, resp.Equity, 3)
		assert.Equal(t, cfg.Backtest.InitialCapital, resp.FinalCapital)
	})

	t.Run("EmptyFile", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.csv")
		require.NoError(t, os.WriteFile(empty, []byte("date,open,high,low,close,volume\n"), 0o600))

		resp, err := runFile(zap.NewNop(), &cfg, empty, "SPY", "1m", "scalping")

		require.NoError(t, err)
		assert.True(t, resp.NoData())
	})

	t.Run("UnknownStrategy", func(t *testing.T) {
		_, err := runFile(zap.NewNop(), &cfg, input, "SPY", "1m", "martingale")

		assert.Error(t, err)
	})

	t.Run("WriteEquity", func(t *testing.T) {
		resp, err := runFile(zap.NewNop(), &cfg, input, "SPY", "1m", "scalping")
		require.NoError(t, err)
		out := filepath.Join(dir, "equity.csv")

		err = writeFile(out, func(f *os.File) error { return report.WriteEquity(f, resp.Equity) })

		require.NoError(t, err)
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)
	})
}
