package runner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scalp-backtest-go/internal/backtest"
	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/marketdata"
	"scalp-backtest-go/internal/models"
	"scalp-backtest-go/internal/strategy"
)

// MockProvider is a mock implementation of marketdata.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Bars(ctx context.Context, q marketdata.Query) ([]market.Bar, error) {
	args := m.Called(ctx, q)
	bars, _ := args.Get(0).([]market.Bar)
	return bars, args.Error(1)
}

// MockStore is a mock implementation of RunStore.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveRun(ctx context.Context, run *models.BacktestRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// Wednesday after the close: a one day intraday window covers Tuesday's session.
var (
	now         = time.Date(2024, 3, 6, 17, 0, 0, 0, time.UTC)
	windowStart = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)
	query       = marketdata.Query{Symbol: "SPY", Timeframe: market.TF1m, Start: windowStart, End: windowEnd}
)

func newRunner(p marketdata.Provider, s RunStore) *Runner {
	r := New(p, s, strategy.DefaultParams(), backtest.DefaultOptions(), time.UTC, zap.NewNop())
	r.now = func() time.Time { return now }
	return r
}

// breakoutBars yields one long breakout at the second bar that hits its target on the third.
func breakoutBars() []market.Bar {
	t0 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	return []market.Bar{
		{Time: t0, Open: 100, High: 100.1, Low: 99.9, Close: 100, Volume: 100},
		{Time: t0.Add(time.Minute), Open: 100, High: 100.3, Low: 99.96, Close: 100.2, Volume: 200},
		{Time: t0.Add(2 * time.Minute), Open: 100.2, High: 100.25, Low: 100.15, Close: 100.2, Volume: 150},
	}
}

func TestRunner_Run(t *testing.T) {
	// Arrange
	provider := new(MockProvider)
	provider.On("Bars", mock.Anything, query).Return(breakoutBars(), nil)
	store := new(MockStore)
	store.On("SaveRun", mock.Anything, mock.MatchedBy(func(run *models.BacktestRun) bool {
		return run.RunID != "" && run.Symbol == "SPY" && run.Strategy == strategy.NameBreakout && len(run.Trades) == 1
	})).Return(nil)
	r := newRunner(provider, store)

	// Act
	resp, err := r.Run(context.Background(), Request{Symbol: " spy ", Timeframe: "1m", Period: 1, Strategy: "breakout"})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "SPY", resp.Symbol)
	assert.Equal(t, windowStart, resp.Start)
	assert.Equal(t, windowEnd, resp.End)
	assert.Equal(t, 3, resp.Bars)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, backtest.ExitTakeProfit, resp.Trades[0].ExitReason)
	assert.Equal(t, 1, resp.Performance.TotalTrades)
	assert.False(t, resp.NoData())
	provider.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRunner_NoData(t *testing.T) {
	// Arrange
	provider := new(MockProvider)
	provider.On("Bars", mock.Anything, query).Return([]market.Bar{}, nil)
	store := new(MockStore)
	r := newRunner(provider, store)

	// Act
	resp, err := r.Run(context.Background(), Request{Symbol: "SPY", Timeframe: "1m", Period: 1})

	// Assert
	require.NoError(t, err)
	assert.True(t, resp.NoData())
	assert.Equal(t, "no data available for SPY from 2024-03-04T09:30:00Z to 2024-03-05T16:00:00Z (timeframe: 1m, period: 1 business days)", resp.Error)
	assert.Equal(t, backtest.Report{}, resp.Performance)
	assert.Empty(t, resp.Trades)
	assert.Empty(t, resp.RunID)
	assert.Equal(t, strategy.NameScalping, resp.Strategy)
	store.AssertNotCalled(t, "SaveRun", mock.Anything, mock.Anything)
}

func TestRunner_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		req      Request
		provider func(*MockProvider)
		wantErr  error
	}{
		{name: "Missing symbol", req: Request{Timeframe: "1m"}, wantErr: ErrInvalidRequest},
		{name: "Unknown timeframe", req: Request{Symbol: "SPY", Timeframe: "7m"}, wantErr: ErrInvalidRequest},
		{name: "Negative period", req: Request{Symbol: "SPY", Period: -1}, wantErr: ErrInvalidRequest},
		{name: "Unknown strategy", req: Request{Symbol: "SPY", Strategy: "martingale"}, wantErr: strategy.ErrUnknownStrategy},
		{
			name: "Provider failure",
			req:  Request{Symbol: "SPY", Timeframe: "1m", Period: 1},
			provider: func(m *MockProvider) {
				m.On("Bars", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
			},
			wantErr: ErrDataUnavailable,
		},
		{
			name: "Malformed bars",
			req:  Request{Symbol: "SPY", Timeframe: "1m", Period: 1},
			provider: func(m *MockProvider) {
				bars := breakoutBars()
				bars[1].High = 90
				m.On("Bars", mock.Anything, mock.Anything).Return(bars, nil)
			},
			wantErr: market.ErrMalformedBar,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider := new(MockProvider)
			if tc.provider != nil {
				tc.provider(provider)
			}
			r := newRunner(provider, nil)

			resp, err := r.Run(context.Background(), tc.req)

			assert.Nil(t, resp)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestRunner_ProviderErrorIsNotMalformed(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Bars", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := newRunner(provider, nil).Run(context.Background(), Request{Symbol: "SPY"})

	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.False(t, errors.Is(err, market.ErrMalformedBar))
	assert.Contains(t, err.Error(), "timeout")
}

func TestRunner_StoreFailureIsNotFatal(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Bars", mock.Anything, mock.Anything).Return(breakoutBars(), nil)
	store := new(MockStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

	resp, err := newRunner(provider, store).Run(context.Background(), Request{Symbol: "SPY", Strategy: "breakout"})

	require.NoError(t, err)
	assert.Len(t, resp.Trades, 1)
}

func TestRunner_MarketData(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Bars", mock.Anything, query).Return(breakoutBars(), nil)

		resp, err := newRunner(provider, nil).MarketData(context.Background(), "SPY", "1m", 1)

		require.NoError(t, err)
		assert.Len(t, resp.Data, 3)
		assert.Equal(t, "Showing 1 business days of 1m data", resp.PeriodInfo)
		assert.Empty(t, resp.Error)
	})

	t.Run("Empty", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Bars", mock.Anything, query).Return(nil, nil)

		resp, err := newRunner(provider, nil).MarketData(context.Background(), "SPY", "", 0)

		require.NoError(t, err)
		assert.NotNil(t, resp.Data)
		assert.Empty(t, resp.Data)
		assert.Contains(t, resp.Error, "no data available for SPY")
	})
}

func TestToRecord(t *testing.T) {
	resp := &Response{
		RunID:       "abc",
		Symbol:      "SPY",
		Performance: backtest.Report{TotalTrades: 1, ProfitFactor: backtest.ProfitFactor(math.Inf(1))},
		Trades:      []backtest.Trade{{Symbol: "SPY", Direction: strategy.Long, PnL: 5, ExitReason: backtest.ExitStopLoss}},
	}

	run := toRecord(resp, 1000)

	assert.True(t, run.ProfitFactorInf)
	assert.Equal(t, 0.0, run.ProfitFactor)
	assert.Equal(t, 1000.0, run.InitialCapital)
	require.Len(t, run.Trades, 1)
	assert.Equal(t, "abc", run.Trades[0].RunID)
	assert.Equal(t, "LONG", run.Trades[0].Direction)
	assert.Equal(t, "stop_loss", run.Trades[0].ExitReason)
}
