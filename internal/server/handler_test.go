package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scalp-backtest-go/internal/backtest"
	"scalp-backtest-go/internal/config"
	"scalp-backtest-go/internal/database"
	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/models"
	"scalp-backtest-go/internal/runner"
)

// MockBacktester is a mock implementation of Backtester.
type MockBacktester struct {
	mock.Mock
}

func (m *MockBacktester) Run(ctx context.Context, req runner.Request) (*runner.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*runner.Response)
	return resp, args.Error(1)
}

func (m *MockBacktester) MarketData(ctx context.Context, symbol, timeframe string, period int) (*runner.MarketDataResponse, error) {
	args := m.Called(ctx, symbol, timeframe, period)
	resp, _ := args.Get(0).(*runner.MarketDataResponse)
	return resp, args.Error(1)
}

// MockRepository is a mock implementation of RunRepository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListRuns(ctx context.Context, limit int) ([]models.BacktestRun, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]models.BacktestRun)
	return runs, args.Error(1)
}

func (m *MockRepository) GetRun(ctx context.Context, runID string) (*models.BacktestRun, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*models.BacktestRun)
	return run, args.Error(1)
}

func (m *MockRepository) Statistics(ctx context.Context, now time.Time) (database.Statistics, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(database.Statistics), args.Error(1)
}

func newTestServer(bt Backtester, repo RunRepository) *Server {
	cfg := &config.Server{Port: 0, Mode: gin.TestMode, AllowOrigins: []string{"*"}}
	return NewServer(cfg, bt, repo, zap.NewNop())
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func sampleResponse() *runner.Response {
	entry := time.Date(2024, 3, 5, 10, 1, 0, 0, time.UTC)
	return &runner.Response{
		RunID:     "run-1",
		Symbol:    "SPY",
		Timeframe: "1m",
		Period:    1,
		Strategy:  "scalping",
		Bars:      390,
		Trades: []backtest.Trade{{
			Symbol: "SPY", Direction: "LONG", EntryTime: entry, ExitTime: entry.Add(5 * time.Minute),
			EntryPrice: 100, ExitPrice: 101, Size: 100, PnL: 100, ExitReason: backtest.ExitTakeProfit,
		}},
		Performance: backtest.ComputeReport([]backtest.Trade{{PnL: 100}}, nil),
	}
}

func TestRunBacktest(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		bt := new(MockBacktester)
		bt.On("Run", mock.Anything, runner.Request{Symbol: "QQQ", Timeframe: "5m", Period: 3, Strategy: "scalping"}).
			Return(sampleResponse(), nil)
		s := newTestServer(bt, new(MockRepository))

		// Act
		w := do(s, http.MethodPost, "/api/backtest", `{"ticker":"QQQ","timeframe":"5m","period":3,"strategy":"scalping"}`)

		// Assert
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "run-1", body["run_id"])
		perf := body["performance"].(map[string]any)
		assert.Equal(t, "inf", perf["profit_factor"])
		trades := body["trades"].([]any)
		require.Len(t, trades, 1)
		assert.Equal(t, "2024-03-05T10:01:00Z", trades[0].(map[string]any)["entry_time"])
		bt.AssertExpectations(t)
	})

	t.Run("Defaults", func(t *testing.T) {
		bt := new(MockBacktester)
		bt.On("Run", mock.Anything, runner.Request{Symbol: "SPY", Timeframe: "1m", Period: 1}).Return(sampleResponse(), nil)
		s := newTestServer(bt, new(MockRepository))

		w := do(s, http.MethodPost, "/api/backtest", `{}`)

		assert.Equal(t, http.StatusOK, w.Code)
		bt.AssertExpectations(t)
	})

	t.Run("SymbolAlias", func(t *testing.T) {
		bt := new(MockBacktester)
		bt.On("Run", mock.Anything, mock.MatchedBy(func(r runner.Request) bool { return r.Symbol == "AAPL" })).Return(sampleResponse(), nil)
		s := newTestServer(bt, new(MockRepository))

		w := do(s, http.MethodPost, "/api/backtest", `{"symbol":"AAPL"}`)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("NoData", func(t *testing.T) {
		// Arrange
		bt := new(MockBacktester)
		bt.On("Run", mock.Anything, mock.Anything).Return(&runner.Response{
			Symbol: "SPY", Timeframe: "1m", Period: 1, Trades: []backtest.Trade{},
			Error: "no data available for SPY",
		}, nil)
		s := newTestServer(bt, new(MockRepository))

		// Act
		w := do(s, http.MethodPost, "/api/backtest", `{"ticker":"SPY"}`)

		// Assert
		require.Equal(t, http.StatusNotFound, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "no data available for SPY", body["error"])
		assert.Equal(t, "1m", body["timeframe"])
		assert.Contains(t, body, "start_date")
		assert.Contains(t, body, "end_date")
		assert.Equal(t, float64(0), body["performance"].(map[string]any)["total_trades"])
	})

	t.Run("InvalidBody", func(t *testing.T) {
		s := newTestServer(new(MockBacktester), new(MockRepository))

		w := do(s, http.MethodPost, "/api/backtest", `{"period":"many"`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	errorCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "InvalidRequest", err: fmt.Errorf("%w: symbol is required", runner.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "MalformedData", err: fmt.Errorf("backtest aborted: %w", &market.BarError{Index: 3, Reason: "high below low", Err: market.ErrMalformedBar}), want: http.StatusUnprocessableEntity},
		{name: "ProviderDown", err: fmt.Errorf("%w: %w", runner.ErrDataUnavailable, errors.New("timeout")), want: http.StatusBadGateway},
		{name: "Unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			bt := new(MockBacktester)
			bt.On("Run", mock.Anything, mock.Anything).Return(nil, tc.err)
			s := newTestServer(bt, new(MockRepository))

			w := do(s, http.MethodPost, "/api/backtest", `{"ticker":"SPY"}`)

			assert.Equal(t, tc.want, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestGetMarketData(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		bt := new(MockBacktester)
		bar := market.Bar{Time: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
		bt.On("MarketData", mock.Anything, "MSFT", "5m", 2).Return(&runner.MarketDataResponse{
			Symbol: "MSFT", Timeframe: "5m", Period: 2, Data: []market.Bar{bar},
		}, nil)
		s := newTestServer(bt, new(MockRepository))

		w := do(s, http.MethodGet, "/api/market-data?ticker=MSFT&timeframe=5m&period=2", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"date":"2024-03-05T10:00:00Z"`)
	})

	t.Run("Defaults", func(t *testing.T) {
		bt := new(MockBacktester)
		bt.On("MarketData", mock.Anything, "SPY", "1m", 1).Return(&runner.MarketDataResponse{Data: []market.Bar{}, Error: "no data available"}, nil)
		s := newTestServer(bt, new(MockRepository))

		w := do(s, http.MethodGet, "/api/market-data", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		bt.AssertExpectations(t)
	})

	t.Run("BadPeriod", func(t *testing.T) {
		s := newTestServer(new(MockBacktester), new(MockRepository))

		w := do(s, http.MethodGet, "/api/market-data?period=week", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRuns(t *testing.T) {
	t.Run("List", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListRuns", mock.Anything, 10).Return([]models.BacktestRun{{RunID: "a"}, {RunID: "b"}}, nil)
		s := newTestServer(new(MockBacktester), repo)

		w := do(s, http.MethodGet, "/api/runs?limit=10", "")

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Count int                  `json:"count"`
			Data  []models.BacktestRun `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, "b", body.Data[1].RunID)
	})

	t.Run("ListDefaultLimit", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListRuns", mock.Anything, defaultRunsLimit).Return([]models.BacktestRun{}, nil)
		s := newTestServer(new(MockBacktester), repo)

		w := do(s, http.MethodGet, "/api/runs", "")

		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("Get", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetRun", mock.Anything, "abc").Return(&models.BacktestRun{RunID: "abc", Symbol: "SPY"}, nil)
		s := newTestServer(new(MockBacktester), repo)

		w := do(s, http.MethodGet, "/api/runs/abc", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"run_id":"abc"`)
	})

	t.Run("NotFound", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetRun", mock.Anything, "nope").Return(nil, database.ErrRunNotFound)
		s := newTestServer(new(MockBacktester), repo)

		w := do(s, http.MethodGet, "/api/runs/nope", "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListRuns", mock.Anything, mock.Anything).Return(nil, errors.New("disk I/O error"))
		s := newTestServer(new(MockBacktester), repo)

		w := do(s, http.MethodGet, "/api/runs", "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetStatistics(t *testing.T) {
	repo := new(MockRepository)
	stats := database.Statistics{AllTime: database.StatsDetail{TotalRuns: 2, TotalTrades: 4, ProfitableTrades: 3, WinRate: 0.75, TotalProfit: 12.5}}
	repo.On("Statistics", mock.Anything, mock.Anything).Return(stats, nil)
	s := newTestServer(new(MockBacktester), repo)

	w := do(s, http.MethodGet, "/api/statistics", "")

	require.Equal(t, http.StatusOK, w.Code)
	var got database.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, stats, got)
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer(new(MockBacktester), new(MockRepository))

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(s, http.MethodOptions, "/api/backtest", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORSAllowList(t *testing.T) {
	cfg := &config.Server{Mode: gin.TestMode, AllowOrigins: []string{"http://localhost:3000"}}
	s := NewServer(cfg, new(MockBacktester), new(MockRepository), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
