package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scalp-backtest-go/internal/database"
	"scalp-backtest-go/internal/market"
	"scalp-backtest-go/internal/runner"
)

const defaultRunsLimit = 50

// Handler holds dependencies for the API endpoints.
type Handler struct {
	bt     Backtester
	repo   RunRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(bt Backtester, repo RunRepository, logger *zap.Logger) *Handler {
	return &Handler{bt: bt, repo: repo, logger: logger, now: time.Now}
}

// backtestRequest accepts either "ticker" or "symbol" for the instrument.
type backtestRequest struct {
	Ticker    string `json:"ticker"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Period    int    `json:"period"`
	Strategy  string `json:"strategy"`
}

// statusFor maps a runner error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrMalformedBar), errors.Is(err, market.ErrNonMonotonic):
		return http.StatusUnprocessableEntity
	case errors.Is(err, runner.ErrDataUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// RunBacktest runs a backtest for the requested window.
func (h *Handler) RunBacktest(c *gin.Context) {
	req := backtestRequest{Timeframe: "1m", Period: 1}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	symbol := req.Ticker
	if symbol == "" {
		symbol = req.Symbol
	}
	if symbol == "" {
		symbol = "SPY"
	}

	resp, err := h.bt.Run(c.Request.Context(), runner.Request{
		Symbol:    symbol,
		Timeframe: req.Timeframe,
		Period:    req.Period,
		Strategy:  req.Strategy,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if resp.NoData() {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetMarketData returns the bars for a ticker, timeframe and period.
func (h *Handler) GetMarketData(c *gin.Context) {
	period, err := strconv.Atoi(c.DefaultQuery("period", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be an integer"})
		return
	}

	resp, err := h.bt.MarketData(c.Request.Context(), c.DefaultQuery("ticker", "SPY"), c.DefaultQuery("timeframe", "1m"), period)
	if err != nil {
		h.fail(c, err)
		return
	}
	if resp.Error != "" {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListRuns returns the most recent stored runs.
func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunsLimit)))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	runs, err := h.repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(runs),
		"data":  runs,
	})
}

// GetRun returns one stored run with its trades.
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")
	run, err := h.repo.GetRun(c.Request.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": id})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetStatistics aggregates stored trades.
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.repo.Statistics(c.Request.Context(), h.now())
	if err != nil {
		h.logger.Error("Failed to calculate statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
