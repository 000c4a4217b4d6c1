package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scalp-backtest-go/internal/config"
	"scalp-backtest-go/internal/market"
)

const chartPath = "/v8/finance/chart/{symbol}"

// APIError is a non-retryable error response from the chart API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chart api error %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("chart api error %d: %s", e.StatusCode, e.Description)
}

// Client fetches bars from the Yahoo Finance chart API.
// It implements the Provider interface.
type Client struct {
	client   *resty.Client
	logger   *zap.Logger
	limiter  *rate.Limiter
	location *time.Location
	backoff  time.Duration
}

// ensure Client implements the interface
var _ Provider = (*Client)(nil)

// NewClient creates a new chart API client.
func NewClient(cfg *config.MarketData, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown market timezone, falling back to UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:   client,
		logger:   logger.Named("marketdata"),
		limiter:  limiter,
		location: loc,
		backoff:  time.Second,
	}
}

// Location is the exchange time zone bars are reported in.
func (c *Client) Location() *time.Location { return c.location }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Bars fetches q from the chart API. An unknown symbol or empty window yields no bars.
func (c *Client) Bars(ctx context.Context, q Query) ([]market.Bar, error) {
	q = Clip(q)
	if !q.End.After(q.Start) {
		return []market.Bar{}, nil
	}

	req := c.client.R().
		SetContext(ctx).
		SetPathParam("symbol", strings.ToUpper(q.Symbol)).
		SetQueryParams(map[string]string{
			"period1":        strconv.FormatInt(q.Start.Unix(), 10),
			"period2":        strconv.FormatInt(q.End.Unix(), 10),
			"interval":       string(q.Timeframe),
			"includePrePost": "false",
		}).
		SetResult(&chartResponse{}).
		SetError(&chartResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, chartPath, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			c.logger.Info("No chart data for symbol", zap.String("symbol", q.Symbol), zap.String("reason", apiErr.Description))
			return []market.Bar{}, nil
		}
		return nil, fmt.Errorf("failed to get chart for %s: %w", q.Symbol, err)
	}

	body := resp.Result().(*chartResponse)
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("failed to get chart for %s: %w", q.Symbol,
			&APIError{StatusCode: resp.StatusCode(), Code: body.Chart.Error.Code, Description: body.Chart.Error.Description})
	}
	if len(body.Chart.Result) == 0 {
		return []market.Bar{}, nil
	}

	bars, err := c.toBars(body.Chart.Result[0], q)
	if err != nil {
		return nil, fmt.Errorf("invalid chart data for %s: %w", q.Symbol, err)
	}

	c.logger.Debug("Fetched bars",
		zap.String("symbol", q.Symbol),
		zap.String("timeframe", string(q.Timeframe)),
		zap.Int("bars", len(bars)))
	return bars, nil
}

// toBars converts a chart result into validated bars. Rows with a missing field or
// zero volume are dropped, as are weekend rows and rows outside the query.
func (c *Client) toBars(r chartResult, q Query) ([]market.Bar, error) {
	if len(r.Indicators.Quote) == 0 {
		return []market.Bar{}, nil
	}
	quote := r.Indicators.Quote[0]

	loc := c.location
	if r.Meta.ExchangeTimezoneName != "" {
		if l, err := time.LoadLocation(r.Meta.ExchangeTimezoneName); err == nil {
			loc = l
		}
	}

	at := func(s []*float64, i int) (float64, bool) {
		if i >= len(s) || s[i] == nil || math.IsNaN(*s[i]) {
			return 0, false
		}
		return *s[i], true
	}

	bars := make([]market.Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		o, ok1 := at(quote.Open, i)
		h, ok2 := at(quote.High, i)
		l, ok3 := at(quote.Low, i)
		cl, ok4 := at(quote.Close, i)
		v, ok5 := at(quote.Volume, i)
		if !(ok1 && ok2 && ok3 && ok4 && ok5) || v <= 0 {
			continue
		}

		t := time.Unix(ts, 0).In(loc)
		if !market.IsBusinessDay(t) || t.Before(q.Start) || t.After(q.End) {
			continue
		}
		bars = append(bars, market.Bar{Time: t, Open: o, High: h, Low: l, Close: cl, Volume: int64(v)})
	}

	return normalize(bars)
}

// normalize sorts bars, keeps the last of any duplicated timestamps and validates
// the result.
func normalize(bars []market.Bar) ([]market.Bar, error) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}

	if err := market.ValidateSeries(out); err != nil {
		return nil, err
	}
	return out, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if werr := c.limiter.Wait(ctx); werr != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", werr)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
			err = responseError(resp)
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, err
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

func responseError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Description: strings.TrimSpace(resp.String())}
	if body, ok := resp.Error().(*chartResponse); ok && body.Chart.Error != nil {
		apiErr.Code = body.Chart.Error.Code
		apiErr.Description = body.Chart.Error.Description
	}
	return apiErr
}
