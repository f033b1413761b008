// Package yahoo fetches daily price history from Yahoo Finance.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/allocator/internal/modules/marketdata"
	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
	"golang.org/x/sync/errgroup"
)

// historyFunc loads daily bars for symbol over a Yahoo period ("1y", "max", ...).
type historyFunc func(symbol, period string) ([]models.Bar, error)

// Client implements marketdata.PriceSource on top of go-yfinance.
type Client struct {
	history     historyFunc
	maxRetries  int
	concurrency int
	now         func() time.Time
	log         zerolog.Logger
}

// NewClient creates a Yahoo Finance price source.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		history:     fetchHistory,
		maxRetries:  3,
		concurrency: 4,
		now:         time.Now,
		log:         log.With().Str("client", "yahoo").Logger(),
	}
}

func fetchHistory(symbol, period string) ([]models.Bar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	params := models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	}

	bars, err := t.History(params)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices: %w", err)
	}
	return bars, nil
}

// Prices implements marketdata.PriceSource. Closes are split and dividend
// adjusted. Tickers are fetched concurrently; any ticker without data in
// [start, end) fails the whole request.
func (c *Client) Prices(ctx context.Context, tickers []string, start, end time.Time) (*marketdata.PriceTable, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}
	period := periodFor(start, c.now())

	var mu sync.Mutex
	series := make(map[string][]marketdata.Point, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, symbol := range tickers {
		g.Go(func() error {
			points, err := c.load(gctx, symbol, period, start, end)
			if err != nil {
				return err
			}
			mu.Lock()
			series[symbol] = points
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := marketdata.Align(tickers, series)
	if missing, filled := marketdata.FillMissing(table); missing > 0 {
		c.log.Warn().
			Int("missing_data_points", missing).
			Int("filled_data_points", filled).
			Msg("Filled missing price data")
	}

	c.log.Info().
		Int("tickers", len(tickers)).
		Int("dates", table.Len()).
		Str("period", period).
		Msg("Fetched historical prices from Yahoo Finance")
	return table, nil
}

func (c *Client) load(ctx context.Context, symbol, period string, start, end time.Time) ([]marketdata.Point, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := c.history(symbol, period)
		if err == nil {
			points := make([]marketdata.Point, 0, len(bars))
			for _, bar := range bars {
				if bar.Date.Before(start) || (!end.IsZero() && !bar.Date.Before(end)) {
					continue
				}
				if bar.Close <= 0 {
					continue
				}
				points = append(points, marketdata.Point{Date: bar.Date, Value: bar.Close})
			}
			if len(points) == 0 {
				return nil, fmt.Errorf("%w for %s", marketdata.ErrNoData, symbol)
			}
			return points, nil
		}

		lastErr = err
		if attempt < c.maxRetries-1 {
			waitTime := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Dur("wait", waitTime).Msg("Retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}
	return nil, fmt.Errorf("%s: %w", strings.ToUpper(symbol), lastErr)
}

// periodFor returns the shortest Yahoo range reaching back to start.
func periodFor(start, now time.Time) string {
	age := now.Sub(start)
	const day = 24 * time.Hour
	switch {
	case age <= 5*day:
		return "5d"
	case age <= 28*day:
		return "1mo"
	case age <= 89*day:
		return "3mo"
	case age <= 180*day:
		return "6mo"
	case age <= 365*day:
		return "1y"
	case age <= 2*365*day:
		return "2y"
	case age <= 5*365*day:
		return "5y"
	case age <= 10*365*day:
		return "10y"
	default:
		return "max"
	}
}
