package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

const dataSource = "alpaca-data"

// DataClient serves latest trades and daily bars from Alpaca market data
type DataClient struct {
	api  *rest.Client
	feed string
	now  func() time.Time
	log  zerolog.Logger
}

// NewDataClient creates a market data client on the IEX feed
func NewDataClient(cfg Config, health rest.HealthRecorder, log zerolog.Logger) *DataClient {
	return &DataClient{
		api: rest.New(rest.Config{
			Name:              dataSource,
			BaseURL:           cfg.DataURL,
			Health:            health,
			Authorize:         cfg.headers(),
			RequestsPerSecond: 3,
			Burst:             5,
		}, log),
		feed: "iex",
		now:  time.Now,
		log:  log.With().Str("client", dataSource).Logger(),
	}
}

// GetQuote returns the latest trade price for symbol, with the session
// change measured against the previous daily close and today's volume.
// Change stays zero when no previous bar exists (fresh listings).
func (c *DataClient) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = strings.ToUpper(symbol)

	var snap snapshot
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/snapshot"
	if err := c.api.Get(ctx, path, url.Values{"feed": {c.feed}}, &snap); err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if snap.LatestTrade.Price <= 0 {
		return nil, fmt.Errorf("no trade price for %s", symbol)
	}

	q := &domain.Quote{
		Symbol:    symbol,
		Price:     snap.LatestTrade.Price,
		Timestamp: snap.LatestTrade.Timestamp,
		Volume:    int64(snap.DailyBar.Volume),
	}
	if prev := snap.PrevDailyBar; prev != nil && prev.Close > 0 {
		q.Change = q.Price - prev.Close
		q.ChangePercent = q.Change / prev.Close * 100
	}
	return q, nil
}

// GetDailyCloses returns up to days daily closes, oldest first
func (c *DataClient) GetDailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	symbol = strings.ToUpper(symbol)
	if days <= 0 {
		return nil, nil
	}

	// Calendar span generous enough to cover weekends and holidays
	start := c.now().AddDate(0, 0, -(days*7/5 + 10))
	query := url.Values{
		"timeframe":  {"1Day"},
		"start":      {start.UTC().Format(time.RFC3339)},
		"limit":      {strconv.Itoa(days + 15)},
		"adjustment": {"split"},
		"feed":       {c.feed},
	}

	var closes []float64
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/bars"
	for page := 0; page < 5; page++ {
		var resp barsResponse
		if err := c.api.Get(ctx, path, query, &resp); err != nil {
			return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
		}
		for _, bar := range resp.Bars {
			if bar.Close > 0 {
				closes = append(closes, bar.Close)
			}
		}
		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		query.Set("page_token", *resp.NextPageToken)
	}

	if len(closes) > days {
		closes = closes[len(closes)-days:]
	}
	return closes, nil
}
