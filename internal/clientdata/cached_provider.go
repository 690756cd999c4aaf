package clientdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// CachedProvider wraps a market data provider with a cache-first history
// lookup. Quotes always go upstream.
type CachedProvider struct {
	upstream domain.MarketDataProvider
	repo     *Repository
	ttl      time.Duration
	log      zerolog.Logger
}

// NewCachedProvider creates a caching decorator around upstream
func NewCachedProvider(upstream domain.MarketDataProvider, repo *Repository, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		repo:     repo,
		ttl:      TTLDailyCloses,
		log:      log.With().Str("component", "cached_provider").Logger(),
	}
}

// GetQuote passes straight through
func (p *CachedProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return p.upstream.GetQuote(ctx, symbol)
}

// GetDailyCloses serves fresh cached history when it covers the requested
// window. On an upstream failure, stale history is returned instead of the
// error when any exists.
func (p *CachedProvider) GetDailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	if closes, ok := p.load(symbol, true); ok && len(closes) >= days {
		return tail(closes, days), nil
	}

	closes, err := p.upstream.GetDailyCloses(ctx, symbol, days)
	if err != nil {
		if stale, ok := p.load(symbol, false); ok {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("Upstream history failed, serving stale cache")
			return tail(stale, days), nil
		}
		return nil, err
	}

	if len(closes) > 0 {
		if err := p.repo.Store(TableDailyCloses, symbol, closes, p.ttl); err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache daily closes")
		}
	}
	return closes, nil
}

func (p *CachedProvider) load(symbol string, freshOnly bool) ([]float64, bool) {
	var (
		raw json.RawMessage
		err error
	)
	if freshOnly {
		raw, err = p.repo.GetIfFresh(TableDailyCloses, symbol)
	} else {
		raw, err = p.repo.Get(TableDailyCloses, symbol)
	}
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read history cache")
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var closes []float64
	if err := json.Unmarshal(raw, &closes); err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("Discarding corrupt history cache entry")
		return nil, false
	}
	return closes, len(closes) > 0
}

func tail(closes []float64, n int) []float64 {
	if n <= 0 || len(closes) <= n {
		return closes
	}
	return closes[len(closes)-n:]
}
