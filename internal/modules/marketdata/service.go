// Package marketdata builds the per-cycle quote snapshot every agent reads.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/utils"
	"github.com/aristath/arena/pkg/formulas"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHistoryDays = 80
	defaultParallelism = 8
)

// Service fetches quotes and history once per cycle
type Service struct {
	provider    domain.MarketDataProvider
	now         func() time.Time
	historyDays int
	parallelism int
	log         zerolog.Logger
}

// NewService creates a new market data service
func NewService(provider domain.MarketDataProvider, log zerolog.Logger) *Service {
	return &Service{
		provider:    provider,
		now:         time.Now,
		historyDays: defaultHistoryDays,
		parallelism: defaultParallelism,
		log:         log.With().Str("service", "marketdata").Logger(),
	}
}

// BuildSnapshot quotes every symbol and computes its technicals against the
// index. Symbols that fail to quote are left out; it is an error only when
// none could be quoted.
func (s *Service) BuildSnapshot(ctx context.Context, symbols []string, indexSymbol string) (*domain.QuoteSnapshot, error) {
	timer := utils.NewTimer("build_snapshot", s.log)
	defer timer.Stop()

	symbols = MergeSymbols(symbols, []string{indexSymbol})

	var indexReturns []float64
	if indexSymbol != "" {
		closes, err := s.provider.GetDailyCloses(ctx, indexSymbol, s.historyDays)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", indexSymbol).Msg("Failed to get index history, betas default to 1")
		} else {
			indexReturns = formulas.CalculateReturns(closes)
		}
	}

	snap := &domain.QuoteSnapshot{
		TakenAt:    s.now(),
		Quotes:     make(map[string]domain.Quote, len(symbols)),
		Technicals: make(map[string]domain.Technicals, len(symbols)),
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	g := new(errgroup.Group)
	g.SetLimit(s.parallelism)

	for _, symbol := range symbols {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			quote, err := s.provider.GetQuote(ctx, symbol)
			if err != nil || quote == nil || quote.Price <= 0 {
				mu.Lock()
				failed = append(failed, symbol)
				mu.Unlock()
				s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to get quote")
				return nil
			}

			closes, err := s.provider.GetDailyCloses(ctx, symbol, s.historyDays)
			if err != nil {
				s.log.Debug().Err(err).Str("symbol", symbol).Msg("No history, technicals will be partial")
			}
			tech := ComputeTechnicals(symbol, quote.Price, closes, indexReturns)

			mu.Lock()
			snap.Quotes[symbol] = *quote
			snap.Technicals[symbol] = tech
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build quote snapshot: %w", err)
	}
	if len(snap.Quotes) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("failed to build quote snapshot: no quotes for %d symbols", len(symbols))
	}

	sort.Strings(failed)
	s.log.Info().
		Int("quoted", len(snap.Quotes)).
		Strs("failed", failed).
		Msg("Quote snapshot built")

	return snap, nil
}

// MergeSymbols uppercases, dedupes and sorts symbol lists
func MergeSymbols(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
