// Package market_regime builds the shared market context each cycle reads:
// index trend, volatility level, regime and sector rotation.
package market_regime

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Regime score thresholds on the smoothed [-1, 1] scale
const (
	bullishThreshold = 0.25
	bearishThreshold = -0.25
	sectorRankSize   = 3
)

// BuilderConfig names the symbols the context is built from
type BuilderConfig struct {
	Sectors          map[string]string // ETF symbol -> sector name
	IndexSymbol      string
	VolatilitySymbol string
}

// ContextBuilder builds one MarketContext per cycle from the quote snapshot
type ContextBuilder struct {
	persistence *RegimePersistence
	cache       *ContextCache
	latest      *domain.MarketContext
	now         func() time.Time
	cfg         BuilderConfig
	log         zerolog.Logger
	mu          sync.RWMutex
}

// NewContextBuilder creates a new context builder. persistence and cache
// are optional.
func NewContextBuilder(cfg BuilderConfig, persistence *RegimePersistence, cache *ContextCache, log zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		persistence: persistence,
		cache:       cache,
		now:         time.Now,
		cfg:         cfg,
		log:         log.With().Str("component", "context_builder").Logger(),
	}
}

// WarmStart loads the last cached context so the API has something to show
// before the first cycle
func (b *ContextBuilder) WarmStart() error {
	if b.cache == nil {
		return nil
	}
	mctx, err := b.cache.Load()
	if err != nil {
		return err
	}
	if mctx != nil {
		b.setLatest(mctx)
		b.log.Info().Time("built_at", mctx.BuiltAt).Str("regime", string(mctx.Regime)).Msg("Market context restored from cache")
	}
	return nil
}

// LatestContext returns the most recently built context, or nil
func (b *ContextBuilder) LatestContext() *domain.MarketContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Build derives the market context from the cycle's quote snapshot. When the
// index could not be quoted the previous context is reused.
func (b *ContextBuilder) Build(snap *domain.QuoteSnapshot) (*domain.MarketContext, error) {
	indexPrice, ok := snap.Price(b.cfg.IndexSymbol)
	if !ok {
		if prev := b.LatestContext(); prev != nil {
			b.log.Warn().Str("index", b.cfg.IndexSymbol).Time("built_at", prev.BuiltAt).Msg("Index not quoted, reusing previous market context")
			return prev, nil
		}
		return nil, fmt.Errorf("failed to build market context: no quote for index %s", b.cfg.IndexSymbol)
	}

	index := snap.TechnicalsFor(b.cfg.IndexSymbol)
	mctx := &domain.MarketContext{
		BuiltAt:             b.now(),
		IndexSymbol:         b.cfg.IndexSymbol,
		IndexPrice:          indexPrice,
		IndexWeekChangePct:  index.WeekChangePct,
		IndexMonthChangePct: index.MonthChangePct,
	}

	if vix, ok := snap.Price(b.cfg.VolatilitySymbol); ok {
		mctx.VolatilityIndex = vix
	} else {
		// realized index volatility in index points
		mctx.VolatilityIndex = index.Volatility * 100
		b.log.Debug().Float64("proxy", mctx.VolatilityIndex).Msg("Volatility index not quoted, using realized volatility")
	}

	mctx.Sectors, mctx.Leaders, mctx.Laggards = b.rankSectors(snap)

	raw := RegimeScore(mctx.IndexWeekChangePct, mctx.IndexMonthChangePct, mctx.VolatilityIndex)
	smoothed := raw
	if b.persistence != nil {
		s, err := b.persistence.Smooth(raw)
		if err != nil {
			b.log.Warn().Err(err).Msg("Failed to smooth regime score, using raw score")
		} else {
			smoothed = s
		}
	}
	mctx.Regime = ClassifyRegime(smoothed)

	if b.persistence != nil {
		if err := b.persistence.Record(mctx, raw, smoothed); err != nil {
			b.log.Warn().Err(err).Msg("Failed to record market context")
		}
	}
	if b.cache != nil {
		if err := b.cache.Store(mctx); err != nil {
			b.log.Warn().Err(err).Msg("Failed to cache market context")
		}
	}
	b.setLatest(mctx)

	b.log.Info().
		Str("regime", string(mctx.Regime)).
		Float64("index_week_pct", mctx.IndexWeekChangePct).
		Float64("volatility_index", mctx.VolatilityIndex).
		Float64("score", smoothed).
		Strs("leaders", mctx.Leaders).
		Msg("Market context built")

	return mctx, nil
}

func (b *ContextBuilder) setLatest(mctx *domain.MarketContext) {
	b.mu.Lock()
	b.latest = mctx
	b.mu.Unlock()
}

func (b *ContextBuilder) rankSectors(snap *domain.QuoteSnapshot) ([]domain.SectorPerformance, []string, []string) {
	var sectors []domain.SectorPerformance
	for symbol, name := range b.cfg.Sectors {
		if _, ok := snap.Price(symbol); !ok {
			continue
		}
		sectors = append(sectors, domain.SectorPerformance{
			Sector:        name,
			Symbol:        symbol,
			WeekChangePct: snap.TechnicalsFor(symbol).WeekChangePct,
		})
	}

	sort.Slice(sectors, func(i, j int) bool {
		if sectors[i].WeekChangePct != sectors[j].WeekChangePct {
			return sectors[i].WeekChangePct > sectors[j].WeekChangePct
		}
		return sectors[i].Symbol < sectors[j].Symbol
	})

	n := len(sectors) / 2
	if n > sectorRankSize {
		n = sectorRankSize
	}
	leaders := make([]string, 0, n)
	laggards := make([]string, 0, n)
	for i := 0; i < n; i++ {
		leaders = append(leaders, sectors[i].Sector)
		laggards = append(laggards, sectors[len(sectors)-1-i].Sector)
	}
	return sectors, leaders, laggards
}

// RegimeScore blends month trend, week trend and volatility into [-1, 1]
func RegimeScore(weekPct, monthPct, volatilityIndex float64) float64 {
	month := clamp(monthPct/10, -1, 1)
	week := clamp(weekPct/5, -1, 1)
	vol := 0.0
	if volatilityIndex > 0 {
		vol = clamp((20-volatilityIndex)/10, -1, 1)
	}
	return 0.5*month + 0.3*week + 0.2*vol
}

// ClassifyRegime maps a smoothed score onto a regime
func ClassifyRegime(score float64) domain.Regime {
	switch {
	case score >= bullishThreshold:
		return domain.RegimeBullish
	case score <= bearishThreshold:
		return domain.RegimeBearish
	}
	return domain.RegimeNeutral
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
