package domain

import "time"

// Quote is the latest price for a symbol
type Quote struct {
	Timestamp     time.Time `json:"timestamp" msgpack:"timestamp"`
	Symbol        string    `json:"symbol" msgpack:"symbol"`
	Price         float64   `json:"price" msgpack:"price"`
	Change        float64   `json:"change" msgpack:"change"`
	ChangePercent float64   `json:"change_percent" msgpack:"change_percent"`
	Volume        int64     `json:"volume" msgpack:"volume"`
}

// Technicals are the derived indicator fields for a symbol.
// Pointer fields are nil when history was too short.
type Technicals struct {
	SMA20          *float64 `json:"sma20,omitempty"`
	SMA50          *float64 `json:"sma50,omitempty"`
	RSI14          *float64 `json:"rsi14,omitempty"`
	Symbol         string   `json:"symbol"`
	Price          float64  `json:"price"`
	WeekChangePct  float64  `json:"week_change_pct"`
	MonthChangePct float64  `json:"month_change_pct"`
	Volatility     float64  `json:"volatility"` // annualized, fractional (0.20 = 20%)
	Beta           float64  `json:"beta"`
}

// Regime is the broad market backdrop
type Regime string

const (
	RegimeBullish Regime = "bullish"
	RegimeNeutral Regime = "neutral"
	RegimeBearish Regime = "bearish"
)

// SectorPerformance is one sector proxy's recent move
type SectorPerformance struct {
	Sector        string  `json:"sector" msgpack:"sector"`
	Symbol        string  `json:"symbol" msgpack:"symbol"`
	WeekChangePct float64 `json:"week_change_pct" msgpack:"week_change_pct"`
}

// MarketContext is the shared, read-only market picture for one cycle
type MarketContext struct {
	BuiltAt             time.Time           `json:"built_at" msgpack:"built_at"`
	IndexSymbol         string              `json:"index_symbol" msgpack:"index_symbol"`
	Regime              Regime              `json:"regime" msgpack:"regime"`
	Sectors             []SectorPerformance `json:"sectors" msgpack:"sectors"`
	Leaders             []string            `json:"leaders" msgpack:"leaders"`
	Laggards            []string            `json:"laggards" msgpack:"laggards"`
	IndexPrice          float64             `json:"index_price" msgpack:"index_price"`
	IndexWeekChangePct  float64             `json:"index_week_change_pct" msgpack:"index_week_change_pct"`
	IndexMonthChangePct float64             `json:"index_month_change_pct" msgpack:"index_month_change_pct"`
	VolatilityIndex     float64             `json:"volatility_index" msgpack:"volatility_index"`
}

// QuoteSnapshot holds every quote and technical computed once per cycle.
// It must be treated as read-only after construction.
type QuoteSnapshot struct {
	TakenAt    time.Time             `json:"taken_at"`
	Quotes     map[string]Quote      `json:"quotes"`
	Technicals map[string]Technicals `json:"technicals"`
}

// Price returns the snapshot price for symbol
func (s *QuoteSnapshot) Price(symbol string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	q, ok := s.Quotes[symbol]
	if !ok || q.Price <= 0 {
		return 0, false
	}
	return q.Price, true
}

// TechnicalsFor returns technicals for symbol, falling back to the quote price
func (s *QuoteSnapshot) TechnicalsFor(symbol string) Technicals {
	if s == nil {
		return Technicals{Symbol: symbol, Beta: 1}
	}
	if t, ok := s.Technicals[symbol]; ok {
		return t
	}
	price, _ := s.Price(symbol)
	return Technicals{Symbol: symbol, Price: price, Beta: 1}
}
