package exits

import "github.com/aristath/arena/internal/domain"

// StrategyRules are the per-strategy exit thresholds
type StrategyRules struct {
	ProfitTargetPct float64
	MaxHoldDays     int
	// EarlyExitDay closes a still-losing position from this day on; 0 disables
	EarlyExitDay int
}

var strategyRules = map[domain.Strategy]StrategyRules{
	domain.StrategyMomentum:            {ProfitTargetPct: 15, MaxHoldDays: 20},
	domain.StrategyMeanReversion:       {ProfitTargetPct: 8, MaxHoldDays: 10, EarlyExitDay: 3},
	domain.StrategyTrendFollowing:      {ProfitTargetPct: 20, MaxHoldDays: 60},
	domain.StrategyValue:               {ProfitTargetPct: 18, MaxHoldDays: 120},
	domain.StrategyVolatilityArbitrage: {ProfitTargetPct: 5, MaxHoldDays: 5, EarlyExitDay: 2},
	domain.StrategyContrarian:          {ProfitTargetPct: 12, MaxHoldDays: 30},
}

// RulesFor returns the thresholds for a strategy. Unknown strategies get
// the momentum rules.
func RulesFor(s domain.Strategy) StrategyRules {
	if r, ok := strategyRules[s]; ok {
		return r
	}
	return strategyRules[domain.StrategyMomentum]
}

const (
	longHoldDays        = 30
	longHoldTargetBonus = 3.0
	trailingActivation  = 5.0
	timeExitMaxPnL      = 3.0
	overboughtRSI       = 80.0
	oversoldRSI         = 20.0
	calmVolatilityIndex = 15.0
	valueBreakdownPct   = -10.0
)

// trailingDistance widens as the gain grows
func trailingDistance(gainPct float64) float64 {
	switch {
	case gainPct > 25:
		return 8
	case gainPct > 15:
		return 6
	case gainPct > 10:
		return 5
	}
	return 3
}
