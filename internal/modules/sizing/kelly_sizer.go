// Package sizing turns a BUY decision into a dollar amount and share count
// using a fractional Kelly criterion.
package sizing

import (
	"fmt"
	"math"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Inputs is everything the sizer needs for one BUY
type Inputs struct {
	RiskTolerance       domain.RiskTolerance
	History             domain.HistoricalPerformance
	Cash                float64
	AccountValue        float64
	Confidence          float64 // 0-100
	StockVolatility     float64 // annualized, fractional
	PortfolioVolatility float64 // annualized, fractional
	MaxPositionPercent  float64 // 0 uses the policy ceiling
	Price               float64
	OpenPositions       int
}

// MarketConditions feed the post-sizing adjustment
type MarketConditions struct {
	Regime          domain.Regime
	VolatilityIndex float64
	PortfolioBeta   float64
}

// KellySizer calculates position sizes from the agent's own track record
type KellySizer struct {
	policy config.SizingPolicy
	adjust config.MarketAdjustPolicy
	log    zerolog.Logger
}

// NewKellySizer creates a new Kelly position sizer
func NewKellySizer(policy config.SizingPolicy, adjust config.MarketAdjustPolicy, log zerolog.Logger) *KellySizer {
	return &KellySizer{
		policy: policy,
		adjust: adjust,
		log:    log.With().Str("component", "kelly_sizer").Logger(),
	}
}

// Calculate sizes a BUY. Every step appends one line to the reasoning trail.
// A zero PositionSize means no trade.
func (ks *KellySizer) Calculate(in Inputs) domain.PositionSizeResult {
	confidence := math.Max(0, math.Min(100, in.Confidence))
	res := domain.PositionSizeResult{Confidence: confidence}

	// Step 1: base Kelly from the ledger, or the cold-start fallback
	kelly := ks.baseKelly(in.History, confidence, &res)
	res.KellyFraction = kelly

	// Step 2: confidence scaling
	scale := 0.3 + 0.7*confidence/100
	adjusted := kelly * scale
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("confidence %.0f scales Kelly by %.3f", confidence, scale))

	// Step 3: volatility against the baseline
	adjusted *= ks.volatilityFactor(in, &res)

	// Step 4: diversification
	div := diversificationFactor(in.OpenPositions)
	adjusted *= div
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("%d open positions: diversification factor %.2f", in.OpenPositions, div))

	// Step 5: risk tier
	tier := riskFactor(in.RiskTolerance)
	adjusted *= tier
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("risk tolerance %s: factor %.2f", in.RiskTolerance, tier))

	// Step 6: hard constraints
	return ks.applyConstraints(res, adjusted, in)
}

// ApplyMarketConditions scales a sized result by regime, volatility index and
// portfolio beta, then re-applies the hard constraints
func (ks *KellySizer) ApplyMarketConditions(res domain.PositionSizeResult, in Inputs, mc MarketConditions) domain.PositionSizeResult {
	if res.IsNoTrade() {
		return res
	}

	res.Reasoning = append([]string(nil), res.Reasoning...)

	regime := ks.adjust.NeutralFactor
	switch mc.Regime {
	case domain.RegimeBullish:
		regime = ks.adjust.BullishFactor
	case domain.RegimeBearish:
		regime = ks.adjust.BearishFactor
	}
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("%s regime: factor %.2f", regimeName(mc.Regime), regime))

	vix := 1.0
	switch {
	case mc.VolatilityIndex > ks.adjust.VIXHigh:
		vix = ks.adjust.VIXHighFactor
	case mc.VolatilityIndex > ks.adjust.VIXElevated:
		vix = ks.adjust.VIXElevatedFactor
	}
	if vix != 1.0 {
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("volatility index %.1f: factor %.2f", mc.VolatilityIndex, vix))
	}

	beta := 1.0
	if mc.PortfolioBeta > ks.adjust.BetaThreshold {
		beta = ks.adjust.BetaFactor
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("portfolio beta %.2f: factor %.2f", mc.PortfolioBeta, beta))
	}

	return ks.applyConstraints(res, res.AdjustedKelly*regime*vix*beta, in)
}

func (ks *KellySizer) baseKelly(h domain.HistoricalPerformance, confidence float64, res *domain.PositionSizeResult) float64 {
	if h.SampleSize < ks.policy.MinSampleSize {
		kelly := confidence / 100 * ks.policy.ColdStartCeiling
		res.Reasoning = append(res.Reasoning, fmt.Sprintf(
			"insufficient history (%d closed trades): fallback Kelly %.4f from confidence", h.SampleSize, kelly))
		return kelly
	}

	switch {
	case h.AvgWinPct <= 0:
		// win/loss ratio of zero: the formula tends to -inf, any stake loses
		kelly := -(1 - h.WinRate)
		if kelly == 0 {
			kelly = -1
		}
		res.Reasoning = append(res.Reasoning, fmt.Sprintf(
			"Kelly from %d closed trades: no average win (win rate %.1f%%), fraction %.4f",
			h.SampleSize, h.WinRate*100, kelly))
		return kelly
	case h.AvgLossPct <= 0:
		// unbounded win/loss ratio: the formula's limit is the win rate
		res.Reasoning = append(res.Reasoning, fmt.Sprintf(
			"Kelly from %d closed trades: no losing trades, fraction equals win rate %.4f",
			h.SampleSize, h.WinRate))
		return h.WinRate
	}

	r := h.AvgWinPct / h.AvgLossPct
	kelly := (h.WinRate*r - (1 - h.WinRate)) / r
	res.Reasoning = append(res.Reasoning, fmt.Sprintf(
		"Kelly from %d closed trades: win rate %.1f%%, win/loss ratio %.2f, fraction %.4f",
		h.SampleSize, h.WinRate*100, r, kelly))
	return kelly
}

func (ks *KellySizer) volatilityFactor(in Inputs, res *domain.PositionSizeResult) float64 {
	vol := in.StockVolatility
	if in.PortfolioVolatility > vol {
		res.Reasoning = append(res.Reasoning, fmt.Sprintf(
			"portfolio volatility %.1f%% exceeds stock volatility %.1f%%, using portfolio", in.PortfolioVolatility*100, vol*100))
		vol = in.PortfolioVolatility
	}
	if vol <= 0 || ks.policy.VolatilityBaseline <= 0 {
		res.Reasoning = append(res.Reasoning, "no volatility estimate: factor 1.00")
		return 1
	}

	ratio := vol / ks.policy.VolatilityBaseline
	factor := 1.0
	switch {
	case ratio > 1.5:
		factor = math.Max(0.5, 1.5/ratio)
	case ratio < 0.8:
		factor = math.Min(1.2, 0.8/ratio)
	}
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("volatility %.1f%% (%.2fx baseline): factor %.2f", vol*100, ratio, factor))
	return factor
}

// applyConstraints clamps to [min, max] of account value and caps at cash.
// The result is either zero or inside the band and affordable.
func (ks *KellySizer) applyConstraints(res domain.PositionSizeResult, adjusted float64, in Inputs) domain.PositionSizeResult {
	maxPct := in.MaxPositionPercent
	if maxPct <= 0 || maxPct > ks.policy.MaxPositionPercent {
		maxPct = ks.policy.MaxPositionPercent
	}
	minPct := math.Min(ks.policy.MinPositionPercent, maxPct)

	if adjusted > maxPct {
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("capped at max position %.1f%%", maxPct*100))
		adjusted = maxPct
	}
	if adjusted <= 0 {
		return noTrade(res, fmt.Sprintf("%s: adjusted Kelly %.4f", domain.ErrNegativeEdge, adjusted))
	}
	if in.AccountValue <= 0 {
		return noTrade(res, "account value is not positive")
	}
	if adjusted < minPct {
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("raised to minimum position %.1f%%", minPct*100))
		adjusted = minPct
	}

	dollars := in.AccountValue * adjusted
	if !domain.CashCovers(in.Cash, dollars) {
		capped := domain.MaxAffordable(dollars, in.Cash)
		if capped < in.AccountValue*minPct {
			return noTrade(res, fmt.Sprintf("%s: cash $%.2f below minimum position $%.2f",
				domain.ErrInsufficientFunds, in.Cash, in.AccountValue*minPct))
		}
		dollars = capped
		adjusted = dollars / in.AccountValue
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("capped at available cash $%.2f", in.Cash))
	}

	res.AdjustedKelly = adjusted
	res.PositionPercent = adjusted
	res.PositionSize = domain.RoundCents(dollars)
	res.Quantity = 0
	if in.Price > 0 {
		res.Quantity = math.Floor(res.PositionSize / in.Price)
	}
	if res.Quantity < 1 {
		return noTrade(res, fmt.Sprintf("$%.2f buys no whole shares at $%.2f", res.PositionSize, in.Price))
	}

	res.Reasoning = append(res.Reasoning, fmt.Sprintf("position $%.2f (%.2f%%), %.0f shares", res.PositionSize, adjusted*100, res.Quantity))
	return res
}

func noTrade(res domain.PositionSizeResult, reason string) domain.PositionSizeResult {
	res.PositionSize = 0
	res.PositionPercent = 0
	res.AdjustedKelly = 0
	res.Quantity = 0
	res.Reasoning = append(res.Reasoning, "no trade: "+reason)
	return res
}

func diversificationFactor(open int) float64 {
	switch {
	case open >= 8:
		return 0.7
	case open >= 5:
		return 0.85
	case open <= 2:
		return 1.1
	}
	return 1.0
}

func riskFactor(r domain.RiskTolerance) float64 {
	switch r {
	case domain.RiskConservative:
		return 0.5
	case domain.RiskAggressive:
		return 1.0
	}
	return 0.75
}

func regimeName(r domain.Regime) string {
	if r == "" {
		return string(domain.RegimeNeutral)
	}
	return string(r)
}
