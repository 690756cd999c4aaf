// Package exits decides, once per cycle, whether each open position must be
// closed regardless of what the decision provider wants.
package exits

import (
	"fmt"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Engine evaluates the exit rules in priority order. It is stateless and
// safe for concurrent use.
type Engine struct {
	policy config.ExitPolicy
	log    zerolog.Logger
}

// NewEngine creates a new exit engine
func NewEngine(policy config.ExitPolicy, log zerolog.Logger) *Engine {
	return &Engine{
		policy: policy,
		log:    log.With().Str("component", "exit_engine").Logger(),
	}
}

// view is the side-normalized picture of one position
type view struct {
	pos      *domain.Position
	tech     domain.Technicals
	mctx     *domain.MarketContext
	rules    StrategyRules
	price    float64
	pnlPct   float64
	peak     float64
	daysHeld int
	short    bool
}

// Evaluate returns exactly one signal for the position. The first matching
// rule wins; with no match the signal has ExitType none.
func (e *Engine) Evaluate(pos *domain.Position, tech domain.Technicals, mctx *domain.MarketContext, now time.Time) domain.ExitSignal {
	v := newView(pos, tech, mctx, now)

	checks := []func(*view) *domain.ExitSignal{
		e.checkStopLoss,
		checkProfitTarget,
		checkTrailingStop,
		checkTimeExit,
		checkTechnical,
		e.checkMacro,
		checkStrategy,
	}
	for _, check := range checks {
		if sig := check(v); sig != nil {
			sig.Symbol = pos.Symbol
			sig.Side = pos.Side
			sig.ShouldExit = true
			return *sig
		}
	}

	return domain.ExitSignal{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		ExitType:   domain.ExitNone,
		Urgency:    domain.UrgencyLow,
		Reasoning:  []string{fmt.Sprintf("no exit rule triggered at %.2f%% P/L after %d days", v.pnlPct, v.daysHeld)},
		Confidence: 0,
	}
}

// EvaluateAll evaluates every position against the cycle snapshot
func (e *Engine) EvaluateAll(positions []domain.Position, snap *domain.QuoteSnapshot, mctx *domain.MarketContext, now time.Time) []domain.ExitSignal {
	signals := make([]domain.ExitSignal, 0, len(positions))
	for i := range positions {
		sig := e.Evaluate(&positions[i], snap.TechnicalsFor(positions[i].Symbol), mctx, now)
		if sig.ShouldExit {
			e.log.Info().
				Str("agent_id", positions[i].AgentID).
				Str("symbol", sig.Symbol).
				Str("side", string(sig.Side)).
				Str("exit_type", string(sig.ExitType)).
				Str("urgency", string(sig.Urgency)).
				Msg("Exit triggered")
		}
		signals = append(signals, sig)
	}
	return signals
}

func newView(pos *domain.Position, tech domain.Technicals, mctx *domain.MarketContext, now time.Time) *view {
	price := pos.CurrentPrice
	if price <= 0 {
		price = tech.Price
	}

	v := &view{
		pos:      pos,
		tech:     tech,
		mctx:     mctx,
		rules:    RulesFor(pos.Strategy),
		price:    price,
		daysHeld: pos.DaysHeld(now),
		short:    pos.Side == domain.SideShort,
	}

	if pos.EntryPrice > 0 && price > 0 {
		if v.short {
			v.pnlPct = (pos.EntryPrice - price) / pos.EntryPrice * 100
		} else {
			v.pnlPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
		}
	}

	v.peak = pos.PeakPrice
	if v.short {
		if v.peak <= 0 || price < v.peak {
			v.peak = price
		}
	} else if price > v.peak {
		v.peak = price
	}
	return v
}

func signal(t domain.ExitType, u domain.Urgency, confidence float64, reasons ...string) *domain.ExitSignal {
	return &domain.ExitSignal{ExitType: t, Urgency: u, Confidence: confidence, Reasoning: reasons}
}

func (e *Engine) checkStopLoss(v *view) *domain.ExitSignal {
	if v.pnlPct < e.policy.StopLossPercent {
		return signal(domain.ExitStopLoss, domain.UrgencyCritical, 0.95,
			fmt.Sprintf("loss %.2f%% breached stop %.1f%%", v.pnlPct, e.policy.StopLossPercent))
	}
	return nil
}

func checkProfitTarget(v *view) *domain.ExitSignal {
	target := v.rules.ProfitTargetPct
	if v.daysHeld > longHoldDays {
		target += longHoldTargetBonus
	}
	if v.pnlPct >= target {
		return signal(domain.ExitProfitTarget, domain.UrgencyMedium, 0.8,
			fmt.Sprintf("gain %.2f%% reached %s target %.1f%%", v.pnlPct, v.pos.Strategy, target))
	}
	return nil
}

func checkTrailingStop(v *view) *domain.ExitSignal {
	if v.pnlPct <= trailingActivation || v.peak <= 0 {
		return nil
	}

	var drawdown float64
	if v.short {
		drawdown = (v.price - v.peak) / v.peak * 100
	} else {
		drawdown = (v.peak - v.price) / v.peak * 100
	}

	distance := trailingDistance(v.pnlPct)
	if drawdown > distance {
		return signal(domain.ExitTrailingStop, domain.UrgencyHigh, 0.85,
			fmt.Sprintf("pulled back %.2f%% from peak %.2f, trailing distance %.0f%%", drawdown, v.peak, distance),
			fmt.Sprintf("locking in %.2f%% gain", v.pnlPct))
	}
	return nil
}

func checkTimeExit(v *view) *domain.ExitSignal {
	if v.daysHeld > v.rules.MaxHoldDays && v.pnlPct < timeExitMaxPnL {
		return signal(domain.ExitTimeBased, domain.UrgencyLow, 0.6,
			fmt.Sprintf("held %d days, past the %s limit of %d with only %.2f%% P/L",
				v.daysHeld, v.pos.Strategy, v.rules.MaxHoldDays, v.pnlPct))
	}
	if v.rules.EarlyExitDay > 0 && v.daysHeld >= v.rules.EarlyExitDay && v.pnlPct < 0 {
		return signal(domain.ExitTimeBased, domain.UrgencyLow, 0.6,
			fmt.Sprintf("%s thesis failed: still negative (%.2f%%) on day %d", v.pos.Strategy, v.pnlPct, v.daysHeld))
	}
	return nil
}

func checkTechnical(v *view) *domain.ExitSignal {
	if sma50 := v.tech.SMA50; sma50 != nil && v.pnlPct < 0 {
		broken := v.price < *sma50
		if v.short {
			broken = v.price > *sma50
		}
		if broken {
			return signal(domain.ExitTechnical, domain.UrgencyMedium, 0.7,
				fmt.Sprintf("price %.2f on the wrong side of SMA50 %.2f while losing", v.price, *sma50))
		}
	}

	if rsi := v.tech.RSI14; rsi != nil {
		if !v.short && *rsi >= overboughtRSI {
			return signal(domain.ExitTechnical, domain.UrgencyMedium, 0.7,
				fmt.Sprintf("RSI %.1f overbought", *rsi))
		}
		if v.short && *rsi <= oversoldRSI {
			return signal(domain.ExitTechnical, domain.UrgencyMedium, 0.7,
				fmt.Sprintf("RSI %.1f oversold", *rsi))
		}
	}
	return nil
}

func (e *Engine) checkMacro(v *view) *domain.ExitSignal {
	if v.mctx == nil {
		return nil
	}
	if v.mctx.VolatilityIndex > e.policy.MacroVIXThreshold {
		return signal(domain.ExitMacroBreaker, domain.UrgencyCritical, 0.9,
			fmt.Sprintf("volatility index %.1f above %.0f", v.mctx.VolatilityIndex, e.policy.MacroVIXThreshold))
	}
	if v.mctx.IndexWeekChangePct < e.policy.MacroIndexWeekDropPct {
		return signal(domain.ExitMacroBreaker, domain.UrgencyCritical, 0.9,
			fmt.Sprintf("%s down %.2f%% this week", v.mctx.IndexSymbol, v.mctx.IndexWeekChangePct))
	}
	return nil
}

func checkStrategy(v *view) *domain.ExitSignal {
	profitable := v.pnlPct > 0
	rsi, sma20, sma50 := v.tech.RSI14, v.tech.SMA20, v.tech.SMA50

	switch v.pos.Strategy {
	case domain.StrategyMomentum:
		if rsi != nil && profitable && ((!v.short && *rsi < 50) || (v.short && *rsi > 50)) {
			return signal(domain.ExitStrategySpecific, domain.UrgencyMedium, 0.65,
				fmt.Sprintf("momentum fading: RSI %.1f", *rsi))
		}

	case domain.StrategyMeanReversion:
		if sma20 != nil && profitable && ((!v.short && v.price >= *sma20) || (v.short && v.price <= *sma20)) {
			return signal(domain.ExitStrategySpecific, domain.UrgencyMedium, 0.65,
				fmt.Sprintf("reverted to SMA20 %.2f", *sma20))
		}

	case domain.StrategyTrendFollowing:
		if sma20 != nil && sma50 != nil && ((!v.short && *sma20 < *sma50) || (v.short && *sma20 > *sma50)) {
			return signal(domain.ExitStrategySpecific, domain.UrgencyHigh, 0.65,
				fmt.Sprintf("trend reversed: SMA20 %.2f vs SMA50 %.2f", *sma20, *sma50))
		}

	case domain.StrategyValue:
		if t := v.pos.TargetPrice; t != nil && ((!v.short && v.price >= *t) || (v.short && v.price <= *t)) {
			return signal(domain.ExitStrategySpecific, domain.UrgencyMedium, 0.65,
				fmt.Sprintf("reached fair value target %.2f", *t))
		}
		month := v.tech.MonthChangePct
		if (!v.short && month < valueBreakdownPct) || (v.short && month > -valueBreakdownPct) {
			return signal(domain.ExitStrategySpecific, domain.UrgencyHigh, 0.65,
				fmt.Sprintf("value trap: month trend %.2f%%", month))
		}

	case domain.StrategyVolatilityArbitrage:
		if v.mctx != nil && v.mctx.VolatilityIndex > 0 && v.mctx.VolatilityIndex < calmVolatilityIndex {
			return signal(domain.ExitStrategySpecific, domain.UrgencyMedium, 0.65,
				fmt.Sprintf("volatility collapsed: index %.1f", v.mctx.VolatilityIndex))
		}

	case domain.StrategyContrarian:
		if rsi != nil && profitable && ((!v.short && *rsi >= 60) || (v.short && *rsi <= 40)) {
			return signal(domain.ExitStrategySpecific, domain.UrgencyLow, 0.65,
				fmt.Sprintf("crowd caught up: RSI %.1f", *rsi))
		}
	}
	return nil
}
