package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Severity grades a safety verdict
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Check names, in evaluation order
const (
	CheckManualApproval = "manual_approval"
	CheckTradeSize      = "trade_size"
	CheckAgentDailyLoss = "agent_daily_loss"
	CheckDayTrades      = "pattern_day_trading"
	CheckBuyingPower    = "buying_power"
	CheckSystemLoss     = "system_daily_loss"
	CheckAPIHealth      = "api_health"
)

// SessionCalendar maps instants onto exchange sessions
type SessionCalendar interface {
	SessionDate(t time.Time) time.Time
	SessionsBack(t time.Time, n int) time.Time
	Location() *time.Location
}

// ErrorCounter exposes the global consecutive upstream error count
type ErrorCounter interface {
	ConsecutiveErrors() int
}

// TradeRequest is the proposed trade the safety engine judges
type TradeRequest struct {
	Now          time.Time
	Agent        *domain.Agent
	Action       domain.Action
	Symbol       string
	Quantity     float64
	Price        float64
	RiskReducing bool // forced exits: only manual approval, halt and API health apply
}

// Notional is the dollar size of the request
func (r TradeRequest) Notional() float64 {
	return r.Quantity * r.Price
}

// Verdict is the outcome of Validate. Err wraps one taxonomy sentinel when
// the trade is vetoed.
type Verdict struct {
	Err      error    `json:"-"`
	Check    string   `json:"check,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Severity Severity `json:"severity"`
	Approved bool     `json:"approved"`
}

// IsSystemHalt reports whether the verdict halted the whole system
func (v Verdict) IsSystemHalt() bool {
	return errors.Is(v.Err, domain.ErrSystemHalt)
}

// SafetyStatus is the operator view of the engine
type SafetyStatus struct {
	HaltedAt       *time.Time `json:"halted_at,omitempty"`
	HaltReason     string     `json:"halt_reason,omitempty"`
	Halted         bool       `json:"halted"`
	ManualApproval bool       `json:"manual_approval"`
}

// SafetyService is the pre-trade circuit breaker. It is shared by every
// agent session; aggregates are read fresh from the ledger on each call.
type SafetyService struct {
	haltedAt       time.Time
	trades         domain.TradeRepository
	calendar       SessionCalendar
	health         ErrorCounter
	onHalt         func(reason string)
	haltReason     string
	log            zerolog.Logger
	policy         config.SafetyPolicy
	mu             sync.RWMutex
	halted         bool
	manualApproval bool
}

// NewSafetyService creates a new safety service
func NewSafetyService(
	trades domain.TradeRepository,
	calendar SessionCalendar,
	health ErrorCounter,
	policy config.SafetyPolicy,
	log zerolog.Logger,
) *SafetyService {
	return &SafetyService{
		trades:         trades,
		calendar:       calendar,
		health:         health,
		policy:         policy,
		manualApproval: policy.RequireManualApproval,
		log:            log.With().Str("service", "safety").Logger(),
	}
}

// OnHalt registers a callback invoked once each time the halt latches
func (s *SafetyService) OnHalt(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHalt = fn
}

// Validate runs the checks in order; the first veto wins. It never panics:
// an internal failure vetoes with critical severity.
func (s *SafetyService) Validate(ctx context.Context, req TradeRequest) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("symbol", req.Symbol).Msg("Safety check panicked, failing closed")
			verdict = veto("internal", SeverityCritical, domain.ErrValidationRejected, fmt.Sprintf("safety check failed: %v", r))
		}
	}()

	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	checks := []func(context.Context, TradeRequest) *Verdict{
		s.checkManualApproval,
		s.checkTradeSize,
		s.checkAgentDailyLoss,
		s.checkDayTrades,
		s.checkBuyingPower,
		s.checkSystemLoss,
		s.checkAPIHealth,
	}
	if req.RiskReducing {
		checks = []func(context.Context, TradeRequest) *Verdict{
			s.checkManualApproval,
			s.checkAPIHealth,
		}
	}

	for _, check := range checks {
		if ctx.Err() != nil {
			return veto("context", SeverityWarning, domain.ErrValidationRejected, "cycle cancelled")
		}
		if v := check(ctx, req); v != nil {
			s.logVeto(req, *v)
			return *v
		}
	}

	return Verdict{Approved: true, Severity: SeverityInfo}
}

// checkManualApproval: check 1, the global approval flag and the latched halt
func (s *SafetyService) checkManualApproval(_ context.Context, _ TradeRequest) *Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.halted {
		v := veto(CheckManualApproval, SeverityCritical, domain.ErrSystemHalt, "system halted: "+s.haltReason)
		return &v
	}
	if s.manualApproval {
		v := veto(CheckManualApproval, SeverityWarning, domain.ErrValidationRejected, "manual approval required for all trades")
		return &v
	}
	return nil
}

// checkTradeSize: check 2, the single-trade notional ceiling
func (s *SafetyService) checkTradeSize(_ context.Context, req TradeRequest) *Verdict {
	if notional := req.Notional(); notional > s.policy.MaxTradeNotional {
		v := veto(CheckTradeSize, SeverityWarning, domain.ErrValidationRejected,
			fmt.Sprintf("trade notional $%.2f exceeds single-trade cap $%.2f", notional, s.policy.MaxTradeNotional))
		return &v
	}
	return nil
}

// checkAgentDailyLoss: check 3, the agent's realized P/L today
func (s *SafetyService) checkAgentDailyLoss(_ context.Context, req TradeRequest) *Verdict {
	pnl, err := s.trades.RealizedPnLSince(req.Agent.ID, s.calendar.SessionDate(req.Now))
	if err != nil {
		v := failClosed(CheckAgentDailyLoss, err)
		return &v
	}
	if pnl < s.policy.AgentDailyLossLimit {
		v := veto(CheckAgentDailyLoss, SeverityWarning, domain.ErrValidationRejected,
			fmt.Sprintf("agent realized P/L today $%.2f below limit $%.2f", pnl, s.policy.AgentDailyLossLimit))
		return &v
	}
	return nil
}

// checkDayTrades: check 4, pattern day trading in the trailing sessions
func (s *SafetyService) checkDayTrades(_ context.Context, req TradeRequest) *Verdict {
	if req.Action != domain.ActionBuy {
		return nil
	}

	since := s.calendar.SessionsBack(req.Now, s.policy.DayTradeWindowSessions)
	trades, err := s.trades.ListByAgentSince(req.Agent.ID, since)
	if err != nil {
		v := failClosed(CheckDayTrades, err)
		return &v
	}

	if count := CountDayTrades(trades, s.calendar.Location()); count >= s.policy.MaxDayTrades {
		v := veto(CheckDayTrades, SeverityWarning, domain.ErrValidationRejected,
			fmt.Sprintf("%d day trades in the last %d sessions (max %d)", count, s.policy.DayTradeWindowSessions, s.policy.MaxDayTrades))
		return &v
	}
	return nil
}

// checkBuyingPower: check 5, cash and the growth allowance
func (s *SafetyService) checkBuyingPower(_ context.Context, req TradeRequest) *Verdict {
	if req.Action != domain.ActionBuy {
		return nil
	}

	if !domain.CashCovers(req.Agent.CashBalance, req.Notional()) {
		v := veto(CheckBuyingPower, SeverityWarning, domain.ErrInsufficientFunds,
			fmt.Sprintf("cash $%.2f does not cover $%.2f", req.Agent.CashBalance, req.Notional()))
		return &v
	}

	ceiling := req.Agent.StartingValue * s.policy.GrowthAllowance
	if req.Agent.StartingValue > 0 && req.Agent.AccountValue >= ceiling {
		v := veto(CheckBuyingPower, SeverityWarning, domain.ErrValidationRejected,
			fmt.Sprintf("account value $%.2f reached growth allowance $%.2f", req.Agent.AccountValue, ceiling))
		return &v
	}
	return nil
}

// checkSystemLoss: check 6, the system-wide realized P/L today
func (s *SafetyService) checkSystemLoss(_ context.Context, req TradeRequest) *Verdict {
	pnl, err := s.trades.SystemRealizedPnLSince(s.calendar.SessionDate(req.Now))
	if err != nil {
		v := failClosed(CheckSystemLoss, err)
		return &v
	}
	if pnl < s.policy.SystemDailyLossLimit {
		reason := fmt.Sprintf("system realized P/L today $%.2f below limit $%.2f", pnl, s.policy.SystemDailyLossLimit)
		s.Halt(reason)
		v := veto(CheckSystemLoss, SeverityCritical, domain.ErrSystemHalt, reason)
		return &v
	}
	return nil
}

// checkAPIHealth: check 7, consecutive upstream failures
func (s *SafetyService) checkAPIHealth(_ context.Context, _ TradeRequest) *Verdict {
	if s.health == nil {
		return nil
	}
	if n := s.health.ConsecutiveErrors(); n >= s.policy.MaxConsecutiveAPIErrors {
		reason := fmt.Sprintf("%d consecutive upstream API errors (threshold %d)", n, s.policy.MaxConsecutiveAPIErrors)
		s.Halt(reason)
		v := veto(CheckAPIHealth, SeverityCritical, domain.ErrSystemHalt, reason)
		return &v
	}
	return nil
}

// Halt latches the system halt. Only the first caller triggers OnHalt.
func (s *SafetyService) Halt(reason string) {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return
	}
	s.halted = true
	s.haltReason = reason
	s.haltedAt = time.Now()
	cb := s.onHalt
	s.mu.Unlock()

	s.log.Error().Str("severity", string(SeverityCritical)).Str("reason", reason).Msg("System halted")
	if cb != nil {
		cb(reason)
	}
}

// IsHalted reports whether the halt is latched
func (s *SafetyService) IsHalted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted
}

// ResetHalt clears the latched halt (manual reset or daily rollover)
func (s *SafetyService) ResetHalt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		s.log.Warn().Str("reason", s.haltReason).Msg("System halt reset")
	}
	s.halted = false
	s.haltReason = ""
	s.haltedAt = time.Time{}
}

// SetManualApproval toggles the global approval gate
func (s *SafetyService) SetManualApproval(required bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualApproval = required
	s.log.Info().Bool("required", required).Msg("Manual approval flag changed")
}

// Status returns the operator view
func (s *SafetyService) Status() SafetyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SafetyStatus{
		Halted:         s.halted,
		HaltReason:     s.haltReason,
		ManualApproval: s.manualApproval,
	}
	if s.halted {
		at := s.haltedAt
		status.HaltedAt = &at
	}
	return status
}

func (s *SafetyService) logVeto(req TradeRequest, v Verdict) {
	evt := s.log.Warn()
	if v.Severity == SeverityCritical {
		evt = s.log.Error()
	}
	agentID := ""
	if req.Agent != nil {
		agentID = req.Agent.ID
	}
	evt.Str("agent_id", agentID).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Str("check", v.Check).
		Str("severity", string(v.Severity)).
		Str("reason", v.Reason).
		Msg("Trade vetoed")
}

func veto(check string, severity Severity, sentinel error, reason string) Verdict {
	return Verdict{
		Approved: false,
		Check:    check,
		Reason:   reason,
		Severity: severity,
		Err:      fmt.Errorf("%w: %s", sentinel, reason),
	}
}

// failClosed vetoes when a ledger aggregate cannot be read
func failClosed(check string, err error) Verdict {
	return veto(check, SeverityCritical, domain.ErrValidationRejected, "ledger unavailable: "+err.Error())
}
