package snapshots

import (
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// SessionCalendar maps an instant onto its exchange session date
type SessionCalendar interface {
	SessionDate(t time.Time) time.Time
}

// Service computes agent statistics and records snapshots
type Service struct {
	trades    domain.TradeRepository
	snapshots domain.SnapshotRepository
	calendar  SessionCalendar
	log       zerolog.Logger
}

// NewService creates a new snapshot service
func NewService(trades domain.TradeRepository, snapshots domain.SnapshotRepository, calendar SessionCalendar, log zerolog.Logger) *Service {
	return &Service{
		trades:    trades,
		snapshots: snapshots,
		calendar:  calendar,
		log:       log.With().Str("service", "snapshots").Logger(),
	}
}

// Stats computes the extended stats over the agent's whole ledger
func (s *Service) Stats(agentID string) (domain.ExtendedStats, error) {
	trades, err := s.trades.ListByAgent(agentID, 0)
	if err != nil {
		return domain.ExtendedStats{}, fmt.Errorf("failed to load trades for %s: %w", agentID, err)
	}
	return ComputeStats(trades), nil
}

// Capture records the agent's end-of-cycle picture. Positions must already
// be repriced for the cycle.
func (s *Service) Capture(now time.Time, agent *domain.Agent, positions []domain.Position) (*domain.PerformanceSnapshot, error) {
	stats, err := s.Stats(agent.ID)
	if err != nil {
		return nil, err
	}

	realizedToday, err := s.trades.RealizedPnLSince(agent.ID, s.calendar.SessionDate(now))
	if err != nil {
		return nil, fmt.Errorf("failed to load realized P/L for %s: %w", agent.ID, err)
	}

	snap := &domain.PerformanceSnapshot{
		TakenAt:            now,
		AgentID:            agent.ID,
		Stats:              stats,
		AccountValue:       agent.AccountValue,
		CashBalance:        agent.CashBalance,
		TotalReturnPercent: agent.TotalReturnPercent(),
		RealizedPnLToday:   domain.RoundCents(realizedToday),
		OpenPositions:      len(positions),
	}
	for i := range positions {
		snap.PositionsValue += positions[i].MarketValue()
		snap.UnrealizedPnL += positions[i].UnrealizedPnL
	}
	snap.PositionsValue = domain.RoundCents(snap.PositionsValue)
	snap.UnrealizedPnL = domain.RoundCents(snap.UnrealizedPnL)

	if _, err := s.snapshots.CreatePerformanceSnapshot(snap); err != nil {
		return nil, fmt.Errorf("failed to record snapshot for %s: %w", agent.ID, err)
	}

	s.log.Debug().
		Str("agent_id", agent.ID).
		Float64("account_value", snap.AccountValue).
		Float64("realized_today", snap.RealizedPnLToday).
		Int("open_positions", snap.OpenPositions).
		Msg("Snapshot recorded")

	return snap, nil
}
