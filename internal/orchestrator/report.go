package orchestrator

import (
	"time"

	"github.com/aristath/arena/internal/domain"
)

// TradeOutcome is what happened to one decision or forced exit
type TradeOutcome struct {
	Action   domain.Action          `json:"action"`
	Symbol   string                 `json:"symbol,omitempty"`
	Outcome  domain.DecisionOutcome `json:"outcome"`
	ExitType domain.ExitType        `json:"exit_type,omitempty"`
	Detail   string                 `json:"detail,omitempty"`
	Quantity float64                `json:"quantity,omitempty"`
	Price    float64                `json:"price,omitempty"`
	Forced   bool                   `json:"forced,omitempty"`
}

// AgentReport is one agent's share of a cycle
type AgentReport struct {
	AgentID      string         `json:"agent_id"`
	Error        string         `json:"error,omitempty"`
	Outcomes     []TradeOutcome `json:"outcomes"`
	AccountValue float64        `json:"account_value"`
	CashBalance  float64        `json:"cash_balance"`
	Skipped      bool           `json:"skipped,omitempty"`
}

// CycleReport summarizes a finished cycle
type CycleReport struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	ID          string        `json:"id"`
	Regime      domain.Regime `json:"regime"`
	Agents      []AgentReport `json:"agents"`
	Symbols     int           `json:"symbols"`
	Trades      int           `json:"trades"`
	Vetoes      int           `json:"vetoes"`
	Failures    int           `json:"failures"`
	Halted      bool          `json:"halted"`
}

func (r *CycleReport) tally() {
	for _, a := range r.Agents {
		if a.Error != "" {
			r.Failures++
		}
		for _, o := range a.Outcomes {
			switch o.Outcome {
			case domain.OutcomeExecuted:
				r.Trades++
			case domain.OutcomeVetoed, domain.OutcomeInvalid:
				r.Vetoes++
			case domain.OutcomeFailed, domain.OutcomePending:
				r.Failures++
			}
		}
	}
}
