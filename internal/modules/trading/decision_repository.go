package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DecisionRepository persists every decision with its outcome
type DecisionRepository struct {
	db  *sql.DB // arena.db - decisions table
	log zerolog.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *sql.DB, log zerolog.Logger) *DecisionRepository {
	return &DecisionRepository{
		db:  db,
		log: log.With().Str("repo", "decision").Logger(),
	}
}

// CreateDecisionRecord stores a decision and what the cycle did with it.
// Decisions without an ID get one.
func (r *DecisionRepository) CreateDecisionRecord(rec *domain.DecisionRecord) error {
	d := &rec.Decision
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(`
		INSERT INTO decisions
		(id, agent_id, action, symbol, quantity, confidence, reasoning, target_price, stop_loss,
		 invalidation_condition, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.AgentID,
		string(d.Action),
		nullString(d.Symbol),
		d.Quantity,
		d.Confidence,
		d.Reasoning,
		nullFloat64Ptr(d.TargetPrice),
		nullFloat64Ptr(d.StopLoss),
		nullString(d.InvalidationCondition),
		string(rec.Outcome),
		rec.Detail,
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create decision record: %w", err)
	}
	return nil
}

// ListByAgent returns the agent's most recent decision records
func (r *DecisionRepository) ListByAgent(agentID string, limit int) ([]domain.DecisionRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, agent_id, action, symbol, quantity, confidence, reasoning, target_price, stop_loss,
			invalidation_condition, outcome, detail, created_at
		FROM decisions WHERE agent_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []domain.DecisionRecord
	for rows.Next() {
		var (
			rec                        domain.DecisionRecord
			action, outcome            string
			symbol, reasoning, invalid sql.NullString
			detail                     sql.NullString
			target, stop               sql.NullFloat64
			createdAt                  int64
		)
		if err := rows.Scan(
			&rec.Decision.ID,
			&rec.Decision.AgentID,
			&action,
			&symbol,
			&rec.Decision.Quantity,
			&rec.Decision.Confidence,
			&reasoning,
			&target,
			&stop,
			&invalid,
			&outcome,
			&detail,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		rec.Decision.Action = domain.Action(action)
		rec.Decision.Symbol = symbol.String
		rec.Decision.Reasoning = reasoning.String
		rec.Decision.InvalidationCondition = invalid.String
		if target.Valid {
			v := target.Float64
			rec.Decision.TargetPrice = &v
		}
		if stop.Valid {
			v := stop.Float64
			rec.Decision.StopLoss = &v
		}
		rec.Outcome = domain.DecisionOutcome(outcome)
		rec.Detail = detail.String
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return records, nil
}
