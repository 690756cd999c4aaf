// Package portfolio provides agent books: balances, open positions and fills.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// agentsColumns is the list of columns for the agents table
// Column order must match scanAgent()
const agentsColumns = `id, name, strategy, broker_kind, risk_tolerance, cash_balance, account_value, starting_value, active, created_at, updated_at`

// AgentRepository handles agent database operations
type AgentRepository struct {
	db  *sql.DB // arena.db - agents table
	log zerolog.Logger
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *sql.DB, log zerolog.Logger) *AgentRepository {
	return &AgentRepository{
		db:  db,
		log: log.With().Str("repo", "agent").Logger(),
	}
}

// CreateAgent inserts a new agent. Cash, account value and starting value
// are all initialized to the starting capital.
func (r *AgentRepository) CreateAgent(agent *domain.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("failed to create agent: id is required")
	}
	if agent.StartingValue <= 0 {
		return fmt.Errorf("failed to create agent %s: starting value must be positive", agent.ID)
	}

	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.CashBalance = agent.StartingValue
	agent.AccountValue = agent.StartingValue

	_, err := r.db.Exec(`
		INSERT INTO agents (`+agentsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID,
		agent.Name,
		string(agent.Strategy),
		string(agent.BrokerKind),
		string(agent.RiskTolerance),
		agent.CashBalance,
		agent.AccountValue,
		agent.StartingValue,
		boolToInt(agent.Active),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	r.log.Info().
		Str("agent_id", agent.ID).
		Str("strategy", string(agent.Strategy)).
		Str("broker", string(agent.BrokerKind)).
		Float64("capital", agent.StartingValue).
		Msg("Agent created")

	return nil
}

// GetAgent returns an agent by ID, or nil if not found
func (r *AgentRepository) GetAgent(id string) (*domain.Agent, error) {
	row := r.db.QueryRow("SELECT "+agentsColumns+" FROM agents WHERE id = ?", id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return &agent, nil
}

// ListActive returns active agents ordered by ID
func (r *AgentRepository) ListActive() ([]domain.Agent, error) {
	return r.list("SELECT " + agentsColumns + " FROM agents WHERE active = 1 ORDER BY id")
}

// ListAll returns every agent ordered by ID
func (r *AgentRepository) ListAll() ([]domain.Agent, error) {
	return r.list("SELECT " + agentsColumns + " FROM agents ORDER BY id")
}

func (r *AgentRepository) list(query string) ([]domain.Agent, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

// UpdateAgent persists cash and account value, rounded to cents
func (r *AgentRepository) UpdateAgent(id string, cashBalance, accountValue float64) error {
	result, err := r.db.Exec(`
		UPDATE agents SET cash_balance = ?, account_value = ?, updated_at = ?
		WHERE id = ?
	`, domain.RoundCents(cashBalance), domain.RoundCents(accountValue), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update agent %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to update agent %s: not found", id)
	}
	return nil
}

// SetActive enables or disables an agent
func (r *AgentRepository) SetActive(id string, active bool) error {
	_, err := r.db.Exec(`UPDATE agents SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set agent %s active=%t: %w", id, active, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var (
		a                           domain.Agent
		strategy, broker, tolerance string
		active                      int
		createdAt, updatedAt        int64
	)

	err := row.Scan(
		&a.ID,
		&a.Name,
		&strategy,
		&broker,
		&tolerance,
		&a.CashBalance,
		&a.AccountValue,
		&a.StartingValue,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return a, err
	}

	a.Strategy = domain.Strategy(strategy)
	a.BrokerKind = domain.ParseBrokerKind(broker)
	a.RiskTolerance = domain.RiskTolerance(tolerance)
	a.Active = active != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
