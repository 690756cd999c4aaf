package snapshots

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// snapshotsColumns is the list of columns for the performance_snapshots table
// Column order must match scanSnapshot()
const snapshotsColumns = `id, agent_id, account_value, cash_balance, positions_value, total_return_percent, realized_pnl_today, unrealized_pnl, open_positions, stats_json, taken_at`

// Repository handles performance snapshot database operations
type Repository struct {
	db  *sql.DB // arena.db - performance_snapshots table
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshot").Logger(),
	}
}

// CreatePerformanceSnapshot inserts a snapshot and returns its ID
func (r *Repository) CreatePerformanceSnapshot(s *domain.PerformanceSnapshot) (int64, error) {
	statsJSON, err := json.Marshal(s.Stats)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot stats: %w", err)
	}
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}

	result, err := r.db.Exec(`
		INSERT INTO performance_snapshots (agent_id, account_value, cash_balance, positions_value, total_return_percent,
			realized_pnl_today, unrealized_pnl, open_positions, stats_json, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.AgentID,
		s.AccountValue,
		s.CashBalance,
		s.PositionsValue,
		s.TotalReturnPercent,
		s.RealizedPnLToday,
		s.UnrealizedPnL,
		s.OpenPositions,
		string(statsJSON),
		s.TakenAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot id: %w", err)
	}
	s.ID = id
	return id, nil
}

// ListByAgent returns the agent's snapshots, newest first. limit <= 0 returns all.
func (r *Repository) ListByAgent(agentID string, limit int) ([]domain.PerformanceSnapshot, error) {
	query := "SELECT " + snapshotsColumns + " FROM performance_snapshots WHERE agent_id = ? ORDER BY taken_at DESC, id DESC"
	args := []interface{}{agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.PerformanceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// Latest returns the newest snapshot of every agent
func (r *Repository) Latest() ([]domain.PerformanceSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT ` + snapshotsColumns + `
		FROM performance_snapshots s
		WHERE id = (
			SELECT id FROM performance_snapshots
			WHERE agent_id = s.agent_id
			ORDER BY taken_at DESC, id DESC
			LIMIT 1
		)
		ORDER BY agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.PerformanceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// GetLatestForAgent returns the newest snapshot of one agent, or nil
func (r *Repository) GetLatestForAgent(agentID string) (*domain.PerformanceSnapshot, error) {
	row := r.db.QueryRow("SELECT "+snapshotsColumns+" FROM performance_snapshots WHERE agent_id = ? ORDER BY taken_at DESC, id DESC LIMIT 1", agentID)
	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*domain.PerformanceSnapshot, error) {
	var (
		s         domain.PerformanceSnapshot
		statsJSON string
		takenAt   int64
	)

	err := row.Scan(
		&s.ID,
		&s.AgentID,
		&s.AccountValue,
		&s.CashBalance,
		&s.PositionsValue,
		&s.TotalReturnPercent,
		&s.RealizedPnLToday,
		&s.UnrealizedPnL,
		&s.OpenPositions,
		&statsJSON,
		&takenAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(statsJSON), &s.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot stats: %w", err)
	}
	s.TakenAt = time.Unix(takenAt, 0).UTC()
	return &s, nil
}
