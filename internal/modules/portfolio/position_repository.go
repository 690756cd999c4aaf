package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// positionsColumns is the list of columns for the positions table
// Column order must match scanPosition()
const positionsColumns = `id, agent_id, symbol, side, strategy, quantity, entry_price, current_price,
	peak_price, unrealized_pnl, unrealized_pnl_percent, target_price, stop_loss, opened_at, updated_at`

// PositionRepository handles position database operations
type PositionRepository struct {
	db  *sql.DB // arena.db - positions
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// ListPositions returns all open positions of an agent
func (r *PositionRepository) ListPositions(agentID string) ([]domain.Position, error) {
	rows, err := r.db.Query("SELECT "+positionsColumns+" FROM positions WHERE agent_id = ? ORDER BY id", agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// ListSymbols returns the distinct symbols held by any agent
func (r *PositionRepository) ListSymbols() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT symbol FROM positions ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query position symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// GetPosition returns the (agent, symbol, side) position, or nil if flat
func (r *PositionRepository) GetPosition(agentID, symbol string, side domain.PositionSide) (*domain.Position, error) {
	row := r.db.QueryRow("SELECT "+positionsColumns+" FROM positions WHERE agent_id = ? AND symbol = ? AND side = ?",
		agentID, normalizeSymbol(symbol), string(side))

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &pos, nil
}

// CreatePosition inserts a new position and sets its ID
func (r *PositionRepository) CreatePosition(p *domain.Position) (int64, error) {
	if p.Quantity <= 0 {
		return 0, fmt.Errorf("failed to create position: quantity must be positive")
	}

	now := time.Now()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.UpdatedAt = now
	p.Symbol = normalizeSymbol(p.Symbol)

	result, err := r.db.Exec(`
		INSERT INTO positions
		(agent_id, symbol, side, strategy, quantity, entry_price, current_price, peak_price,
		 unrealized_pnl, unrealized_pnl_percent, target_price, stop_loss, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.AgentID,
		p.Symbol,
		string(p.Side),
		string(p.Strategy),
		p.Quantity,
		p.EntryPrice,
		p.CurrentPrice,
		p.PeakPrice,
		p.UnrealizedPnL,
		p.UnrealizedPnLPercent,
		nullFloat64Ptr(p.TargetPrice),
		nullFloat64Ptr(p.StopLoss),
		p.OpenedAt.Unix(),
		p.UpdatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create position: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read position id: %w", err)
	}
	p.ID = id

	r.log.Debug().
		Str("agent_id", p.AgentID).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Float64("quantity", p.Quantity).
		Msg("Position opened")

	return id, nil
}

// UpdatePosition writes quantity, prices and P/L of an existing position
func (r *PositionRepository) UpdatePosition(p *domain.Position) error {
	p.UpdatedAt = time.Now()

	_, err := r.db.Exec(`
		UPDATE positions SET
			quantity = ?, entry_price = ?, current_price = ?, peak_price = ?,
			unrealized_pnl = ?, unrealized_pnl_percent = ?,
			target_price = ?, stop_loss = ?, updated_at = ?
		WHERE id = ?
	`,
		p.Quantity,
		p.EntryPrice,
		p.CurrentPrice,
		p.PeakPrice,
		p.UnrealizedPnL,
		p.UnrealizedPnLPercent,
		nullFloat64Ptr(p.TargetPrice),
		nullFloat64Ptr(p.StopLoss),
		p.UpdatedAt.Unix(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update position %d: %w", p.ID, err)
	}
	return nil
}

// DeletePosition removes a fully closed position
func (r *PositionRepository) DeletePosition(id int64) error {
	if _, err := r.db.Exec("DELETE FROM positions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete position %d: %w", id, err)
	}
	return nil
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                   domain.Position
		side, strategy      string
		target, stop        sql.NullFloat64
		openedAt, updatedAt int64
	)

	err := row.Scan(
		&p.ID,
		&p.AgentID,
		&p.Symbol,
		&side,
		&strategy,
		&p.Quantity,
		&p.EntryPrice,
		&p.CurrentPrice,
		&p.PeakPrice,
		&p.UnrealizedPnL,
		&p.UnrealizedPnLPercent,
		&target,
		&stop,
		&openedAt,
		&updatedAt,
	)
	if err != nil {
		return p, err
	}

	p.Side = domain.PositionSide(side)
	p.Strategy = domain.Strategy(strategy)
	if target.Valid {
		p.TargetPrice = &target.Float64
	}
	if stop.Valid {
		p.StopLoss = &stop.Float64
	}
	p.OpenedAt = time.Unix(openedAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return p, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func nullFloat64Ptr(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
