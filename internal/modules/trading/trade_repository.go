// Package trading provides the trade ledger, decision validation and the
// pre-trade safety engine.
package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// TradeRepository handles trade ledger operations.
// The ledger is append-only: there is no update or delete.
type TradeRepository struct {
	ledgerDB *sql.DB // ledger.db - trades table
	log      zerolog.Logger
}

// tradesColumns is the list of columns for the trades table
// Column order must match scanTrade()
const tradesColumns = `id, agent_id, decision_id, symbol, action, quantity, price, total, commission, slippage,
	realized_pnl, realized_pnl_percent, order_id, broker, exit_type, executed_at`

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// CreateTrade appends a trade to the ledger and sets its ID.
// A trade whose order_id is already recorded is not inserted twice.
func (r *TradeRepository) CreateTrade(trade *domain.Trade) (int64, error) {
	if trade.Quantity <= 0 {
		return 0, fmt.Errorf("failed to create trade: quantity must be positive")
	}
	if trade.Price <= 0 {
		return 0, fmt.Errorf("failed to create trade: price must be positive")
	}

	if trade.OrderID != "" {
		existing, err := r.GetByOrderID(trade.OrderID)
		if err != nil {
			return 0, fmt.Errorf("failed to check for existing trade: %w", err)
		}
		if existing != nil {
			r.log.Debug().
				Str("order_id", trade.OrderID).
				Msg("Trade with order_id already exists, skipping duplicate")
			trade.ID = existing.ID
			return existing.ID, nil
		}
	}

	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = time.Now()
	}

	result, err := r.ledgerDB.Exec(`
		INSERT INTO trades
		(agent_id, decision_id, symbol, action, quantity, price, total, commission, slippage,
		 realized_pnl, realized_pnl_percent, order_id, broker, exit_type, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trade.AgentID,
		nullString(trade.DecisionID),
		strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		string(trade.Action),
		trade.Quantity,
		trade.Price,
		trade.Total,
		trade.Commission,
		trade.Slippage,
		nullFloat64Ptr(trade.RealizedPnL),
		nullFloat64Ptr(trade.RealizedPnLPercent),
		nullString(trade.OrderID),
		trade.Broker,
		nullString(string(trade.ExitType)),
		trade.ExecutedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create trade: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}
	trade.ID = id

	r.log.Info().
		Str("agent_id", trade.AgentID).
		Str("symbol", trade.Symbol).
		Str("action", string(trade.Action)).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Msg("Trade recorded")

	return id, nil
}

// GetByOrderID retrieves a trade by broker order ID
func (r *TradeRepository) GetByOrderID(orderID string) (*domain.Trade, error) {
	row := r.ledgerDB.QueryRow("SELECT "+tradesColumns+" FROM trades WHERE order_id = ?", orderID)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade by order_id: %w", err)
	}
	return &trade, nil
}

// ListByAgent returns the agent's trades, most recent first.
// A non-positive limit returns every trade.
func (r *TradeRepository) ListByAgent(agentID string, limit int) ([]domain.Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE agent_id = ? ORDER BY executed_at DESC, id DESC"
	args := []interface{}{agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(query, args...)
}

// ListByAgentSince returns the agent's trades at or after since, oldest first
func (r *TradeRepository) ListByAgentSince(agentID string, since time.Time) ([]domain.Trade, error) {
	return r.query("SELECT "+tradesColumns+" FROM trades WHERE agent_id = ? AND executed_at >= ? ORDER BY executed_at ASC, id ASC",
		agentID, since.Unix())
}

// ListRecent returns the most recent trades across all agents
func (r *TradeRepository) ListRecent(limit int) ([]domain.Trade, error) {
	return r.query("SELECT "+tradesColumns+" FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?", limit)
}

// RealizedPnLSince sums realized P/L of one agent's closing trades
func (r *TradeRepository) RealizedPnLSince(agentID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.ledgerDB.QueryRow(`
		SELECT SUM(realized_pnl) FROM trades
		WHERE agent_id = ? AND executed_at >= ? AND realized_pnl IS NOT NULL
	`, agentID, since.Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized P/L for %s: %w", agentID, err)
	}
	return total.Float64, nil
}

// SystemRealizedPnLSince sums realized P/L across every agent
func (r *TradeRepository) SystemRealizedPnLSince(since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.ledgerDB.QueryRow(`
		SELECT SUM(realized_pnl) FROM trades
		WHERE executed_at >= ? AND realized_pnl IS NOT NULL
	`, since.Unix()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum system realized P/L: %w", err)
	}
	return total.Float64, nil
}

func (r *TradeRepository) query(query string, args ...interface{}) ([]domain.Trade, error) {
	rows, err := r.ledgerDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var (
		t                             domain.Trade
		decisionID, orderID, exitType sql.NullString
		action                        string
		realized, realizedPct         sql.NullFloat64
		executedAt                    int64
	)

	err := row.Scan(
		&t.ID,
		&t.AgentID,
		&decisionID,
		&t.Symbol,
		&action,
		&t.Quantity,
		&t.Price,
		&t.Total,
		&t.Commission,
		&t.Slippage,
		&realized,
		&realizedPct,
		&orderID,
		&t.Broker,
		&exitType,
		&executedAt,
	)
	if err != nil {
		return t, err
	}

	t.Action = domain.Action(action)
	t.DecisionID = decisionID.String
	t.OrderID = orderID.String
	t.ExitType = domain.ExitType(exitType.String)
	if realized.Valid {
		t.RealizedPnL = &realized.Float64
	}
	if realizedPct.Valid {
		t.RealizedPnLPercent = &realizedPct.Float64
	}
	t.ExecutedAt = time.Unix(executedAt, 0).UTC()

	return t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat64Ptr(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
