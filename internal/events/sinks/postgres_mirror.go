package sinks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/events"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const mirrorTimeout = 10 * time.Second

const mirrorSchema = `
CREATE TABLE IF NOT EXISTS arena_trades (
    order_id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    broker TEXT NOT NULL,
    quantity DOUBLE PRECISION NOT NULL,
    price DOUBLE PRECISION NOT NULL,
    total DOUBLE PRECISION NOT NULL,
    commission DOUBLE PRECISION NOT NULL,
    slippage DOUBLE PRECISION NOT NULL,
    realized_pnl DOUBLE PRECISION NOT NULL,
    forced BOOLEAN NOT NULL,
    executed_at TIMESTAMP NOT NULL
)`

// PostgresMirror copies executed trades into a Postgres table for
// reporting outside the SQLite ledger. The SQLite ledger stays authoritative.
type PostgresMirror struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenPostgres connects with lib/pq and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresMirror creates the mirror and its table
func NewPostgresMirror(ctx context.Context, db *sql.DB, log zerolog.Logger) (*PostgresMirror, error) {
	if _, err := db.ExecContext(ctx, mirrorSchema); err != nil {
		return nil, fmt.Errorf("failed to create mirror table: %w", err)
	}
	return &PostgresMirror{
		db:  db,
		log: log.With().Str("component", "postgres_mirror").Logger(),
	}, nil
}

// Attach subscribes the mirror to executed trades
func (m *PostgresMirror) Attach(bus *events.Bus) {
	bus.Subscribe(events.TradeExecuted, m.Handle)
}

// Handle mirrors one TradeExecuted event
func (m *PostgresMirror) Handle(e events.Event) {
	trade, ok := e.Data.(*events.TradeExecutedData)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := m.Insert(ctx, trade); err != nil {
		m.log.Warn().Err(err).
			Str("agent_id", trade.AgentID).
			Str("order_id", trade.OrderID).
			Msg("Failed to mirror trade")
	}
}

// Insert writes one trade; a repeated order id is ignored
func (m *PostgresMirror) Insert(ctx context.Context, t *events.TradeExecutedData) error {
	if t.OrderID == "" {
		return fmt.Errorf("trade for %s %s has no order id", t.AgentID, t.Symbol)
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO arena_trades
			(order_id, agent_id, symbol, action, broker, quantity, price, total,
			 commission, slippage, realized_pnl, forced, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id) DO NOTHING
	`,
		t.OrderID, t.AgentID, t.Symbol, t.Action, t.Broker,
		t.Quantity, t.Price, t.Total, t.Commission, t.Slippage, t.RealizedPnL,
		t.Forced, t.ExecutedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mirrored trade: %w", err)
	}
	return nil
}

// Count returns how many trades have been mirrored
func (m *PostgresMirror) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM arena_trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mirrored trades: %w", err)
	}
	return n, nil
}
