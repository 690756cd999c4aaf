package market_regime

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const latestContextKey = "market_context:latest"

// ContextCache keeps the most recent market context across restarts
type ContextCache struct {
	db  *sql.DB // cache.db - cache_entries table
	log zerolog.Logger
}

// NewContextCache creates a new context cache
func NewContextCache(db *sql.DB, log zerolog.Logger) *ContextCache {
	return &ContextCache{
		db:  db,
		log: log.With().Str("component", "context_cache").Logger(),
	}
}

// Store replaces the cached context
func (c *ContextCache) Store(mctx *domain.MarketContext) error {
	payload, err := msgpack.Marshal(mctx)
	if err != nil {
		return fmt.Errorf("failed to encode market context: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO cache_entries (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, latestContextKey, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store market context: %w", err)
	}
	return nil
}

// Load returns the cached context, or nil if none was stored
func (c *ContextCache) Load() (*domain.MarketContext, error) {
	var payload []byte
	err := c.db.QueryRow(`SELECT payload FROM cache_entries WHERE key = ?`, latestContextKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load market context: %w", err)
	}

	var mctx domain.MarketContext
	if err := msgpack.Unmarshal(payload, &mctx); err != nil {
		return nil, fmt.Errorf("failed to decode market context: %w", err)
	}
	return &mctx, nil
}
