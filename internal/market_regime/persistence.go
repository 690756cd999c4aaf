package market_regime

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// RegimePersistence handles market context history and score smoothing
type RegimePersistence struct {
	db  *sql.DB // cache.db - market_context_history table
	log zerolog.Logger
	// Exponential moving average alpha for the regime score
	smoothingAlpha float64
}

// HistoryEntry is one recorded market context
type HistoryEntry struct {
	BuiltAt             time.Time     `json:"built_at"`
	Regime              domain.Regime `json:"regime"`
	ID                  int64         `json:"id"`
	IndexPrice          float64       `json:"index_price"`
	IndexWeekChangePct  float64       `json:"index_week_change_pct"`
	IndexMonthChangePct float64       `json:"index_month_change_pct"`
	VolatilityIndex     float64       `json:"volatility_index"`
	RawScore            float64       `json:"raw_score"`
	SmoothedScore       float64       `json:"smoothed_score"`
}

// NewRegimePersistence creates a new regime persistence manager
func NewRegimePersistence(db *sql.DB, log zerolog.Logger) *RegimePersistence {
	return &RegimePersistence{
		db:             db,
		log:            log.With().Str("component", "regime_persistence").Logger(),
		smoothingAlpha: 0.3,
	}
}

// LastSmoothedScore returns the latest smoothed score. ok is false when
// there is no history yet.
func (rp *RegimePersistence) LastSmoothedScore() (score float64, ok bool, err error) {
	err = rp.db.QueryRow(`SELECT smoothed_score FROM market_context_history ORDER BY id DESC LIMIT 1`).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last regime score: %w", err)
	}
	return score, true, nil
}

// Smooth folds a raw score into the running average. The first score is
// taken as is.
func (rp *RegimePersistence) Smooth(raw float64) (float64, error) {
	last, ok, err := rp.LastSmoothedScore()
	if err != nil {
		return raw, err
	}
	if !ok {
		return raw, nil
	}
	return rp.smoothingAlpha*raw + (1.0-rp.smoothingAlpha)*last, nil
}

// Record appends a built context with its scores
func (rp *RegimePersistence) Record(mctx *domain.MarketContext, rawScore, smoothedScore float64) error {
	_, err := rp.db.Exec(`
		INSERT INTO market_context_history
		(regime, index_price, index_week_change_pct, index_month_change_pct, volatility_index, raw_score, smoothed_score, built_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(mctx.Regime),
		mctx.IndexPrice,
		mctx.IndexWeekChangePct,
		mctx.IndexMonthChangePct,
		mctx.VolatilityIndex,
		rawScore,
		smoothedScore,
		mctx.BuiltAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record market context: %w", err)
	}

	rp.log.Debug().
		Str("regime", string(mctx.Regime)).
		Float64("raw_score", rawScore).
		Float64("smoothed_score", smoothedScore).
		Msg("Recorded market context")

	return nil
}

// History returns recent entries, newest first
func (rp *RegimePersistence) History(limit int) ([]HistoryEntry, error) {
	rows, err := rp.db.Query(`
		SELECT id, regime, index_price, index_week_change_pct, index_month_change_pct,
		       volatility_index, raw_score, smoothed_score, built_at
		FROM market_context_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query market context history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry   HistoryEntry
			regime  string
			builtAt int64
		)
		if err := rows.Scan(
			&entry.ID,
			&regime,
			&entry.IndexPrice,
			&entry.IndexWeekChangePct,
			&entry.IndexMonthChangePct,
			&entry.VolatilityIndex,
			&entry.RawScore,
			&entry.SmoothedScore,
			&builtAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan market context history: %w", err)
		}
		entry.Regime = domain.Regime(regime)
		entry.BuiltAt = time.Unix(builtAt, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market context history: %w", err)
	}
	return entries, nil
}

// Prune deletes history older than the cutoff
func (rp *RegimePersistence) Prune(before time.Time) (int64, error) {
	result, err := rp.db.Exec(`DELETE FROM market_context_history WHERE built_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune market context history: %w", err)
	}
	return result.RowsAffected()
}
