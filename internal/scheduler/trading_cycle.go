package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/orchestrator"
	"github.com/rs/zerolog"
)

// CycleRunner runs one trading cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleReport, error)
}

// MarketClock answers whether the exchange is open
type MarketClock interface {
	IsMarketOpen(t time.Time) bool
}

// TradingCycleJob triggers the orchestrator while the market is open
type TradingCycleJob struct {
	runner  CycleRunner
	clock   MarketClock
	now     func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

// NewTradingCycleJob creates the cycle job. clock may be nil to run
// regardless of market hours.
func NewTradingCycleJob(runner CycleRunner, clock MarketClock, timeout time.Duration, log zerolog.Logger) *TradingCycleJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &TradingCycleJob{
		runner:  runner,
		clock:   clock,
		now:     time.Now,
		timeout: timeout,
		log:     log.With().Str("job", "trading_cycle").Logger(),
	}
}

// Name returns the job name
func (j *TradingCycleJob) Name() string {
	return "trading_cycle"
}

// Run executes one cycle. An overlapping trigger is not an error.
func (j *TradingCycleJob) Run() error {
	if j.clock != nil && !j.clock.IsMarketOpen(j.now()) {
		j.log.Debug().Msg("Market closed, skipping cycle")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.runner.RunCycle(ctx); err != nil {
		if errors.Is(err, domain.ErrCycleInProgress) {
			j.log.Warn().Msg("Previous cycle still running, skipping")
			return nil
		}
		return err
	}
	return nil
}
