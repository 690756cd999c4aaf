// Package di wires the arena's databases, repositories, services and jobs.
package di

import (
	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clientdata"
	"github.com/aristath/arena/internal/clients/tradernet"
	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/market_regime"
	"github.com/aristath/arena/internal/modules/exits"
	"github.com/aristath/arena/internal/modules/market_hours"
	"github.com/aristath/arena/internal/modules/marketdata"
	"github.com/aristath/arena/internal/modules/portfolio"
	"github.com/aristath/arena/internal/modules/sizing"
	"github.com/aristath/arena/internal/modules/snapshots"
	"github.com/aristath/arena/internal/modules/trading"
	"github.com/aristath/arena/internal/orchestrator"
	"github.com/aristath/arena/internal/reliability"
	"github.com/aristath/arena/internal/services"
)

// Container holds every long-lived dependency of the process
type Container struct {
	Policy config.Policy

	// Databases
	ArenaDB  *database.DB
	LedgerDB *database.DB
	CacheDB  *database.DB

	// Repositories
	AgentRepo     *portfolio.AgentRepository
	PositionRepo  *portfolio.PositionRepository
	TradeRepo     *trading.TradeRepository
	DecisionRepo  *trading.DecisionRepository
	SnapshotRepo  *snapshots.Repository
	RegimeHistory *market_regime.RegimePersistence
	RegimeCache   *market_regime.ContextCache
	ClientData    *clientdata.Repository

	// Infrastructure
	EventBus      *events.Bus
	EventManager  *events.Manager
	HealthTracker *services.APIHealthTracker
	MarketHours   *market_hours.MarketHoursService
	MarketData    domain.MarketDataProvider
	MarketStream  *tradernet.MarketStream
	Brokers       *broker.Registry
	Decider       domain.DecisionProvider
	Backups       *reliability.BackupService

	// Services
	QuoteService     *marketdata.Service
	RegimeBuilder    *market_regime.ContextBuilder
	PortfolioService *portfolio.PortfolioService
	SafetyService    *trading.SafetyService
	ExitEngine       *exits.Engine
	Sizer            *sizing.KellySizer
	SnapshotService  *snapshots.Service
	Orchestrator     *orchestrator.Orchestrator

	closers []func() error
}

// Databases returns every database in open order
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.ArenaDB, c.LedgerDB, c.CacheDB}
}

// Close releases sinks, streams and databases in reverse order of creation
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}
