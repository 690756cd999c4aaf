// Package orchestrator drives the trading cycle: one shared market snapshot,
// then an isolated session per agent, then one performance snapshot each.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/market_regime"
	"github.com/aristath/arena/internal/modules/exits"
	"github.com/aristath/arena/internal/modules/marketdata"
	"github.com/aristath/arena/internal/modules/portfolio"
	"github.com/aristath/arena/internal/modules/sizing"
	"github.com/aristath/arena/internal/modules/snapshots"
	"github.com/aristath/arena/internal/modules/trading"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	eventModule              = "orchestrator"
	defaultMaxParallelAgents = 4
)

// Config holds the orchestrator's collaborators and universe
type Config struct {
	Agents    domain.AgentRepository
	Positions domain.PositionRepository
	Decisions domain.DecisionRepository
	Decider   domain.DecisionProvider

	MarketData *marketdata.Service
	Regime     *market_regime.ContextBuilder
	Portfolio  *portfolio.PortfolioService
	Exits      *exits.Engine
	Sizer      *sizing.KellySizer
	Safety     *trading.SafetyService
	Snapshots  *snapshots.Service
	Brokers    *broker.Registry
	Events     *events.Manager

	Universe          []string
	IndexSymbol       string
	VolatilitySymbol  string
	SectorSymbols     map[string]string
	MaxParallelAgents int

	Log zerolog.Logger
}

// Orchestrator runs trading cycles. Cycles never overlap; within a cycle
// agents run in parallel, each under its own session lock.
type Orchestrator struct {
	agents    domain.AgentRepository
	positions domain.PositionRepository
	decisions domain.DecisionRepository
	decider   domain.DecisionProvider

	market    *marketdata.Service
	regime    *market_regime.ContextBuilder
	portfolio *portfolio.PortfolioService
	exits     *exits.Engine
	sizer     *sizing.KellySizer
	safety    *trading.SafetyService
	snapshots *snapshots.Service
	brokers   *broker.Registry
	events    *events.Manager

	universe    []string
	index       string
	volatility  string
	sectors     []string
	parallelism int

	now        func() time.Time
	lastReport *CycleReport
	locks      sync.Map // agent ID -> *sync.Mutex
	log        zerolog.Logger
	reportMu   sync.RWMutex
	running    atomic.Bool
}

// New creates a new orchestrator
func New(cfg Config) *Orchestrator {
	parallelism := cfg.MaxParallelAgents
	if parallelism < 1 {
		parallelism = defaultMaxParallelAgents
	}

	sectors := make([]string, 0, len(cfg.SectorSymbols))
	for symbol := range cfg.SectorSymbols {
		sectors = append(sectors, symbol)
	}
	sort.Strings(sectors)

	return &Orchestrator{
		agents:      cfg.Agents,
		positions:   cfg.Positions,
		decisions:   cfg.Decisions,
		decider:     cfg.Decider,
		market:      cfg.MarketData,
		regime:      cfg.Regime,
		portfolio:   cfg.Portfolio,
		exits:       cfg.Exits,
		sizer:       cfg.Sizer,
		safety:      cfg.Safety,
		snapshots:   cfg.Snapshots,
		brokers:     cfg.Brokers,
		events:      cfg.Events,
		universe:    cfg.Universe,
		index:       cfg.IndexSymbol,
		volatility:  cfg.VolatilitySymbol,
		sectors:     sectors,
		parallelism: parallelism,
		now:         time.Now,
		log:         cfg.Log.With().Str("service", "orchestrator").Logger(),
	}
}

// IsRunning reports whether a cycle is in progress
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// LastReport returns the most recent completed cycle, or nil
func (o *Orchestrator) LastReport() *CycleReport {
	o.reportMu.RLock()
	defer o.reportMu.RUnlock()
	return o.lastReport
}

// WithAgentLock runs fn while holding the agent's session lock. Operator
// actions that touch an agent's book go through here so they never
// interleave with a cycle.
func (o *Orchestrator) WithAgentLock(agentID string, fn func() error) error {
	mu := o.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (o *Orchestrator) lockFor(agentID string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(agentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// RunCycle runs one full trading cycle. A second call while a cycle is in
// progress returns domain.ErrCycleInProgress. Per-agent failures never fail
// the cycle; only an unusable market snapshot does.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, domain.ErrCycleInProgress
	}
	defer o.running.Store(false)

	report := &CycleReport{ID: uuid.NewString(), StartedAt: o.now()}
	log := o.log.With().Str("cycle_id", report.ID).Logger()

	agents, err := o.agents.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list active agents: %w", err)
	}

	symbols := o.cycleSymbols(agents)
	report.Symbols = len(symbols)
	o.events.Emit(eventModule, &events.CycleStartedData{CycleID: report.ID, Agents: len(agents), Symbols: len(symbols)})
	log.Info().Int("agents", len(agents)).Int("symbols", len(symbols)).Msg("Starting trading cycle")

	snap, err := o.market.BuildSnapshot(ctx, symbols, o.index)
	if err != nil {
		o.events.EmitError(eventModule, err, map[string]interface{}{"cycle_id": report.ID, "stage": "snapshot"})
		return nil, fmt.Errorf("failed to build quote snapshot: %w", err)
	}

	mctx, err := o.regime.Build(snap)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build market context, using last known")
		mctx = o.regime.LatestContext()
	}
	if mctx == nil {
		mctx = &domain.MarketContext{BuiltAt: report.StartedAt, IndexSymbol: o.index, Regime: domain.RegimeNeutral}
	}
	report.Regime = mctx.Regime

	c := &cycle{
		o:    o,
		now:  report.StartedAt,
		snap: snap,
		mctx: mctx,
		log:  log,
	}

	report.Agents = make([]AgentReport, len(agents))
	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for i := range agents {
		i := i
		g.Go(func() error {
			report.Agents[i] = c.runAgent(ctx, agents[i])
			return nil
		})
	}
	_ = g.Wait()

	o.captureSnapshots(log, report)

	report.Halted = o.safety.IsHalted()
	report.CompletedAt = o.now()
	report.tally()

	o.events.Emit(eventModule, &events.CycleCompletedData{
		CycleID:     report.ID,
		Regime:      string(report.Regime),
		Agents:      len(report.Agents),
		Trades:      report.Trades,
		Vetoes:      report.Vetoes,
		Failures:    report.Failures,
		DurationSec: report.CompletedAt.Sub(report.StartedAt).Seconds(),
		Halted:      report.Halted,
	})

	o.reportMu.Lock()
	o.lastReport = report
	o.reportMu.Unlock()

	log.Info().
		Int("trades", report.Trades).
		Int("vetoes", report.Vetoes).
		Int("failures", report.Failures).
		Bool("halted", report.Halted).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("Trading cycle completed")

	return report, nil
}

// cycleSymbols is the universe plus every held symbol plus the market
// context inputs, deduplicated
func (o *Orchestrator) cycleSymbols(agents []domain.Agent) []string {
	var held []string
	for _, a := range agents {
		positions, err := o.positions.ListPositions(a.ID)
		if err != nil {
			o.log.Warn().Err(err).Str("agent_id", a.ID).Msg("Failed to list positions for quote refresh")
			continue
		}
		for _, p := range positions {
			held = append(held, p.Symbol)
		}
	}

	var extra []string
	if o.volatility != "" {
		extra = append(extra, o.volatility)
	}
	return marketdata.MergeSymbols(o.universe, held, extra, o.sectors)
}

// captureSnapshots takes one performance snapshot per agent, after every
// session has finished
func (o *Orchestrator) captureSnapshots(log zerolog.Logger, report *CycleReport) {
	now := o.now()
	for i := range report.Agents {
		ar := &report.Agents[i]

		agent, err := o.agents.GetAgent(ar.AgentID)
		if err != nil || agent == nil {
			log.Warn().Err(err).Str("agent_id", ar.AgentID).Msg("Failed to reload agent for snapshot")
			continue
		}
		ar.AccountValue = agent.AccountValue
		ar.CashBalance = agent.CashBalance

		positions, err := o.positions.ListPositions(agent.ID)
		if err != nil {
			log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Failed to list positions for snapshot")
			continue
		}
		if _, err := o.snapshots.Capture(now, agent, positions); err != nil {
			log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Failed to capture performance snapshot")
		}
	}
}
