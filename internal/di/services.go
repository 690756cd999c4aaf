package di

import (
	"fmt"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clientdata"
	"github.com/aristath/arena/internal/clients/alpaca"
	"github.com/aristath/arena/internal/clients/decisions"
	"github.com/aristath/arena/internal/config"
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
	"github.com/aristath/arena/internal/services"
	"github.com/aristath/arena/internal/simulator"
	"github.com/rs/zerolog"
)

// InitializeServices builds the engines, the broker registry and the
// orchestrator on top of the repositories
func InitializeServices(container *Container, cfg *config.Config, policy config.Policy, log zerolog.Logger) error {
	if container == nil || container.AgentRepo == nil {
		return fmt.Errorf("repositories must be initialized first")
	}
	container.Policy = policy

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	container.HealthTracker = services.NewAPIHealthTracker(log)

	calendar, err := market_hours.NewMarketHoursService(policy.MarketHours)
	if err != nil {
		return fmt.Errorf("failed to create market calendar: %w", err)
	}
	container.MarketHours = calendar

	if cfg.Brokers.AlpacaKeyID == "" {
		log.Warn().Msg("Alpaca data credentials not configured, quote requests will be rejected upstream")
	}
	container.MarketData = clientdata.NewCachedProvider(
		alpaca.NewDataClient(alpacaConfig(cfg), container.HealthTracker, log),
		container.ClientData,
		log,
	)

	if cfg.DecisionProviderURL != "" {
		container.Decider = decisions.NewHTTPProvider(decisions.Config{
			BaseURL: cfg.DecisionProviderURL,
			Token:   cfg.DecisionProviderToken,
			Timeout: cfg.DecisionTimeout,
		}, container.HealthTracker, log)
	} else {
		log.Warn().Msg("No decision provider configured, every agent will hold")
		container.Decider = decisions.HoldProvider{}
	}

	container.QuoteService = marketdata.NewService(container.MarketData, log)
	container.RegimeBuilder = market_regime.NewContextBuilder(market_regime.BuilderConfig{
		Sectors:          cfg.SectorSymbols,
		IndexSymbol:      cfg.IndexSymbol,
		VolatilitySymbol: cfg.VolatilitySymbol,
	}, container.RegimeHistory, container.RegimeCache, log)
	if err := container.RegimeBuilder.WarmStart(); err != nil {
		log.Warn().Err(err).Msg("Failed to warm start market context")
	}

	container.PortfolioService = portfolio.NewPortfolioService(container.AgentRepo, container.PositionRepo, container.TradeRepo, log)
	container.SafetyService = trading.NewSafetyService(container.TradeRepo, calendar, container.HealthTracker, policy.Safety, log)
	container.ExitEngine = exits.NewEngine(policy.Exits, log)
	container.Sizer = sizing.NewKellySizer(policy.Sizing, policy.MarketAdjust, log)
	container.SnapshotService = snapshots.NewService(container.TradeRepo, container.SnapshotRepo, calendar, log)

	sim := simulator.New(container.MarketData, calendar, container.AgentRepo, container.PositionRepo, policy.Simulator, log)
	container.Brokers = broker.NewRegistry(sim, log)
	RegisterBrokers(container, cfg, log)

	container.Orchestrator = orchestrator.New(orchestrator.Config{
		Agents:            container.AgentRepo,
		Positions:         container.PositionRepo,
		Decisions:         container.DecisionRepo,
		Decider:           container.Decider,
		MarketData:        container.QuoteService,
		Regime:            container.RegimeBuilder,
		Portfolio:         container.PortfolioService,
		Exits:             container.ExitEngine,
		Sizer:             container.Sizer,
		Safety:            container.SafetyService,
		Snapshots:         container.SnapshotService,
		Brokers:           container.Brokers,
		Events:            container.EventManager,
		Universe:          cfg.Universe,
		IndexSymbol:       cfg.IndexSymbol,
		VolatilitySymbol:  cfg.VolatilitySymbol,
		SectorSymbols:     cfg.SectorSymbols,
		MaxParallelAgents: cfg.MaxParallelAgents,
		Log:               log,
	})

	log.Info().Int("live_brokers", len(container.Brokers.Kinds())).Msg("Services initialized")
	return nil
}

func alpacaConfig(cfg *config.Config) alpaca.Config {
	return alpaca.Config{
		KeyID:   cfg.Brokers.AlpacaKeyID,
		Secret:  cfg.Brokers.AlpacaSecret,
		BaseURL: cfg.Brokers.AlpacaBaseURL,
		DataURL: cfg.Brokers.AlpacaDataURL,
	}
}
