package di

import (
	"fmt"

	"github.com/aristath/arena/internal/clientdata"
	"github.com/aristath/arena/internal/market_regime"
	"github.com/aristath/arena/internal/modules/portfolio"
	"github.com/aristath/arena/internal/modules/snapshots"
	"github.com/aristath/arena/internal/modules/trading"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.ArenaDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	arena := container.ArenaDB.Conn()
	container.AgentRepo = portfolio.NewAgentRepository(arena, log)
	container.PositionRepo = portfolio.NewPositionRepository(arena, log)
	container.DecisionRepo = trading.NewDecisionRepository(arena, log)
	container.SnapshotRepo = snapshots.NewRepository(arena, log)

	container.TradeRepo = trading.NewTradeRepository(container.LedgerDB.Conn(), log)

	cache := container.CacheDB.Conn()
	container.RegimeHistory = market_regime.NewRegimePersistence(cache, log)
	container.RegimeCache = market_regime.NewContextCache(cache, log)
	container.ClientData = clientdata.NewRepository(cache)

	log.Debug().Msg("Repositories initialized")
	return nil
}
