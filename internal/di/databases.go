package di

import (
	"fmt"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the arena, ledger and cache databases
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	arena, ledger, cache, err := database.OpenAll(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open databases: %w", err)
	}

	container := &Container{ArenaDB: arena, LedgerDB: ledger, CacheDB: cache}
	for _, db := range container.Databases() {
		db := db
		container.onClose(db.Close)
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
