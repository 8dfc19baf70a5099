package core

import (
	"context"
	"fmt"

	"seedlot/internal/config"
	"seedlot/internal/infra/persistence/memory"
	"seedlot/internal/infra/persistence/postgres"
	"seedlot/internal/infra/persistence/sqlite"
	"seedlot/pkg/domain"
)

// OpenPersistentStore selects a backend from cfg. An empty driver selects
// sqlite.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, engine *domain.RulesEngine) (PersistentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(engine), nil
	case config.StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
