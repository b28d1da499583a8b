// Package backend opens the storage.Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/repository"
	"github.com/dharsanguruparan/SeedTrace/internal/sqlite"
	"github.com/dharsanguruparan/SeedTrace/internal/storage"
)

// Open returns the store for cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory, "":
		return storage.NewMemoryStore(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Shared reports whether separate processes see the same state through the
// configured driver.
func Shared(cfg *config.Config) bool {
	return cfg.StoreDriver == config.DriverSQLite || cfg.StoreDriver == config.DriverPostgres
}
