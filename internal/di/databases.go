// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/eigenrisk/internal/config"
	"github.com/aristath/eigenrisk/internal/database"
)

// InitializeDatabases opens calculations.db and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	calculationsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "calculations.db"),
		Profile: database.ProfileCache, // Results can always be recomputed
		Name:    "calculations",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize calculations database: %w", err)
	}

	if err := calculationsDB.Migrate(); err != nil {
		calculationsDB.Close()
		return nil, fmt.Errorf("failed to migrate calculations database: %w", err)
	}
	container.CalculationsDB = calculationsDB

	log.Info().Str("path", calculationsDB.Path()).Msg("Databases initialized")
	return container, nil
}
