// Package di provides dependency injection for services.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/eigenrisk/internal/config"
	"github.com/aristath/eigenrisk/internal/modules/calculations"
	"github.com/aristath/eigenrisk/internal/modules/covariance"
	"github.com/aristath/eigenrisk/pkg/metrics"
)

// InitializeServices creates the cache, metrics and estimator service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.CalculationsDB == nil {
		return fmt.Errorf("calculations database must be initialized first")
	}

	container.CalculationCache = calculations.NewCache(container.CalculationsDB.Conn(), log)
	container.Metrics = metrics.New()

	container.Profile = cfg.Profile
	if container.Profile == nil {
		profile, err := config.DefaultProfile()
		if err != nil {
			return fmt.Errorf("failed to build default estimator profile: %w", err)
		}
		container.Profile = profile
	}

	service := covariance.NewService(cfg.CacheTTL, log)
	service.SetCache(container.CalculationCache)
	service.SetMetrics(container.Metrics)
	container.CovarianceService = service

	return nil
}
