// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/eigenrisk/internal/config"
	"github.com/aristath/eigenrisk/internal/modules/calculations"
	"github.com/aristath/eigenrisk/internal/scheduler"
)

// walCheckSchedule runs the WAL check every 15 minutes.
const walCheckSchedule = "0 */15 * * * *"

// RegisterJobs creates the maintenance jobs and schedules them
// Returns JobInstances for manual triggering via API
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{
		CacheCleanup:        calculations.NewCleanupJob(container.CalculationCache, log),
		CheckWALCheckpoints: scheduler.NewCheckWALCheckpointsJob(log, container.CalculationsDB),
	}

	container.Scheduler = scheduler.New(log)
	if err := container.Scheduler.AddJob(cfg.CacheCleanupSchedule, instances.CacheCleanup); err != nil {
		return nil, fmt.Errorf("failed to register cache cleanup job: %w", err)
	}
	if err := container.Scheduler.AddJob(walCheckSchedule, instances.CheckWALCheckpoints); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	return instances, nil
}
