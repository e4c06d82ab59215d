/**
 * Package di provides dependency injection type definitions.
 *
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to services.
 */
package di

import (
	"github.com/aristath/eigenrisk/internal/config"
	"github.com/aristath/eigenrisk/internal/database"
	"github.com/aristath/eigenrisk/internal/modules/calculations"
	"github.com/aristath/eigenrisk/internal/modules/covariance"
	"github.com/aristath/eigenrisk/internal/scheduler"
	"github.com/aristath/eigenrisk/pkg/metrics"
)

// Container holds all dependencies for the application.
type Container struct {
	// Databases
	CalculationsDB *database.DB

	// Services
	CalculationCache  *calculations.Cache
	CovarianceService *covariance.Service
	Metrics           *metrics.Recorder
	Profile           *config.EstimatorProfile

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered jobs for manual triggering via API
type JobInstances struct {
	CacheCleanup        scheduler.Job
	CheckWALCheckpoints scheduler.Job
}

// All returns the jobs keyed by name.
func (j *JobInstances) All() map[string]scheduler.Job {
	jobs := make(map[string]scheduler.Job)
	for _, job := range []scheduler.Job{j.CacheCleanup, j.CheckWALCheckpoints} {
		if job != nil {
			jobs[job.Name()] = job
		}
	}
	return jobs
}

// Close releases the container's databases.
func (c *Container) Close() error {
	if c.CalculationsDB != nil {
		return c.CalculationsDB.Close()
	}
	return nil
}
