package di

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/eigenrisk/internal/config"
	"github.com/aristath/eigenrisk/internal/modules/covariance"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	profile, err := config.DefaultProfile()
	require.NoError(t, err)
	return &config.Config{
		DataDir:              t.TempDir(),
		Port:                 8010,
		CacheTTL:             time.Hour,
		CacheCleanupSchedule: "0 0 * * * *",
		Profile:              profile,
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.CalculationsDB)
	assert.NotNil(t, container.CalculationCache)
	assert.NotNil(t, container.CovarianceService)
	assert.NotNil(t, container.Metrics)
	assert.NotNil(t, container.Scheduler)
	assert.Same(t, cfg.Profile, container.Profile)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "calculations.db"))

	require.NotNil(t, jobs)
	all := jobs.All()
	assert.Contains(t, all, "calculation_cache_cleanup")
	assert.Contains(t, all, "check_wal_checkpoints")
	assert.ElementsMatch(t, []string{"calculation_cache_cleanup", "check_wal_checkpoints"}, container.Scheduler.Jobs())

	for name, job := range all {
		assert.NoError(t, job.Run(), name)
	}
}

func TestWiredServiceUsesCache(t *testing.T) {
	container, _, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	rng := rand.New(rand.NewPCG(7, 8))
	rows := make([][]float64, 200)
	for i := range rows {
		market := rng.NormFloat64()
		rows[i] = make([]float64, 12)
		for j := range rows[i] {
			rows[i][j] = market + rng.NormFloat64()
		}
	}
	labels := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}
	r, err := covariance.NewReturnMatrix(labels, rows)
	require.NoError(t, err)

	opts := container.Profile.SpikedOptions()
	k := 1
	opts.NumSpikes = &k

	first, err := container.CovarianceService.Spiked(context.Background(), r, opts)
	require.NoError(t, err)
	second, err := container.CovarianceService.Spiked(context.Background(), r, opts)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Covariance, second.Covariance)

	counts, err := container.CalculationCache.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[covariance.OperationSpiked])
}

func TestWireRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheCleanupSchedule = "whenever"

	_, _, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestInitializeServicesNeedsDatabase(t *testing.T) {
	assert.Error(t, InitializeServices(&Container{}, testConfig(t), zerolog.Nop()))
}
