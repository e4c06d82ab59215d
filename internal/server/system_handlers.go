package server

import (
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/eigenrisk/internal/di"
	"github.com/aristath/eigenrisk/internal/modules/covariance"
	"github.com/aristath/eigenrisk/internal/scheduler"
)

// SystemHandlers serves process status and manual job triggers
type SystemHandlers struct {
	log         zerolog.Logger
	container   *di.Container
	jobs        map[string]scheduler.Job
	startupTime time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, container *di.Container, jobs *di.JobInstances) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		container:   container,
		jobs:        map[string]scheduler.Job{},
		startupTime: time.Now(),
	}
	if jobs != nil {
		h.jobs = jobs.All()
	}
	return h
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status       string         `json:"status"`
	UptimeHours  float64        `json:"uptime_hours"`
	CPUPercent   float64        `json:"cpu_percent"`
	RAMPercent   float64        `json:"ram_percent"`
	Goroutines   int            `json:"goroutines"`
	CacheEntries map[string]int `json:"cache_entries"`
	DatabaseMB   float64        `json:"database_mb"`
	Jobs         []string       `json:"jobs"`
	LastUpdated  string         `json:"last_updated"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:       "healthy",
		UptimeHours:  time.Since(h.startupTime).Hours(),
		CPUPercent:   cpuPercent,
		RAMPercent:   ramPercent,
		Goroutines:   runtime.NumGoroutine(),
		CacheEntries: map[string]int{},
		Jobs:         h.jobNames(),
		LastUpdated:  time.Now().Format(time.RFC3339),
	}

	if h.container != nil && h.container.CalculationCache != nil {
		counts, err := h.container.CalculationCache.Count()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count cache entries")
			response.Status = "degraded"
		} else {
			response.CacheEntries = counts
		}
	}
	if h.container != nil && h.container.CalculationsDB != nil {
		response.DatabaseMB = fileSizeMB(h.container.CalculationsDB.Path())
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// HandleListJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.jobNames()}, h.log)
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Unknown job " + name,
		}, h.log)
		return
	}

	var err error
	if h.container != nil && h.container.Scheduler != nil {
		err = h.container.Scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		}, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": name + " completed",
	}, h.log)
}

// HandleClearCache drops every cached result of one estimator
// DELETE /api/system/cache/{kind}
func (h *SystemHandlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != covariance.OperationRMT && kind != covariance.OperationSpiked {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Unknown cache kind " + kind,
		}, h.log)
		return
	}
	if h.container == nil || h.container.CalculationCache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "Cache is not configured",
		}, h.log)
		return
	}

	removed, err := h.container.CalculationCache.DeleteKind(kind)
	if err != nil {
		h.log.Error().Err(err).Str("kind", kind).Msg("Failed to clear cache")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		}, h.log)
		return
	}

	h.log.Info().Str("kind", kind).Int64("removed", removed).Msg("Cache cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"removed": removed,
	}, h.log)
}

func (h *SystemHandlers) jobNames() []string {
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getSystemStats returns CPU and RAM usage percentages
// CPU is sampled over 100ms to keep the call fast
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// fileSizeMB sums the database file and its WAL sidecar
func fileSizeMB(path string) float64 {
	var total int64
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return float64(total) / 1024 / 1024
}
