package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/scheduler"
)

// SystemHandlers serves process, database and job status
type SystemHandlers struct {
	log       zerolog.Logger
	dbs       []*database.DB
	scheduler *scheduler.Scheduler
	eventBus  *events.Bus
	startedAt time.Time
}

// NewSystemHandlers creates system handlers. scheduler and eventBus may be nil.
func NewSystemHandlers(log zerolog.Logger, dbs []*database.DB, sched *scheduler.Scheduler, eventBus *events.Bus) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dbs:       dbs,
		scheduler: sched,
		eventBus:  eventBus,
		startedAt: time.Now(),
	}
}

// SystemStatusResponse represents process and host status
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LogicalCPUs   int     `json:"logical_cpus"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	StreamClients int     `json:"stream_clients"`
	DroppedEvents int64   `json:"dropped_events"`
	ScheduledJobs int     `json:"scheduled_jobs"`
}

// DatabaseStatsResponse represents per-database file statistics
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// DBInfo represents one database
type DBInfo struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	PageCount int64   `json:"page_count"`
	Error     string  `json:"error,omitempty"`
}

// JobsStatusResponse represents the registered background jobs
type JobsStatusResponse struct {
	TotalJobs int                 `json:"total_jobs"`
	Jobs      []scheduler.JobInfo `json:"jobs"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := SystemStatusResponse{
		Status:        "healthy",
		Uptime:        time.Since(h.startedAt).Round(time.Second).String(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		LogicalCPUs:   runtime.NumCPU(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(memStats.HeapAlloc) / 1024 / 1024,
	}
	if h.eventBus != nil {
		response.StreamClients = h.eventBus.Subscribers()
		response.DroppedEvents = h.eventBus.Dropped()
	}
	if h.scheduler != nil {
		response.ScheduledJobs = len(h.scheduler.Jobs())
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	response := DatabaseStatsResponse{
		Databases:   make([]DBInfo, 0, len(h.dbs)),
		LastChecked: time.Now().Format(time.RFC3339),
	}

	for _, db := range h.dbs {
		info := DBInfo{Name: db.Name(), Path: db.Path()}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("db", db.Name()).Msg("Failed to get database stats")
			info.Error = err.Error()
		} else {
			info.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			info.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
			info.PageCount = stats.PageCount
			response.TotalSizeMB += info.SizeMB + info.WALSizeMB
		}
		response.Databases = append(response.Databases, info)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobsStatus handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.scheduler != nil {
		jobs = h.scheduler.Jobs()
	}

	h.writeJSON(w, http.StatusOK, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	})
}

// HandleTriggerJob handles POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.scheduler == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Scheduler is not running",
		})
		return
	}

	err := h.scheduler.Trigger(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Unknown job: " + name,
		})
	case errors.Is(err, scheduler.ErrJobRunning):
		h.writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "error",
			"message": "Job is already running: " + name,
		})
	case err != nil:
		h.log.Error().Err(err).Str("job", name).Msg("Failed to trigger job")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
	default:
		h.writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "success",
			"message": "Job triggered: " + name,
		})
	}
}

// getSystemStats calculates CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
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

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
