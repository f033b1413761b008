// Package di wires the allocator's databases, clients and services.
package di

import (
	"github.com/aristath/allocator/internal/clients/yahoo"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/export"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/aristath/allocator/internal/modules/runs"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
)

// Container holds all dependencies for the application. It is created by
// Wire and shared by the server and the CLI.
type Container struct {
	// Databases
	RunsDB  *database.DB // run history
	CacheDB *database.DB // estimated return statistics

	// Repositories
	RunRepo    *runs.Repository
	StatsCache *returns.Cache

	// Clients
	YahooClient *yahoo.Client
	Uploader    export.Uploader // nil unless S3_BUCKET is set

	// Events and metrics
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Recorder

	// Services
	OptimizerService  *optimization.Service
	AllocationService *allocation.Service
	Pipeline          *allocation.Pipeline
}

// JobInstances holds the background jobs registered on the scheduler
type JobInstances struct {
	Scheduler        *scheduler.Scheduler
	AllocateUniverse *scheduler.AllocateUniverseJob // nil unless SCHEDULE is set
	PurgeCache       *scheduler.PurgeCacheJob
	Maintenance      *reliability.MaintenanceJob
	Backup           *reliability.BackupJob // nil unless S3_BUCKET is set
}

// Close closes all databases
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.RunsDB, c.CacheDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
