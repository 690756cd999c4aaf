package di

import (
	"fmt"
	"time"

	"github.com/aristath/arena/internal/clientdata"
	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/reliability"
	"github.com/aristath/arena/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	walCheckSchedule    = "0 */15 * * * *"
	maintenanceSchedule = "0 0 3 * * *"
	cacheCleanSchedule  = "0 30 3 * * *"
	cycleTimeout        = 10 * time.Minute
)

// JobInstances holds the registered jobs for manual triggering
type JobInstances struct {
	TradingCycle   *scheduler.TradingCycleJob
	DailyRollover  *scheduler.DailyRolloverJob
	WALCheckpoints *scheduler.CheckWALCheckpointsJob
	Maintenance    *reliability.DailyMaintenanceJob
	CacheCleanup   *clientdata.CleanupJob
	Backup         *reliability.BackupService
}

type scheduled struct {
	spec string
	job  scheduler.Job
}

// RegisterJobs creates the background jobs and schedules them
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Orchestrator == nil {
		return nil, fmt.Errorf("services must be initialized first")
	}

	checkpointed := make([]scheduler.Checkpointed, 0, 3)
	maintained := make([]reliability.MaintainedDB, 0, 3)
	for _, db := range container.Databases() {
		checkpointed = append(checkpointed, db)
		maintained = append(maintained, db)
	}

	jobs := &JobInstances{
		TradingCycle:   scheduler.NewTradingCycleJob(container.Orchestrator, container.MarketHours, cycleTimeout, log),
		DailyRollover:  scheduler.NewDailyRolloverJob(container.SafetyService, container.HealthTracker, container.MarketHours, container.EventManager, log),
		WALCheckpoints: scheduler.NewCheckWALCheckpointsJob(checkpointed, log),
		Maintenance:    reliability.NewDailyMaintenanceJob(maintained, cfg.DataDir, log),
		CacheCleanup:   clientdata.NewCleanupJob(container.ClientData, log),
		Backup:         container.Backups,
	}

	schedules := []scheduled{
		{cfg.CycleSchedule, jobs.TradingCycle},
		{cfg.RolloverSchedule, jobs.DailyRollover},
		{walCheckSchedule, jobs.WALCheckpoints},
		{maintenanceSchedule, jobs.Maintenance},
		{cacheCleanSchedule, jobs.CacheCleanup},
	}
	if jobs.Backup != nil {
		schedules = append(schedules, scheduled{cfg.BackupSchedule, jobs.Backup})
	}

	for _, s := range schedules {
		if err := sched.AddJob(s.spec, s.job); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", s.job.Name(), err)
		}
	}

	return jobs, nil
}
