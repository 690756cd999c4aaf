package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalFreeBytes = 500 << 20 // below this the job fails
	lowFreeBytes      = 5 << 30
)

// MaintainedDB is a database the daily job checks and checkpoints
type MaintainedDB interface {
	Name() string
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
}

// DailyMaintenanceJob checks integrity, truncates WAL files and watches free
// disk space under the data directory
type DailyMaintenanceJob struct {
	diskUsage func(path string) (*disk.UsageStat, error)
	databases []MaintainedDB
	dataDir   string
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases []MaintainedDB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		diskUsage: disk.Usage,
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job. An integrity failure or critically
// low disk space fails the job; checkpoint failures are only logged.
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database failed integrity check")
			return fmt.Errorf("database %s unhealthy: %w", db.Name(), err)
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().Dur("duration", time.Since(start)).Msg("Daily maintenance completed")
	return nil
}

func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9
	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Float64("free_gb", freeGB).Msg("Critically low disk space")
		return fmt.Errorf("only %.2f GB free under %s", freeGB, j.dataDir)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Float64("free_gb", freeGB).Float64("used_percent", usage.UsedPercent).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space OK")
	}
	return nil
}
