package clientdata

import (
	"github.com/rs/zerolog"
)

// Expirer drops expired cache rows, per table
type Expirer interface {
	DeleteAllExpired() (map[string]int64, error)
}

// CleanupJob purges expired cache entries. Scheduled daily, outside market
// hours.
type CleanupJob struct {
	cache Expirer
	log   zerolog.Logger
}

// NewCleanupJob creates a new client data cleanup job.
func NewCleanupJob(cache Expirer, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache: cache,
		log:   log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}

// Run deletes expired entries and logs a per-table count
func (j *CleanupJob) Run() error {
	deleted, err := j.cache.DeleteAllExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to purge expired cache entries")
		return err
	}

	var total int64
	ev := j.log.Info()
	for table, n := range deleted {
		ev = ev.Int64(table, n)
		total += n
	}
	ev.Int64("total", total).Msg("Expired cache entries purged")
	return nil
}
