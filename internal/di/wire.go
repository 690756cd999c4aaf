package di

import (
	"fmt"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/scheduler"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order: databases, repositories, services, sinks, backups, jobs.
func Wire(cfg *config.Config, policy config.Policy, sched *scheduler.Scheduler, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	fail := func(step string, err error) (*Container, *JobInstances, error) {
		_ = container.Close()
		return nil, nil, fmt.Errorf("failed to initialize %s: %w", step, err)
	}

	if err := InitializeRepositories(container, log); err != nil {
		return fail("repositories", err)
	}
	if err := InitializeServices(container, cfg, policy, log); err != nil {
		return fail("services", err)
	}
	AttachSinks(container, cfg, log)
	if err := InitializeBackups(container, cfg, log); err != nil {
		return fail("backups", err)
	}

	jobs, err := RegisterJobs(container, cfg, sched, log)
	if err != nil {
		return fail("jobs", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, jobs, nil
}
