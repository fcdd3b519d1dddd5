package di

import (
	"fmt"

	"github.com/aristath/degiro-portfolio/internal/clientdata"
	"github.com/aristath/degiro-portfolio/internal/config"
	"github.com/aristath/degiro-portfolio/internal/reliability"
	"github.com/aristath/degiro-portfolio/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed schedules for housekeeping jobs (cron with seconds)
const (
	checkDatabasesSchedule    = "0 0 * * * *"  // hourly
	clientDataCleanupSchedule = "0 15 * * * *" // hourly, quarter past
	dailyMaintenanceSchedule  = "0 0 3 * * *"  // 03:00 daily
)

// CreateJobs builds the background jobs
func CreateJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.MarketDataService == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	jobs := &JobInstances{
		UpdateMarketData:  scheduler.NewUpdateMarketDataJob(container.MarketDataService, log),
		CheckDatabases:    scheduler.NewCheckDatabasesJob(log, container.Databases()...),
		ClientDataCleanup: clientdata.NewCleanupJob(container.ClientDataRepo, log),
		DailyMaintenance:  reliability.NewDailyMaintenanceJob(cfg.DataDir, log, container.Databases()...),
	}
	if container.BackupService != nil {
		jobs.Backup = reliability.NewBackupJob(container.BackupService, reliability.DefaultRetentionDays, log)
	}
	return jobs, nil
}

// RegisterJobs adds the jobs to the scheduler. Jobs with an empty
// configured schedule are not registered.
func RegisterJobs(sched *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	entries := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.MarketDataSchedule, jobs.UpdateMarketData},
		{checkDatabasesSchedule, jobs.CheckDatabases},
		{clientDataCleanupSchedule, jobs.ClientDataCleanup},
		{dailyMaintenanceSchedule, jobs.DailyMaintenance},
	}
	if jobs.Backup != nil {
		entries = append(entries, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Backup.Schedule, jobs.Backup})
	}

	for _, e := range entries {
		if e.schedule == "" {
			continue
		}
		if err := sched.AddJob(e.schedule, e.job); err != nil {
			return err
		}
	}
	return nil
}
