package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/degiro-portfolio/internal/database"
	"github.com/rs/zerolog"
)

// Frames above which the WAL is reported as growing
const walFrameWarning = 1000

// CheckDatabasesJob verifies integrity and WAL checkpoint status of the
// SQLite databases
type CheckDatabasesJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob. Nil databases are skipped.
func NewCheckDatabasesJob(log zerolog.Logger, databases ...*database.DB) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		databases: databases,
		log:       log.With().Str("job", "check_databases").Logger(),
	}
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run executes the check. A failed integrity check fails the job.
func (j *CheckDatabasesJob) Run(ctx context.Context) error {
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Err(err).
				Str("database", db.Name()).
				Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed its health check: %w", db.Name(), err)
		}

		j.checkWAL(ctx, db)
		checked++
	}

	j.log.Info().Int("checked", checked).Msg("Database check completed")
	return nil
}

// checkWAL runs a passive checkpoint and reports the WAL size.
// PRAGMA wal_checkpoint returns: busy, log, checkpointed
func (j *CheckDatabasesJob) checkWAL(ctx context.Context, db *database.DB) {
	var busy, frames, checkpointed int
	err := db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().
			Err(err).
			Str("database", db.Name()).
			Msg("Failed to check WAL checkpoint")
		return
	}

	if frames > walFrameWarning {
		j.log.Warn().
			Str("database", db.Name()).
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
		return
	}
	j.log.Debug().
		Str("database", db.Name()).
		Int("wal_frames", frames).
		Msg("WAL checkpoint status OK")
}
