package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/eigenrisk/internal/database"
)

// DefaultWALFrameLimit is the WAL size above which the job truncates the log.
const DefaultWALFrameLimit = 1000

// CheckWALCheckpointsJob checkpoints the WAL of each database and truncates
// logs that grew past FrameLimit.
type CheckWALCheckpointsJob struct {
	log        zerolog.Logger
	databases  []*database.DB
	FrameLimit int
}

// NewCheckWALCheckpointsJob creates a new CheckWALCheckpointsJob
func NewCheckWALCheckpointsJob(log zerolog.Logger, databases ...*database.DB) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		log:        log.With().Str("job", "check_wal_checkpoints").Logger(),
		databases:  databases,
		FrameLimit: DefaultWALFrameLimit,
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run executes the check WAL checkpoints job
func (j *CheckWALCheckpointsJob) Run() error {
	checked := 0
	var firstErr error
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
			if firstErr == nil {
				firstErr = fmt.Errorf("wal checkpoint on %s: %w", db.Name(), err)
			}
			continue
		}

		if frames > j.FrameLimit {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, truncating")
			if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to truncate WAL")
			}
		} else {
			j.log.Debug().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL checkpoint status OK")
		}
		checked++
	}

	j.log.Info().Int("checked", checked).Msg("WAL checkpoint check completed")
	return firstErr
}
