package jobs

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"fanout/internal/config"
	"fanout/internal/runs"
)

// CleanupJob prunes finished runs past the configured retention.
type CleanupJob struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *slog.Logger
}

func NewCleanupJob(db *gorm.DB, cfg *config.Config, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{db: db, cfg: cfg, logger: logger}
}

// Run deletes terminal runs whose finish time is older than the retention
// window. Active runs are never touched.
func (j *CleanupJob) Run() error {
	cutoff := time.Now().UTC().Add(-j.cfg.RunRetention())

	deleted, err := runs.DeleteFinishedBefore(j.db, cutoff)
	if err != nil {
		j.logger.Error("Failed to prune finished runs", slog.Any("error", err))
		return err
	}

	if deleted > 0 {
		j.logger.Info("Pruned finished runs",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
