package runs

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fanout/internal/dispatch"
)

// CreateRun inserts a new run in the running state.
func CreateRun(db *gorm.DB, run *Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	run.Status = StatusRunning
	if err := db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun marks a run terminal and stores its collected results, if any,
// in one transaction.
func FinishRun(db *gorm.DB, runID, status string, completed, failed int, results []dispatch.Result[string]) error {
	now := time.Now().UTC()
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Run{}).
			Where("id = ? AND status = ?", runID, StatusRunning).
			Updates(map[string]any{
				"status":      status,
				"completed":   completed,
				"failed":      failed,
				"finished_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to finish run %s: %w", runID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("run %s is not running: %w", runID, gorm.ErrRecordNotFound)
		}

		for i, r := range results {
			row := TaskResult{
				RunID:    runID,
				TaskID:   r.ID,
				Position: i,
				Output:   r.Value,
				Error:    r.Err,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to store result for task %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// UpdateProgress updates the live counters of a running run.
func UpdateProgress(db *gorm.DB, runID string, completed, failed int) error {
	return db.Model(&Run{}).
		Where("id = ?", runID).
		Updates(map[string]any{"completed": completed, "failed": failed}).Error
}

// GetRun loads a run with its results ordered by collection position.
func GetRun(db *gorm.DB, runID string) (*Run, error) {
	var run Run
	err := db.Preload("Results", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	}).First(&run, "id = ?", runID).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first, without results.
func ListRuns(db *gorm.DB, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Run
	err := db.Order("created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// DeleteFinishedBefore prunes terminal runs older than cutoff together with
// their results. Returns the number of runs removed.
func DeleteFinishedBefore(db *gorm.DB, cutoff time.Time) (int64, error) {
	var deleted int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&Run{}).
			Where("status <> ? AND finished_at < ?", StatusRunning, cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("run_id IN ?", ids).Delete(&TaskResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Run{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return deleted, nil
}
