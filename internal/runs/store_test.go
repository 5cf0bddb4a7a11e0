package runs_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fanout/internal/dispatch"
	"fanout/internal/runs"
	"fanout/internal/testsupport"
)

func createTestRun(t *testing.T, db *gorm.DB, total int) *runs.Run {
	t.Helper()
	run := &runs.Run{
		ID:          uuid.NewString(),
		Runner:      "echo",
		Concurrency: 2,
		TotalTasks:  total,
	}
	require.NoError(t, runs.CreateRun(db, run))
	return run
}

func TestCreateRun(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	t.Run("creates a run in the running state", func(t *testing.T) {
		run := createTestRun(t, db, 3)

		loaded, err := runs.GetRun(db, run.ID)
		require.NoError(t, err)
		assert.Equal(t, runs.StatusRunning, loaded.Status)
		assert.Equal(t, 3, loaded.TotalTasks)
		assert.Empty(t, loaded.Results)
	})

	t.Run("rejects a run without an id", func(t *testing.T) {
		err := runs.CreateRun(db, &runs.Run{Runner: "echo"})
		assert.Error(t, err)
	})
}

func TestFinishRun(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	t.Run("stores results in collection order", func(t *testing.T) {
		run := createTestRun(t, db, 2)

		results := []dispatch.Result[string]{
			{ID: "t2", Value: "second"},
			{ID: "t1", Err: "boom"},
		}
		require.NoError(t, runs.FinishRun(db, run.ID, runs.StatusCompleted, 2, 1, results))

		loaded, err := runs.GetRun(db, run.ID)
		require.NoError(t, err)
		assert.Equal(t, runs.StatusCompleted, loaded.Status)
		assert.Equal(t, 2, loaded.Completed)
		assert.Equal(t, 1, loaded.Failed)
		require.NotNil(t, loaded.FinishedAt)

		require.Len(t, loaded.Results, 2)
		assert.Equal(t, "t2", loaded.Results[0].TaskID)
		assert.Equal(t, "second", loaded.Results[0].Output)
		assert.Equal(t, "t1", loaded.Results[1].TaskID)
		assert.Equal(t, "boom", loaded.Results[1].Error)
	})

	t.Run("finishing twice fails", func(t *testing.T) {
		run := createTestRun(t, db, 1)
		require.NoError(t, runs.FinishRun(db, run.ID, runs.StatusStopped, 0, 0, nil))

		err := runs.FinishRun(db, run.ID, runs.StatusCompleted, 1, 0, nil)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestGetRun(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	t.Run("unknown id reports record not found", func(t *testing.T) {
		_, err := runs.GetRun(db, uuid.NewString())
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestListRuns(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	for i := 0; i < 3; i++ {
		createTestRun(t, db, i+1)
	}

	t.Run("returns runs without results", func(t *testing.T) {
		out, err := runs.ListRuns(db, 10)
		require.NoError(t, err)
		assert.Len(t, out, 3)
		for _, run := range out {
			assert.Empty(t, run.Results)
		}
	})

	t.Run("honors the limit", func(t *testing.T) {
		out, err := runs.ListRuns(db, 2)
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})
}

func TestDeleteFinishedBefore(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	old := createTestRun(t, db, 1)
	require.NoError(t, runs.FinishRun(db, old.ID, runs.StatusCompleted, 1, 0,
		[]dispatch.Result[string]{{ID: "t1", Value: "ok"}}))
	// Backdate the finish time past the cutoff.
	backThen := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&runs.Run{}).
		Where("id = ?", old.ID).
		Update("finished_at", backThen).Error)

	fresh := createTestRun(t, db, 1)
	require.NoError(t, runs.FinishRun(db, fresh.ID, runs.StatusCompleted, 1, 0, nil))

	active := createTestRun(t, db, 1)

	deleted, err := runs.DeleteFinishedBefore(db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = runs.GetRun(db, old.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The old run's results are gone too.
	var orphaned int64
	require.NoError(t, db.Model(&runs.TaskResult{}).
		Where("run_id = ?", old.ID).Count(&orphaned).Error)
	assert.Zero(t, orphaned)

	for _, id := range []string{fresh.ID, active.ID} {
		_, err := runs.GetRun(db, id)
		assert.NoError(t, err)
	}
}
