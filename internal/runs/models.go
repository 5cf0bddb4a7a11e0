// Package runs records dispatch runs and bridges the HTTP API to the
// dispatcher: a Manager owns one pool controller per active run and writes
// outcomes through to storage.
package runs

import "time"

// Run statuses. A run is running from start until it either collects every
// result (completed) or is stopped early (stopped).
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
)

// Run is one dispatched batch.
type Run struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Status      string     `gorm:"not null;index" json:"status"`
	Runner      string     `gorm:"not null" json:"runner"`
	Serial      bool       `json:"serial"`
	Concurrency int        `json:"concurrency"`
	TotalTasks  int        `json:"total_tasks"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime:milli" json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	Results []TaskResult `gorm:"foreignKey:RunID" json:"results,omitempty"`
}

// TaskResult is the stored outcome of one task within a run. Exactly one of
// Output/Error carries data. Position is the index in the collected result
// sequence: completion order for parallel runs, input order for serial ones.
type TaskResult struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	RunID    string `gorm:"not null;index;size:36" json:"-"`
	TaskID   string `gorm:"not null" json:"task_id"`
	Position int    `gorm:"not null" json:"position"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}
