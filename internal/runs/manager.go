package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"fanout/internal/config"
	"fanout/internal/dispatch"
)

// RunnerSource resolves a runner name to the task function it executes.
type RunnerSource interface {
	Lookup(name string) (dispatch.Func[string, string], error)
}

// DuplicateTaskIDError reports a task id submitted twice in one batch.
type DuplicateTaskIDError struct {
	TaskID string
}

func (e *DuplicateTaskIDError) Error() string {
	return fmt.Sprintf("duplicate task id: %s", e.TaskID)
}

// Manager starts and tracks dispatch runs. Every run gets its own pool
// controller; nothing is shared between concurrent runs. Progress counters
// are written through to storage as tasks complete; results and the final
// status when a run ends.
type Manager struct {
	db      *gorm.DB
	cfg     *config.Config
	runners RunnerSource
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun pairs a controller with live counters fed by its callbacks.
type activeRun struct {
	controller *dispatch.Controller[string, string]
	completed  atomic.Int64
	failed     atomic.Int64
}

// StartInput describes one batch submission.
type StartInput struct {
	Tasks       []dispatch.Task[string]
	Concurrency int
	Runner      string
	Serial      bool
}

// NewManager creates a run manager.
func NewManager(db *gorm.DB, cfg *config.Config, runners RunnerSource, logger *slog.Logger) *Manager {
	return &Manager{
		db:      db,
		cfg:     cfg,
		runners: runners,
		logger:  logger,
		active:  make(map[string]*activeRun),
	}
}

// StartRun validates the batch, records it, and starts its pool. It returns
// as soon as the run is dispatched.
func (m *Manager) StartRun(input StartInput) (*Run, error) {
	name := input.Runner
	if name == "" {
		name = "echo"
	}
	fn, err := m.runners.Lookup(name)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(input.Tasks))
	for _, task := range input.Tasks {
		if task.ID == "" {
			return nil, errors.New("task id is required")
		}
		if seen[task.ID] {
			return nil, &DuplicateTaskIDError{TaskID: task.ID}
		}
		seen[task.ID] = true
	}

	concurrency := input.Concurrency
	if concurrency < 1 {
		concurrency = m.cfg.DefaultConcurrency
	}
	if concurrency > m.cfg.MaxConcurrency {
		concurrency = m.cfg.MaxConcurrency
	}
	serial := input.Serial || m.cfg.SerialDispatch

	run := &Run{
		ID:          uuid.NewString(),
		Runner:      name,
		Serial:      serial,
		Concurrency: concurrency,
		TotalTasks:  len(input.Tasks),
	}
	if err := CreateRun(m.db, run); err != nil {
		return nil, err
	}

	ar := &activeRun{}
	// The wrapper keeps a live failure count. Tasks cut short by run
	// cancellation are not failures; panics are re-raised so the pool still
	// records them as task results.
	exec := func(ctx context.Context, payload string) (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				ar.failed.Add(1)
				panic(r)
			}
		}()
		out, err = fn(ctx, payload)
		if err != nil && ctx.Err() == nil {
			ar.failed.Add(1)
		}
		return out, err
	}
	ar.controller = dispatch.NewController(exec, m.logger, dispatch.Options{Serial: serial})

	m.mu.Lock()
	m.active[run.ID] = ar
	m.mu.Unlock()

	runID := run.ID
	ar.controller.Start(context.Background(), input.Tasks, concurrency, dispatch.Callbacks[string]{
		OnProgress: func(completed, total int) {
			ar.completed.Store(int64(completed))
			if err := UpdateProgress(m.db, runID, completed, int(ar.failed.Load())); err != nil {
				m.logger.Warn("Failed to persist run progress",
					slog.String("run", runID),
					slog.Any("error", err))
			}
		},
		OnComplete: func(results []dispatch.Result[string]) {
			m.completeRun(runID, results)
		},
	})

	m.logger.Info("Run started",
		slog.String("run", run.ID),
		slog.String("runner", name),
		slog.Int("tasks", run.TotalTasks),
		slog.Int("concurrency", concurrency),
		slog.Bool("serial", serial))

	return run, nil
}

// completeRun persists a fully collected result set. The active entry is
// claimed under the lock so a racing StopRun cannot finish the run twice.
func (m *Manager) completeRun(runID string, results []dispatch.Result[string]) {
	m.mu.Lock()
	_, ok := m.active[runID]
	delete(m.active, runID)
	m.mu.Unlock()
	if !ok {
		return
	}

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}

	if err := FinishRun(m.db, runID, StatusCompleted, len(results), failed, results); err != nil {
		m.logger.Error("Failed to record completed run",
			slog.String("run", runID),
			slog.Any("error", err))
		return
	}

	m.logger.Info("Run completed",
		slog.String("run", runID),
		slog.Int("results", len(results)),
		slog.Int("failed", failed))
}

// StopRun stops an active run. Stopping a run that already finished is a
// no-op; an unknown id returns gorm.ErrRecordNotFound.
func (m *Manager) StopRun(runID string) error {
	m.mu.Lock()
	ar, ok := m.active[runID]
	delete(m.active, runID)
	m.mu.Unlock()

	if !ok {
		_, err := GetRun(m.db, runID)
		return err
	}

	ar.controller.Stop()

	// A stopped run stores its counters; result rows are kept only for
	// fully completed runs.
	err := FinishRun(m.db, runID, StatusStopped, int(ar.completed.Load()), int(ar.failed.Load()), nil)
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		// Completion won the race; the run is already terminal.
		return nil
	}
	if err != nil {
		return err
	}

	m.logger.Info("Run stopped", slog.String("run", runID))
	return nil
}

// StopAll stops every active run; used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopRun(id); err != nil {
			m.logger.Warn("Failed to stop run during shutdown",
				slog.String("run", id),
				slog.Any("error", err))
		}
	}
}

// GetRun loads a run, overlaying live progress while it is still active.
func (m *Manager) GetRun(runID string) (*Run, error) {
	run, err := GetRun(m.db, runID)
	if err != nil {
		return nil, err
	}
	m.overlayProgress(run)
	return run, nil
}

// ListRuns returns recent runs with live progress overlaid.
func (m *Manager) ListRuns(limit int) ([]Run, error) {
	out, err := ListRuns(m.db, limit)
	if err != nil {
		return nil, err
	}
	for i := range out {
		m.overlayProgress(&out[i])
	}
	return out, nil
}

// ActiveCount reports how many runs are currently executing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) overlayProgress(run *Run) {
	m.mu.Lock()
	ar, ok := m.active[run.ID]
	m.mu.Unlock()
	if ok {
		run.Completed = int(ar.completed.Load())
		run.Failed = int(ar.failed.Load())
	}
}
