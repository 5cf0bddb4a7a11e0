// Package dispatch runs a fixed list of tasks over a bounded pool of
// workers, reporting per-task progress and collecting one result per task.
//
// A Controller owns the pool for the duration of a single run: Start seeds
// the queue and spins up min(concurrency, len(tasks)) workers, each worker
// executes one task at a time and posts its outcome back to a single
// coordinating goroutine, and the run ends when every task has produced a
// result or Stop is called. A serial mode executes the same contract on one
// goroutine in strict input order.
package dispatch

import "context"

// Task is one unit of work. IDs must be unique within a run; the package
// does not deduplicate beyond that caller discipline.
type Task[T any] struct {
	ID      string
	Payload T
}

// Func executes one task payload. Implementations are supplied by the
// caller; the pool treats them as opaque.
type Func[T, R any] func(ctx context.Context, payload T) (R, error)

// Result is the outcome of exactly one task. Err is non-empty on failure,
// in which case Value holds the zero value.
type Result[R any] struct {
	ID    string
	Value R
	Err   string
}

// Failed reports whether the task produced an error instead of a value.
func (r Result[R]) Failed() bool { return r.Err != "" }

// Callbacks receive run progress. OnProgress fires once after every task
// completion with a strictly increasing completed count. OnComplete fires at
// most once per run, only when every task has produced a result, and never
// from inside a completion handler, so state changed by it cannot re-enter
// the run that triggered it.
type Callbacks[R any] struct {
	OnProgress func(completed, total int)
	OnComplete func(results []Result[R])
}
