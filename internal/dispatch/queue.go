package dispatch

// taskQueue is the ordered backlog of pending work for one run. It is only
// touched from the run's coordinating goroutine, so it needs no locking.
// Tasks leave the queue exactly once; nothing is ever re-enqueued.
type taskQueue[T any] struct {
	items []Task[T]
}

// enqueueAll replaces the queue contents with the given tasks.
func (q *taskQueue[T]) enqueueAll(tasks []Task[T]) {
	q.items = append(q.items[:0:0], tasks...)
}

// dequeueOne removes and returns the oldest pending task.
func (q *taskQueue[T]) dequeueOne() (Task[T], bool) {
	if len(q.items) == 0 {
		var zero Task[T]
		return zero, false
	}
	task := q.items[0]
	q.items = q.items[1:]
	return task, true
}
