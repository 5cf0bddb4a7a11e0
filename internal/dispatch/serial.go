package dispatch

// runSerial is the sequential execution path: every task runs on this one
// goroutine in queue order, so the result sequence deterministically matches
// the input order. A stop request is honored between tasks, never mid-task.
// Also handles the empty-task run, which completes immediately.
func (c *Controller[T, R]) runSerial(rn *run[T, R]) {
	for !rn.stopped.Load() {
		task, ok := rn.queue.dequeueOne()
		if !ok {
			break
		}
		rn.record(c.execute(rn.ctx, task))
	}

	c.finish(rn)
	rn.cancel()

	if rn.completed == rn.total && rn.cb.OnComplete != nil {
		rn.cb.OnComplete(rn.results)
	}
}
