package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Options configure a Controller.
type Options struct {
	// Serial forces the sequential execution path: one goroutine, strict
	// input order. Used when concurrent execution is unwanted or
	// unavailable to the deployment.
	Serial bool
}

// Controller coordinates runs. At most one run is active per Controller;
// Start while a run is active is a no-op. All run state (queue, results,
// counters, worker slots) is owned by a single coordinating goroutine;
// workers communicate with it only through a completion channel.
type Controller[T, R any] struct {
	fn     Func[T, R]
	logger *slog.Logger
	opts   Options

	mu      sync.Mutex
	running bool
	cur     *run[T, R]
}

// run holds the state of one Start-to-stop cycle. A new Start always builds
// a fresh run; nothing is shared with a previous one.
type run[T, R any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	queue     taskQueue[T]
	total     int
	completed int
	results   []Result[R]
	cb        Callbacks[R]

	slots       map[int]*slot[T]
	completions chan completion[R]

	stopCh   chan struct{}
	stopOnce sync.Once
	termOnce sync.Once
	stopped  atomic.Bool
}

// completion is the message a worker posts back after executing one task.
type completion[R any] struct {
	slotID int
	res    Result[R]
}

// slot is the controller's handle to one worker's assignment lifecycle. Its
// mailbox holds at most the one task currently assigned to it.
type slot[T any] struct {
	id      int
	mailbox chan Task[T]
}

// dispatch hands a task to the slot's worker. It fails rather than blocks:
// a slot is only assigned after reporting its previous completion, so a full
// or closed mailbox means the slot is unusable for this task.
func (s *slot[T]) dispatch(task Task[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slot %d: dispatch: %v", s.id, r)
		}
	}()
	select {
	case s.mailbox <- task:
		return nil
	default:
		return fmt.Errorf("slot %d: mailbox full", s.id)
	}
}

// close terminates the slot's worker. Termination is best-effort; errors
// from an already-closed mailbox are swallowed.
func (s *slot[T]) close() {
	defer func() { _ = recover() }()
	close(s.mailbox)
}

// NewController builds a controller that executes tasks with fn.
func NewController[T, R any](fn Func[T, R], logger *slog.Logger, opts Options) *Controller[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller[T, R]{fn: fn, logger: logger, opts: opts}
}

// Start begins a run over tasks with the given worker count. It returns
// immediately; completions arrive through cb. If a run is already active the
// call is ignored. An empty task list completes at once with zero workers.
func (c *Controller[T, R]) Start(ctx context.Context, tasks []Task[T], concurrency int, cb Callbacks[R]) {
	c.mu.Lock()
	if c.running {
		c.logger.Debug("Run already in progress, ignoring start")
		c.mu.Unlock()
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	rn := &run[T, R]{
		ctx:    runCtx,
		cancel: cancel,
		total:  len(tasks),
		cb:     cb,
		stopCh: make(chan struct{}),
	}
	rn.queue.enqueueAll(tasks)
	rn.results = make([]Result[R], 0, rn.total)

	c.running = true
	c.cur = rn
	c.mu.Unlock()

	if c.opts.Serial || rn.total == 0 {
		go c.runSerial(rn)
		return
	}

	workers := concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > rn.total {
		workers = rn.total
	}

	// Buffered so an in-flight worker can always post its final completion
	// and exit, even after the collector has torn the run down.
	rn.completions = make(chan completion[R], workers)
	rn.slots = make(map[int]*slot[T], workers)
	for i := 0; i < workers; i++ {
		s := &slot[T]{id: i, mailbox: make(chan Task[T], 1)}
		rn.slots[s.id] = s
		go c.worker(rn, s)
	}

	c.logger.Debug("Run started",
		slog.Int("tasks", rn.total),
		slog.Int("workers", workers))

	go c.collect(rn)
}

// Stop ends the active run, if any: no further tasks are assigned, every
// worker is asked to terminate, and the controller returns to idle. In-flight
// task functions are cancelled through their context but not preempted.
// Idempotent, and safe to call from inside an OnProgress callback.
func (c *Controller[T, R]) Stop() {
	c.mu.Lock()
	rn := c.cur
	c.running = false
	c.mu.Unlock()

	if rn != nil {
		rn.stop()
	}
}

// Reset stops the active run and discards all queue, result, and counter
// state without starting a new run.
func (c *Controller[T, R]) Reset() {
	c.Stop()
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
}

// Running reports whether a run is active.
func (c *Controller[T, R]) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// worker executes tasks from its slot's mailbox until the mailbox closes,
// posting exactly one completion per assigned task.
func (c *Controller[T, R]) worker(rn *run[T, R], s *slot[T]) {
	for task := range s.mailbox {
		rn.completions <- completion[R]{slotID: s.id, res: c.execute(rn.ctx, task)}
	}
}

// execute runs one task, converting both errors and panics into a failed
// Result. A panic is a worker-level fault rather than a task return value,
// so it is logged; the slot stays alive either way.
func (c *Controller[T, R]) execute(ctx context.Context, task Task[T]) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Task panicked",
				slog.String("task", task.ID),
				slog.Any("panic", r))
			res = Result[R]{ID: task.ID, Err: fmt.Sprintf("panic: %v", r)}
		}
	}()

	value, err := c.fn(ctx, task.Payload)
	if err != nil {
		return Result[R]{ID: task.ID, Err: err.Error()}
	}
	return Result[R]{ID: task.ID, Value: value}
}

// collect is the run's coordinating goroutine: the only reader of the
// completion channel and the only code that touches the queue, the result
// sequence, the counters, or the slot set after Start returns.
func (c *Controller[T, R]) collect(rn *run[T, R]) {
	// Initial assignment happens here rather than in Start so the queue is
	// never touched from two goroutines.
	for id := range rn.slots {
		if rn.completed >= rn.total || rn.stopped.Load() {
			break
		}
		c.assignNext(rn, id)
	}

	for rn.completed < rn.total && !rn.stopped.Load() {
		select {
		case <-rn.stopCh:
		case msg := <-rn.completions:
			rn.record(msg.res)
			if rn.completed >= rn.total || rn.stopped.Load() {
				continue
			}
			c.assignNext(rn, msg.slotID)
		}
	}

	rn.terminate()
	c.finish(rn)
	rn.cancel()

	// Completion is delivered only for a fully completed run, after the
	// pool is stopped, so the callback may immediately start a new run.
	if rn.completed == rn.total && rn.cb.OnComplete != nil {
		rn.cb.OnComplete(rn.results)
	}
}

// assignNext hands the slot its next task. If the queue is empty the slot is
// terminated and released. A failed hand-off counts as a failed completion
// for that task and the slot moves on to the next one instead of idling.
func (c *Controller[T, R]) assignNext(rn *run[T, R], slotID int) {
	s, ok := rn.slots[slotID]
	if !ok {
		return
	}
	for {
		if rn.stopped.Load() {
			return
		}
		task, ok := rn.queue.dequeueOne()
		if !ok {
			s.close()
			delete(rn.slots, slotID)
			return
		}
		err := s.dispatch(task)
		if err == nil {
			return
		}
		c.logger.Warn("Dispatch failed, recording task as failed",
			slog.String("task", task.ID),
			slog.Any("error", err))
		rn.record(Result[R]{ID: task.ID, Err: err.Error()})
		if rn.completed >= rn.total {
			return
		}
	}
}

// finish returns the controller to idle, unless a newer run replaced rn.
func (c *Controller[T, R]) finish(rn *run[T, R]) {
	c.mu.Lock()
	if c.cur == rn {
		c.running = false
	}
	c.mu.Unlock()
}

// record appends one result and reports progress. Runs only on the
// coordinating goroutine, keeping completed == len(results) at every
// observation point.
func (rn *run[T, R]) record(res Result[R]) {
	rn.results = append(rn.results, res)
	rn.completed++
	if rn.cb.OnProgress != nil {
		rn.cb.OnProgress(rn.completed, rn.total)
	}
}

// stop flags the run as stopped and wakes the collector. Safe to call from
// any goroutine, any number of times.
func (rn *run[T, R]) stop() {
	rn.stopOnce.Do(func() {
		rn.stopped.Store(true)
		close(rn.stopCh)
		rn.cancel()
	})
}

// terminate releases every live slot exactly once.
func (rn *run[T, R]) terminate() {
	rn.termOnce.Do(func() {
		for id, s := range rn.slots {
			s.close()
			delete(rn.slots, id)
		}
	})
}
