package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanout/internal/logger"
)

const testTimeout = 5 * time.Second

// progressLog captures OnProgress calls so assertions can run after the fact.
type progressLog struct {
	mu    sync.Mutex
	calls [][2]int
}

func (p *progressLog) record(completed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int{completed, total})
}

func (p *progressLog) snapshot() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.calls...)
}

func makeTasks(n int) []Task[string] {
	tasks := make([]Task[string], n)
	for i := range tasks {
		tasks[i] = Task[string]{ID: fmt.Sprintf("t%d", i+1), Payload: fmt.Sprintf("p%d", i+1)}
	}
	return tasks
}

func waitForResults(t *testing.T, done <-chan []Result[string]) []Result[string] {
	t.Helper()
	select {
	case results := <-done:
		return results
	case <-time.After(testTimeout):
		t.Fatal("run did not complete in time")
		return nil
	}
}

func TestControllerParallelRun(t *testing.T) {
	echo := func(ctx context.Context, payload string) (string, error) {
		return payload, nil
	}

	t.Run("yields one result per task with matching ids", func(t *testing.T) {
		c := NewController(echo, logger.NewDiscard(), Options{})
		tasks := makeTasks(20)
		done := make(chan []Result[string], 1)

		c.Start(context.Background(), tasks, 4, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})

		results := waitForResults(t, done)
		require.Len(t, results, len(tasks))

		seen := make(map[string]bool, len(results))
		for _, res := range results {
			assert.False(t, seen[res.ID], "duplicate result for %s", res.ID)
			seen[res.ID] = true
			assert.False(t, res.Failed())
		}
		for _, task := range tasks {
			assert.True(t, seen[task.ID], "missing result for %s", task.ID)
		}
		assert.False(t, c.Running())
	})

	t.Run("progress increases by one up to the total", func(t *testing.T) {
		c := NewController(echo, logger.NewDiscard(), Options{})
		tasks := makeTasks(10)
		done := make(chan []Result[string], 1)
		var progress progressLog

		c.Start(context.Background(), tasks, 3, Callbacks[string]{
			OnProgress: progress.record,
			OnComplete: func(results []Result[string]) { done <- results },
		})
		waitForResults(t, done)

		calls := progress.snapshot()
		require.Len(t, calls, len(tasks))
		for i, call := range calls {
			assert.Equal(t, [2]int{i + 1, len(tasks)}, call)
		}
	})

	t.Run("onComplete fires exactly once", func(t *testing.T) {
		c := NewController(echo, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 4)

		c.Start(context.Background(), makeTasks(8), 8, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})
		waitForResults(t, done)

		select {
		case <-done:
			t.Fatal("onComplete fired more than once")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("never exceeds the requested concurrency", func(t *testing.T) {
		var inFlight, peak atomic.Int64
		fn := func(ctx context.Context, payload string) (string, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			return payload, nil
		}

		c := NewController(fn, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 1)
		c.Start(context.Background(), makeTasks(24), 3, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})
		waitForResults(t, done)

		assert.LessOrEqual(t, peak.Load(), int64(3))
	})

	t.Run("completes with zero workers on an empty task list", func(t *testing.T) {
		c := NewController(echo, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 1)

		c.Start(context.Background(), nil, 4, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})

		results := waitForResults(t, done)
		assert.Empty(t, results)
		assert.False(t, c.Running())
	})
}

func TestControllerFailures(t *testing.T) {
	t.Run("failing task is reported as an error result", func(t *testing.T) {
		fn := func(ctx context.Context, payload string) (string, error) {
			return "", errors.New("boom")
		}
		c := NewController(fn, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 1)

		c.Start(context.Background(), makeTasks(1), 1, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})

		results := waitForResults(t, done)
		require.Len(t, results, 1)
		assert.True(t, results[0].Failed())
		assert.NotEmpty(t, results[0].Err)
	})

	t.Run("failures count toward completion alongside successes", func(t *testing.T) {
		fn := func(ctx context.Context, payload string) (string, error) {
			if strings.HasSuffix(payload, "3") {
				return "", errors.New("rejected")
			}
			return payload, nil
		}
		c := NewController(fn, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 1)

		tasks := makeTasks(10)
		c.Start(context.Background(), tasks, 4, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})

		results := waitForResults(t, done)
		require.Len(t, results, len(tasks))

		failed := 0
		for _, res := range results {
			if res.Failed() {
				failed++
			}
		}
		assert.Equal(t, 1, failed) // only p3 matches
	})

	t.Run("panicking task fails without killing its worker", func(t *testing.T) {
		fn := func(ctx context.Context, payload string) (string, error) {
			if payload == "p2" {
				panic("task exploded")
			}
			return payload, nil
		}
		c := NewController(fn, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 1)

		// One worker, so every task passes through the worker that panicked.
		c.Start(context.Background(), makeTasks(5), 1, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})

		results := waitForResults(t, done)
		require.Len(t, results, 5)
		for _, res := range results {
			if res.ID == "t2" {
				assert.Contains(t, res.Err, "panic")
			} else {
				assert.False(t, res.Failed(), "task %s should have survived", res.ID)
			}
		}
	})
}

func TestControllerSerialRun(t *testing.T) {
	echo := func(ctx context.Context, payload string) (string, error) {
		return payload, nil
	}

	t.Run("results preserve input order exactly", func(t *testing.T) {
		c := NewController(echo, logger.NewDiscard(), Options{Serial: true})
		tasks := makeTasks(4)
		done := make(chan []Result[string], 1)
		var progress progressLog

		c.Start(context.Background(), tasks, 2, Callbacks[string]{
			OnProgress: progress.record,
			OnComplete: func(results []Result[string]) { done <- results },
		})

		results := waitForResults(t, done)
		require.Len(t, results, 4)
		for i, res := range results {
			assert.Equal(t, tasks[i].ID, res.ID)
			assert.False(t, res.Failed())
		}

		assert.Equal(t, [][2]int{{1, 4}, {2, 4}, {3, 4}, {4, 4}}, progress.snapshot())
	})

	t.Run("stop from a progress callback halts between tasks", func(t *testing.T) {
		c := NewController(echo, logger.NewDiscard(), Options{Serial: true})
		done := make(chan []Result[string], 1)
		var progress progressLog

		c.Start(context.Background(), makeTasks(6), 1, Callbacks[string]{
			OnProgress: func(completed, total int) {
				progress.record(completed, total)
				if completed == 2 {
					c.Stop()
				}
			},
			OnComplete: func(results []Result[string]) { done <- results },
		})

		require.Eventually(t, func() bool { return !c.Running() },
			testTimeout, 5*time.Millisecond)

		assert.Len(t, progress.snapshot(), 2)
		select {
		case <-done:
			t.Fatal("onComplete must not fire for a stopped run")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestControllerStop(t *testing.T) {
	t.Run("stop mid-run, then a fresh start completes fully", func(t *testing.T) {
		gate := make(chan struct{})
		fn := func(ctx context.Context, payload string) (string, error) {
			select {
			case <-gate:
				return payload, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		c := NewController(fn, logger.NewDiscard(), Options{})
		tasks := makeTasks(4)
		firstDone := make(chan []Result[string], 1)

		c.Start(context.Background(), tasks, 2, Callbacks[string]{
			OnComplete: func(results []Result[string]) { firstDone <- results },
		})
		require.True(t, c.Running())

		c.Stop()
		assert.False(t, c.Running())
		c.Stop() // idempotent

		select {
		case <-firstDone:
			t.Fatal("stopped run must not deliver onComplete")
		case <-time.After(100 * time.Millisecond):
		}

		close(gate)
		secondDone := make(chan []Result[string], 1)
		c.Start(context.Background(), tasks, 2, Callbacks[string]{
			OnComplete: func(results []Result[string]) { secondDone <- results },
		})

		results := waitForResults(t, secondDone)
		require.Len(t, results, len(tasks))
		for _, res := range results {
			assert.False(t, res.Failed())
		}
	})

	t.Run("start while running is ignored", func(t *testing.T) {
		gate := make(chan struct{})
		fn := func(ctx context.Context, payload string) (string, error) {
			<-gate
			return payload, nil
		}
		c := NewController(fn, logger.NewDiscard(), Options{})
		done := make(chan []Result[string], 2)

		c.Start(context.Background(), makeTasks(3), 1, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})
		require.True(t, c.Running())

		// Ignored: a run is active.
		c.Start(context.Background(), makeTasks(50), 8, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})

		close(gate)
		results := waitForResults(t, done)
		assert.Len(t, results, 3)

		select {
		case <-done:
			t.Fatal("second start should never have run")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("reset clears state and allows a new run", func(t *testing.T) {
		echo := func(ctx context.Context, payload string) (string, error) {
			return payload, nil
		}
		c := NewController(echo, logger.NewDiscard(), Options{})
		c.Reset() // reset while idle is a no-op
		assert.False(t, c.Running())

		done := make(chan []Result[string], 1)
		c.Start(context.Background(), makeTasks(2), 2, Callbacks[string]{
			OnComplete: func(results []Result[string]) { done <- results },
		})
		assert.Len(t, waitForResults(t, done), 2)
	})
}
