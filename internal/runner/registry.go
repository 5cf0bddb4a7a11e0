// Package runner maps workload names to the task functions the dispatcher
// executes. The dispatcher treats every function as opaque; callers pick one
// by name when starting a run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fanout/internal/config"
	"fanout/internal/dispatch"
	"fanout/internal/modelclient"
)

// ErrUnknownRunner is returned when a run names a runner that is not
// registered in this deployment.
var ErrUnknownRunner = errors.New("unknown runner")

// Func is the concrete task function type used by the service: string
// payload in, string result out.
type Func = dispatch.Func[string, string]

// Registry holds the named runners available to this deployment.
type Registry struct {
	runners map[string]Func
}

// NewRegistry builds the default registry. The model runner is only
// registered when a model API endpoint is configured.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	r := &Registry{runners: make(map[string]Func)}
	r.Register("echo", Echo)
	r.Register("sleep", Sleep)

	if cfg.ModelAPIURL != "" {
		client := modelclient.New(cfg, logger)
		r.Register("model", Model(client))
	}

	return r
}

// Register adds or replaces a named runner.
func (r *Registry) Register(name string, fn Func) {
	r.runners[name] = fn
}

// Lookup resolves a runner by name.
func (r *Registry) Lookup(name string) (dispatch.Func[string, string], error) {
	fn, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRunner, name)
	}
	return fn, nil
}

// Names lists the registered runners in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Echo returns the payload unchanged. Default workload for wiring tests.
func Echo(ctx context.Context, payload string) (string, error) {
	return payload, nil
}

// Sleep parses the payload as a duration and waits it out, honoring
// cancellation. Useful for exercising pool behavior under slow tasks.
func Sleep(ctx context.Context, payload string) (string, error) {
	d, err := time.ParseDuration(payload)
	if err != nil {
		return "", fmt.Errorf("invalid sleep duration %q: %w", payload, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return fmt.Sprintf("slept %s", d), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Model sends each payload as a prompt to the remote model API and returns
// the completion text.
func Model(client *modelclient.Client) Func {
	return func(ctx context.Context, payload string) (string, error) {
		return client.Complete(ctx, payload)
	}
}
