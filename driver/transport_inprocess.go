package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/variables"
)

// Callable is an in-process evaluation function registered against an
// interface id, used by InProcessTransport. It bypasses the filesystem
// entirely: parameters arrive as typed values and results return as a
// Response directly.
type Callable func(ctx context.Context, vars variables.Set, set activeset.Set) (*response.Response, error)

// InProcessTransport dispatches a job to a registered Callable by
// interface id instead of launching a process, grounded on
// executor/executor.go's Registry: a slice of named handlers, picked by a
// matching predicate (there, CanHandle; here, the job's InterfaceID).
type InProcessTransport struct {
	mu        sync.RWMutex
	callables map[string]Callable
}

// NewInProcessTransport constructs an empty registry.
func NewInProcessTransport() *InProcessTransport {
	return &InProcessTransport{callables: make(map[string]Callable)}
}

func (t *InProcessTransport) Name() string { return "in-process" }

// Register binds a Callable to an interface id.
func (t *InProcessTransport) Register(interfaceID string, fn Callable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callables[interfaceID] = fn
}

// Launch looks up job.InterfaceID and invokes the registered Callable
// directly with the variables/active-set the Filing strategy placed in
// LaunchContext, returning its Response in Outcome.
func (t *InProcessTransport) Launch(ctx context.Context, job Job, lc LaunchContext) Outcome {
	t.mu.RLock()
	fn, ok := t.callables[job.InterfaceID]
	t.mu.RUnlock()
	if !ok {
		return Outcome{Err: fmt.Errorf("%w: no callable registered for interface %q", ErrEvaluationFailure, job.InterfaceID)}
	}

	resp, err := fn(ctx, lc.InMemoryVars, lc.InMemorySet)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: %v", ErrEvaluationFailure, err)}
	}
	if resp == nil {
		return Outcome{Err: ErrInvalidResponse}
	}
	return Outcome{Response: resp}
}
