// Package driver implements the process/transport driver: it launches an
// external analysis driver (or calls an in-process function, or hands work
// to a plugin queue) to turn a ParamResponsePair request into a populated
// Response. Two compositional pieces, grounded on
// transport/transport.go's Factory/TransportType strategy and
// executor/executor.go's Executor/Registry, make up one Driver: a
// Transport (how to launch and wait) and a Filing (how parameters and
// results are marshalled).
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/variables"
)

// Job is one unit of work handed to a Transport: everything it needs to
// launch a driver and interpret the result, independent of how parameters
// and results are marshalled.
type Job struct {
	EvaluationID int64
	InterfaceID  string
	Variables    variables.Set
	ActiveSet    activeset.Set
	DriverNames  []string // one or more analysis drivers, run in order
	InputFilter  string
	OutputFilter string
}

// Outcome is the explicit result type a Transport call produces, replacing
// the exceptions the original C++ core used for control flow (§9).
type Outcome struct {
	Response *response.Response
	Err      error // nil, ErrEvaluationFailure, or ErrInvalidResponse (both wrapped)
}

// Error kinds (§7).
var (
	ErrEvaluationFailure = errors.New("driver: evaluation failure")
	ErrInvalidResponse   = errors.New("driver: invalid response")
)

// Transport is the strategy for "launch and wait". Variants: system-shell,
// fork-exec, in-process, plugin.
type Transport interface {
	// Launch runs job to completion (or failure). lc carries whatever the
	// Filing strategy prepared (file paths, a work directory, or nothing).
	// A Transport that can produce a Response directly (in-process,
	// plugin) sets Outcome.Response; one that only launches a process
	// (system-shell, fork-exec) leaves it nil and the caller's Filing
	// reads the results file afterward. The exception is a system-shell
	// job with several drivers, whose summed Response is set directly.
	Launch(ctx context.Context, job Job, lc LaunchContext) Outcome
	// Name identifies the transport for logging and configuration.
	Name() string
}

// Filing is the strategy for parameter/results marshalling. Variants:
// file (writes parameter/results files, manages work directories) and
// in-memory (passes structured data directly, used by the in-process
// transport).
type Filing interface {
	// Prepare returns whatever launch-time context (file paths, a work
	// directory) the Transport needs, and a cleanup function to run after
	// the driver completes.
	Prepare(job Job) (LaunchContext, func(), error)
	// ReadResult parses the driver's output back into a Response, or
	// returns ErrInvalidResponse / ErrEvaluationFailure.
	ReadResult(job Job, lc LaunchContext) (*response.Response, error)
}

// LaunchContext carries whatever a Filing strategy produced for one job:
// file paths for the file Filing, nothing for the in-memory Filing.
type LaunchContext struct {
	ParamsPath  string
	ResultsPath string
	WorkDir     string
	// InMemoryVars/InMemorySet let the in-process transport hand the
	// request straight to a registered callable without ever touching a
	// filesystem path.
	InMemoryVars variables.Set
	InMemorySet  activeset.Set
}

// Driver composes one Transport with one Filing and is the component's
// public surface: derived_map / derived_map_async / wait_local / test_local.
type Driver struct {
	transport Transport
	filing    Filing
	async     *asyncTable
}

// New composes a Driver from a transport and filing strategy.
func New(transport Transport, filing Filing) *Driver {
	return &Driver{
		transport: transport,
		filing:    filing,
		async:     newAsyncTable(),
	}
}

// Transport returns the Driver's underlying launch strategy, for callers
// that need to drive it directly (the batch evaluation path shares one
// transport invocation across many jobs instead of going through
// DerivedMap per job).
func (d *Driver) Transport() Transport {
	return d.transport
}

// DerivedMap is the blocking evaluation path: build files/work directory,
// launch, wait, read results.
func (d *Driver) DerivedMap(ctx context.Context, job Job) (*response.Response, error) {
	lc, cleanup, err := d.filing.Prepare(job)
	if err != nil {
		return nil, fmt.Errorf("driver: preparing job %d: %w", job.EvaluationID, err)
	}
	defer cleanup()

	outcome := d.transport.Launch(ctx, job, lc)
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	if outcome.Response != nil {
		return outcome.Response, nil
	}

	resp, err := d.filing.ReadResult(job, lc)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
