package driver

import "github.com/evalgo-org/evalcore/response"

// MemoryFiling is the in-memory Filing strategy: it hands the job's
// variables and active set straight through LaunchContext without ever
// touching a filesystem path. It is paired with the in-process transport,
// whose registered callable reads InMemoryVars/InMemorySet directly and
// returns a Response in Outcome, so ReadResult is never actually invoked
// along that path — it exists to satisfy the Filing interface and to give
// a clear error if a transport misuses this pairing.
type MemoryFiling struct{}

// NewMemoryFiling constructs the in-memory Filing strategy.
func NewMemoryFiling() *MemoryFiling { return &MemoryFiling{} }

// Prepare returns a LaunchContext carrying the job's variables/active set
// directly; there is nothing to clean up.
func (MemoryFiling) Prepare(job Job) (LaunchContext, func(), error) {
	lc := LaunchContext{
		InMemoryVars: job.Variables,
		InMemorySet:  job.ActiveSet,
	}
	return lc, func() {}, nil
}

// ReadResult is unreachable in normal operation: the in-process transport
// always returns its Response directly in Outcome.
func (MemoryFiling) ReadResult(job Job, lc LaunchContext) (*response.Response, error) {
	return nil, ErrInvalidResponse
}
