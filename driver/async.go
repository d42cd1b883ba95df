package driver

import (
	"context"
	"sync"

	"github.com/evalgo-org/evalcore/response"
)

// AsyncResult is one completed asynchronous evaluation, returned in a batch
// by WaitLocal/TestLocal.
type AsyncResult struct {
	EvaluationID int64
	Response     *response.Response
	Err          error
}

// asyncTable tracks in-flight and completed asynchronous evaluations,
// grounded on worker/pool.go's channel-driven completion signaling:
// DerivedMapAsync launches a goroutine per job (standing in for pool.go's
// per-worker goroutine) that reports onto a shared completed channel when
// done, rather than blocking the caller.
type asyncTable struct {
	mu        sync.Mutex
	results   map[int64]AsyncResult
	completed chan int64
}

func newAsyncTable() *asyncTable {
	return &asyncTable{
		results:   make(map[int64]AsyncResult),
		completed: make(chan int64, 1024),
	}
}

func (t *asyncTable) store(res AsyncResult) {
	t.mu.Lock()
	t.results[res.EvaluationID] = res
	t.mu.Unlock()
	t.completed <- res.EvaluationID
}

// drainReady returns every result that has completed without blocking.
func (t *asyncTable) drainReady() []AsyncResult {
	var out []AsyncResult
	for {
		select {
		case id := <-t.completed:
			t.mu.Lock()
			if r, ok := t.results[id]; ok {
				out = append(out, r)
				delete(t.results, id)
			}
			t.mu.Unlock()
		default:
			return out
		}
	}
}

// waitOne blocks until at least one result is available, then drains
// everything else that has completed since.
func (t *asyncTable) waitOne(ctx context.Context) ([]AsyncResult, error) {
	select {
	case id := <-t.completed:
		t.mu.Lock()
		r, ok := t.results[id]
		delete(t.results, id)
		t.mu.Unlock()
		out := make([]AsyncResult, 0, 1)
		if ok {
			out = append(out, r)
		}
		return append(out, t.drainReady()...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DerivedMapAsync is the non-blocking evaluation path (§4.A): it launches
// the same Prepare→Launch→ReadResult sequence as DerivedMap on a goroutine,
// registers (process-handle → evaluation-id) implicitly via the async
// table, and returns immediately.
func (d *Driver) DerivedMapAsync(ctx context.Context, job Job) {
	go func() {
		resp, err := d.DerivedMap(ctx, job)
		d.async.store(AsyncResult{EvaluationID: job.EvaluationID, Response: resp, Err: err})
	}()
}

// WaitLocal blocks until at least one registered async job completes, then
// returns it along with every other job that has completed since the last
// WaitLocal/TestLocal call.
func (d *Driver) WaitLocal(ctx context.Context) ([]AsyncResult, error) {
	return d.async.waitOne(ctx)
}

// TestLocal returns immediately with every async job that has completed
// since the last WaitLocal/TestLocal call, or an empty slice if none have.
func (d *Driver) TestLocal() []AsyncResult {
	return d.async.drainReady()
}
