package scheduler

import (
	"context"
	"testing"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/cache"
	"github.com/evalgo-org/evalcore/driver"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/topology"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareTransport() *driver.InProcessTransport {
	t := driver.NewInProcessTransport()
	t.Register("square", func(ctx context.Context, vars variables.Set, set activeset.Set) (*response.Response, error) {
		resp := response.New(set, []string{"f"})
		resp.Values[0] = vars.Continuous[0] * vars.Continuous[0]
		return resp, nil
	})
	return t
}

func squareJob(id int64, x float64) driver.Job {
	return driver.Job{
		EvaluationID: id,
		InterfaceID:  "square",
		Variables:    variables.Set{Continuous: []float64{x}},
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
	}
}

func TestDecideModeSynchronousLocal(t *testing.T) {
	mode := decideMode(Config{LocalConcurrency: 1})
	assert.Equal(t, modeSynchronousLocal, mode)
}

func TestDecideModeLocalAsync(t *testing.T) {
	mode := decideMode(Config{LocalConcurrency: 4})
	assert.Equal(t, modeLocalAsync, mode)
}

func TestDecideModeDedicatedMasterFromLevel(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 2, Scheduling: topology.SchedulingMaster})
	require.NoError(t, err)
	mode := decideMode(Config{Level: lvl})
	assert.Equal(t, modeDedicatedMaster, mode)
}

func TestDecideModeDedicatedMasterWhenMultiprocessorPrecludesLocal(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 2, PeerDynamicAvailable: true})
	require.NoError(t, err)
	mode := decideMode(Config{Level: lvl, Multiprocessor: true})
	assert.Equal(t, modeDedicatedMaster, mode)
}

func TestDecideModePeerDynamic(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 2, PeerDynamicAvailable: true})
	require.NoError(t, err)
	mode := decideMode(Config{Level: lvl})
	assert.Equal(t, modePeerDynamic, mode)
}

func TestDecideModePeerStatic(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 2, Scheduling: topology.SchedulingPeerStatic})
	require.NoError(t, err)
	mode := decideMode(Config{Level: lvl})
	assert.Equal(t, modePeerStatic, mode)
}

func TestSynchronousLocalRunsQueueInOrder(t *testing.T) {
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 1}, d, nil)

	for i := int64(1); i <= 3; i++ {
		s.Map(Request{Job: squareJob(i, float64(i))})
	}
	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 3)

	var ids []int64
	for id := range out {
		ids = append(ids, id)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, out[i].Err)
		assert.Equal(t, float64(i*i), out[i].Response.Values[0])
	}
}

func TestSynchronizeOutputKeyedByEvaluationID(t *testing.T) {
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 0}, d, nil)

	s.Map(Request{Job: squareJob(5, 5)})
	s.Map(Request{Job: squareJob(1, 1)})
	s.Map(Request{Job: squareJob(3, 3)})

	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	// The output map has no order; verify every key resolved correctly
	// regardless of completion order.
	require.Len(t, out, 3)
	assert.Equal(t, 25.0, out[5].Response.Values[0])
	assert.Equal(t, 1.0, out[1].Response.Values[0])
	assert.Equal(t, 9.0, out[3].Response.Values[0])
}

func TestLocalAsyncRespectsConcurrencyLimit(t *testing.T) {
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 2}, d, nil)

	for i := int64(1); i <= 5; i++ {
		s.Map(Request{Job: squareJob(i, float64(i))})
	}
	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 5)
	for i := int64(1); i <= 5; i++ {
		assert.Equal(t, float64(i*i), out[i].Response.Values[0])
	}
}

func TestLocalAsyncStaticLimitedSlotAssignment(t *testing.T) {
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 2, StaticLimited: true}, d, nil)

	for i := int64(0); i < 6; i++ {
		s.Map(Request{Job: squareJob(i, float64(i))})
	}
	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 6)
}

func TestSynchronizeNowaitReturnsOnlyReadyCompletions(t *testing.T) {
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 2}, d, nil)

	s.Map(Request{Job: squareJob(1, 1)})
	s.Map(Request{Job: squareJob(2, 2)})

	out, err := s.SynchronizeNowait(context.Background())
	require.NoError(t, err)
	// Non-blocking: never errors, but may legitimately observe 0, 1, or 2
	// completions depending on goroutine scheduling; just check no result
	// is ever reported twice and every key, if present, is correct.
	for id, outcome := range out {
		assert.Equal(t, float64(id*id), outcome.Response.Values[0])
	}

	// Drain whatever is left with a final blocking Synchronize.
	rest, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	total := len(out) + len(rest)
	assert.Equal(t, 2, total)
}

func TestMapResolvesHistoryDuplicateFromCache(t *testing.T) {
	c := cache.New(nil, nil)
	job := squareJob(1, 4)
	resp := response.New(job.ActiveSet, []string{"f"})
	resp.Values[0] = 16
	require.NoError(t, c.Insert(cache.Pair{
		EvaluationID: 1,
		InterfaceID:  job.InterfaceID,
		Variables:    job.Variables,
		ActiveSet:    job.ActiveSet,
		Response:     resp,
	}))

	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 1, CacheEnabled: true, Cache: c}, d, nil)

	// Same variables/interface, new evaluation id: resolves from cache
	// without ever reaching the driver, i.e. without being queued.
	dup := squareJob(2, 4)
	s.Map(Request{Job: dup})

	s.mu.Lock()
	pendingLen := len(s.pending)
	s.mu.Unlock()
	assert.Zero(t, pendingLen)

	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, int64(2))
	assert.Equal(t, 16.0, out[2].Response.Values[0])
}

func TestMapQueuesOnCacheMiss(t *testing.T) {
	c := cache.New(nil, nil)
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{LocalConcurrency: 1, CacheEnabled: true, Cache: c, NearbyTol: 0.01}, d, nil)

	s.Map(Request{Job: squareJob(1, 2)})
	s.mu.Lock()
	pendingLen := len(s.pending)
	s.mu.Unlock()
	assert.Equal(t, 1, pendingLen)

	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, out[1].Response.Values[0])
}

func TestDedicatedMasterDispatchesAllJobs(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 3, Scheduling: topology.SchedulingMaster})
	require.NoError(t, err)
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{Level: lvl, LocalConcurrency: 2}, d, nil)
	require.Equal(t, modeDedicatedMaster, s.mode)

	for i := int64(1); i <= 6; i++ {
		s.Map(Request{Job: squareJob(i, float64(i))})
	}
	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 6)
	for i := int64(1); i <= 6; i++ {
		require.NoError(t, out[i].Err)
		assert.Equal(t, float64(i*i), out[i].Response.Values[0])
	}
}

func TestPeerDynamicDispatchesAllJobs(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 3, PeerDynamicAvailable: true})
	require.NoError(t, err)
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{Level: lvl, LocalConcurrency: 2}, d, nil)
	require.Equal(t, modePeerDynamic, s.mode)

	for i := int64(1); i <= 7; i++ {
		s.Map(Request{Job: squareJob(i, float64(i))})
	}
	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 7)
	for i := int64(1); i <= 7; i++ {
		require.NoError(t, out[i].Err)
		assert.Equal(t, float64(i*i), out[i].Response.Values[0])
	}
}

func TestPeerStaticDispatchesAllJobs(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 3, Scheduling: topology.SchedulingPeerStatic})
	require.NoError(t, err)
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{Level: lvl, LocalConcurrency: 2}, d, nil)
	require.Equal(t, modePeerStatic, s.mode)

	for i := int64(1); i <= 9; i++ {
		s.Map(Request{Job: squareJob(i, float64(i))})
	}
	out, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 9)
	for i := int64(1); i <= 9; i++ {
		require.NoError(t, out[i].Err)
		assert.Equal(t, float64(i*i), out[i].Response.Values[0])
	}
}

func TestStopReleasesTopologyLevel(t *testing.T) {
	lvl, err := topology.Resolve(topology.Request{ParentSize: 4, RequestedServers: 2, Scheduling: topology.SchedulingMaster})
	require.NoError(t, err)
	d := driver.New(squareTransport(), driver.NewMemoryFiling())
	s := New(Config{Level: lvl}, d, nil)

	s.Stop()
	for _, c := range lvl.HubServerInterCommunicators() {
		assert.True(t, c.Closed())
	}
}
