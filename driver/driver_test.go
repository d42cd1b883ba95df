package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedMapInProcess(t *testing.T) {
	transport := NewInProcessTransport()
	transport.Register("square", func(ctx context.Context, vars variables.Set, set activeset.Set) (*response.Response, error) {
		resp := response.New(set, []string{"f"})
		resp.Values[0] = vars.Continuous[0] * vars.Continuous[0]
		return resp, nil
	})

	d := New(transport, NewMemoryFiling())
	job := Job{
		EvaluationID: 1,
		InterfaceID:  "square",
		Variables:    variables.Set{Continuous: []float64{3}},
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
	}

	resp, err := d.DerivedMap(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 9.0, resp.Values[0])
}

func TestDerivedMapInProcessUnregisteredInterfaceFails(t *testing.T) {
	d := New(NewInProcessTransport(), NewMemoryFiling())
	job := Job{EvaluationID: 1, InterfaceID: "missing", ActiveSet: activeset.Set{Request: []int{activeset.Value}}}

	_, err := d.DerivedMap(context.Background(), job)
	require.ErrorIs(t, err, ErrEvaluationFailure)
}

func TestFileFilingRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ff, warning := NewFileFiling(FileConfig{
		ParamsFile:            filepath.Join(dir, "params"),
		ResultsFile:           filepath.Join(dir, "results"),
		AsyncLocalConcurrency: 1,
	})
	assert.Empty(t, warning)

	job := Job{
		EvaluationID: 7,
		InterfaceID:  "iface",
		Variables:    variables.Set{ContinuousLabels: []string{"x"}, Continuous: []float64{1.5}},
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
	}

	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	_, err = os.Stat(lc.ParamsPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(lc.ResultsPath, []byte(`{"labels":["f"],"values":[2.25]}`), 0644))

	resp, err := ff.ReadResult(job, lc)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.25}, resp.Values)
}

func TestFileFilingReportsFailSentinel(t *testing.T) {
	dir := t.TempDir()
	ff, _ := NewFileFiling(FileConfig{
		ParamsFile:  filepath.Join(dir, "params"),
		ResultsFile: filepath.Join(dir, "results"),
	})
	job := Job{EvaluationID: 1, ActiveSet: activeset.Set{Request: []int{activeset.Value}}}
	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, os.WriteFile(lc.ResultsPath, []byte(`{"fail":true}`), 0644))

	_, err = ff.ReadResult(job, lc)
	require.ErrorIs(t, err, ErrEvaluationFailure)
}

func TestFileFilingMissingGradientIsInvalidResponse(t *testing.T) {
	dir := t.TempDir()
	ff, _ := NewFileFiling(FileConfig{
		ParamsFile:  filepath.Join(dir, "params"),
		ResultsFile: filepath.Join(dir, "results"),
	})
	job := Job{EvaluationID: 1, ActiveSet: activeset.Set{Request: []int{activeset.Value | activeset.Gradient}, DerivativeVarIDs: []int{0}}}
	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, os.WriteFile(lc.ResultsPath, []byte(`{"labels":["f"],"values":[1.0]}`), 0644))

	_, err = ff.ReadResult(job, lc)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestFileFilingForcesTaggingUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	ff, warning := NewFileFiling(FileConfig{
		ParamsFile:             filepath.Join(dir, "params"),
		ResultsFile:            filepath.Join(dir, "results"),
		AsyncLocalConcurrency:  4,
	})
	assert.NotEmpty(t, warning)
	assert.True(t, ff.Config.FileTag)
}

func TestAsyncWaitLocalBatchesCompletions(t *testing.T) {
	transport := NewInProcessTransport()
	transport.Register("square", func(ctx context.Context, vars variables.Set, set activeset.Set) (*response.Response, error) {
		resp := response.New(set, nil)
		resp.Values[0] = vars.Continuous[0]
		return resp, nil
	})
	d := New(transport, NewMemoryFiling())

	for i := int64(1); i <= 3; i++ {
		d.DerivedMapAsync(context.Background(), Job{
			EvaluationID: i,
			InterfaceID:  "square",
			Variables:    variables.Set{Continuous: []float64{float64(i)}},
			ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
		})
	}

	seen := map[int64]bool{}
	for len(seen) < 3 {
		results, err := d.WaitLocal(context.Background())
		require.NoError(t, err)
		for _, r := range results {
			require.NoError(t, r.Err)
			seen[r.EvaluationID] = true
		}
	}
	assert.Len(t, seen, 3)
}

func TestTestLocalNonBlockingReturnsEmptyWhenNonePending(t *testing.T) {
	d := New(NewInProcessTransport(), NewMemoryFiling())
	assert.Empty(t, d.TestLocal())
}
