package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeDriver writes a shell script that ignores its parameter file and
// writes a fixed results JSON body, standing in for a real analysis driver.
func writeFakeDriver(t *testing.T, dir, name, resultsJSON string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := fmt.Sprintf("#!/bin/sh\ncat \"$1\" > /dev/null\ncat > \"$2\" <<'EOF'\n%s\nEOF\n", resultsJSON)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestShellTransportSingleDriver(t *testing.T) {
	dir := t.TempDir()
	driverPath := writeFakeDriver(t, dir, "driver.sh", `{"labels":["f"],"values":[4.0]}`)

	ff, _ := NewFileFiling(FileConfig{ParamsFile: filepath.Join(dir, "params"), ResultsFile: filepath.Join(dir, "results")})
	job := Job{
		EvaluationID: 1,
		Variables:    variables.Set{ContinuousLabels: []string{"x"}, Continuous: []float64{2}},
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
		DriverNames:  []string{driverPath},
	}
	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	transport := NewShellTransport("", nil)
	outcome := transport.Launch(context.Background(), job, lc)
	require.NoError(t, outcome.Err)

	resp, err := ff.ReadResult(job, lc)
	require.NoError(t, err)
	assert.Equal(t, []float64{4.0}, resp.Values)
}

func TestShellTransportMultiDriverOverlaySumsResponses(t *testing.T) {
	dir := t.TempDir()
	driverA := writeFakeDriver(t, dir, "driver_a.sh", `{"labels":["f"],"values":[1.0]}`)
	driverB := writeFakeDriver(t, dir, "driver_b.sh", `{"labels":["f"],"values":[2.0]}`)

	ff, _ := NewFileFiling(FileConfig{ParamsFile: filepath.Join(dir, "params"), ResultsFile: filepath.Join(dir, "results")})
	job := Job{
		EvaluationID: 1,
		Variables:    variables.Set{ContinuousLabels: []string{"x"}, Continuous: []float64{2}},
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
		DriverNames:  []string{driverA, driverB},
	}
	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	transport := NewShellTransport("", nil)
	outcome := transport.Launch(context.Background(), job, lc)
	require.NoError(t, outcome.Err)
	require.NotNil(t, outcome.Response)
	assert.Equal(t, []float64{3.0}, outcome.Response.Values)

	// Each driver's own tagged parameter/results files are cleaned up once
	// read, leaving no stale per-driver artifacts behind.
	_, err = os.Stat(lc.ParamsPath + ".driver0")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(lc.ResultsPath + ".driver1")
	assert.True(t, os.IsNotExist(err))
}

func TestShellTransportRunsInputAndOutputFilters(t *testing.T) {
	dir := t.TempDir()
	driverPath := writeFakeDriver(t, dir, "driver.sh", `{"labels":["f"],"values":[1.0]}`)
	inputMarker := filepath.Join(dir, "input.marker")
	outputMarker := filepath.Join(dir, "output.marker")

	ff, _ := NewFileFiling(FileConfig{ParamsFile: filepath.Join(dir, "params"), ResultsFile: filepath.Join(dir, "results")})
	job := Job{
		EvaluationID: 1,
		Variables:    variables.Set{ContinuousLabels: []string{"x"}, Continuous: []float64{1}},
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
		DriverNames:  []string{driverPath},
		InputFilter:  "touch " + inputMarker + " #",
		OutputFilter: "touch " + outputMarker + " #",
	}
	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	transport := NewShellTransport("", nil)
	outcome := transport.Launch(context.Background(), job, lc)
	require.NoError(t, outcome.Err)

	_, err = os.Stat(inputMarker)
	assert.NoError(t, err, "input filter should have run before the driver")
	_, err = os.Stat(outputMarker)
	assert.NoError(t, err, "output filter should have run after the driver")
}

func TestShellTransportDriverFailureReportsEvaluationFailure(t *testing.T) {
	dir := t.TempDir()
	failing := filepath.Join(dir, "fail.sh")
	require.NoError(t, os.WriteFile(failing, []byte("#!/bin/sh\necho boom >&2\nexit 1\n"), 0755))

	ff, _ := NewFileFiling(FileConfig{ParamsFile: filepath.Join(dir, "params"), ResultsFile: filepath.Join(dir, "results")})
	job := Job{
		EvaluationID: 1,
		ActiveSet:    activeset.Set{Request: []int{activeset.Value}},
		DriverNames:  []string{failing},
	}
	lc, cleanup, err := ff.Prepare(job)
	require.NoError(t, err)
	defer cleanup()

	transport := NewShellTransport("", nil)
	outcome := transport.Launch(context.Background(), job, lc)
	require.ErrorIs(t, outcome.Err, ErrEvaluationFailure)
	assert.Contains(t, outcome.Err.Error(), "boom")
}
