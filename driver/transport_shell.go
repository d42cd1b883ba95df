package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/evalgo-org/evalcore/common"
	"github.com/evalgo-org/evalcore/response"
	"github.com/sirupsen/logrus"
)

// ShellTransport launches each named driver as a shell command, grounded on
// executor/command_executor.go's CommandExecutor: build an exec.CommandContext
// against a configurable shell, run it in the job's work directory, and
// surface non-zero exit combined with stderr output as ErrEvaluationFailure.
// Input/output filter commands (§4.A's InputFilter/OutputFilter) run
// through common.ShellExecute, the package's general bash-invocation
// primitive, since a filter is a plain pre/post shell command rather than
// something needing the main launch's cancellation.
type ShellTransport struct {
	Shell string // defaults to /bin/sh
	log   *logrus.Entry
}

// NewShellTransport constructs the system-shell transport. log may be nil.
func NewShellTransport(shell string, log *logrus.Entry) *ShellTransport {
	if shell == "" {
		shell = "/bin/sh"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ShellTransport{Shell: shell, log: log.WithField("transport", "shell")}
}

func (t *ShellTransport) Name() string { return "system-shell" }

// Launch runs every driver named in job.DriverNames. A single-driver job
// reuses lc's parameter/results paths directly. A multi-driver job tags
// each driver's own parameter and results files with its DriverIndex (§6)
// so concurrent drivers never share a path — the bug where every driver
// after the first silently overwrote the one before it — and sums the
// per-driver responses into one Response via response.Overlay.
func (t *ShellTransport) Launch(ctx context.Context, job Job, lc LaunchContext) Outcome {
	if len(job.DriverNames) <= 1 {
		name := ""
		if len(job.DriverNames) == 1 {
			name = job.DriverNames[0]
		}
		return t.runOne(ctx, job, name, lc.ParamsPath, lc.ResultsPath, lc.WorkDir)
	}

	combined := response.New(job.ActiveSet, nil)
	for i, driverName := range job.DriverNames {
		paramsPath := fmt.Sprintf("%s.driver%d", lc.ParamsPath, i)
		resultsPath := fmt.Sprintf("%s.driver%d", lc.ResultsPath, i)

		if err := writeParamsRecord(job, paramsPath, i); err != nil {
			return Outcome{Err: fmt.Errorf("%w: tagging parameters for driver %d: %v", ErrEvaluationFailure, i, err)}
		}

		outcome := t.runOne(ctx, job, driverName, paramsPath, resultsPath, lc.WorkDir)
		if outcome.Err != nil {
			os.Remove(paramsPath)
			return outcome
		}

		resp, err := parseResultsFile(resultsPath, job.ActiveSet)
		os.Remove(paramsPath)
		os.Remove(resultsPath)
		if err != nil {
			return Outcome{Err: err}
		}
		if combined.Labels == nil {
			combined.Labels = resp.Labels
		}
		combined.Overlay(resp)
	}
	return Outcome{Response: combined}
}

// runOne launches one driver as `<shell> -c "<driver> <params> <results>"`,
// applying job's InputFilter before and OutputFilter after.
func (t *ShellTransport) runOne(ctx context.Context, job Job, driverName, paramsPath, resultsPath, workDir string) Outcome {
	if job.InputFilter != "" {
		if _, err := common.ShellExecute(fmt.Sprintf("%s %s", job.InputFilter, paramsPath)); err != nil {
			return Outcome{Err: fmt.Errorf("%w: input filter %q: %v", ErrEvaluationFailure, job.InputFilter, err)}
		}
	}

	command := fmt.Sprintf("%s %s %s", driverName, paramsPath, resultsPath)
	cmd := exec.CommandContext(ctx, t.Shell, "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}

	t.log.WithFields(logrus.Fields{
		"evaluation_id": job.EvaluationID,
		"driver":        driverName,
	}).Debug("launching driver via shell")

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"evaluation_id": job.EvaluationID,
			"driver":        driverName,
			"output":        strings.TrimSpace(string(output)),
		}).WithError(err).Warn("driver exited non-zero")
		return Outcome{Err: fmt.Errorf("%w: driver %q: %v: %s", ErrEvaluationFailure, driverName, err, strings.TrimSpace(string(output)))}
	}

	if job.OutputFilter != "" {
		if _, err := common.ShellExecute(fmt.Sprintf("%s %s", job.OutputFilter, resultsPath)); err != nil {
			return Outcome{Err: fmt.Errorf("%w: output filter %q: %v", ErrEvaluationFailure, job.OutputFilter, err)}
		}
	}
	return Outcome{}
}
