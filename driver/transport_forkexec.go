package driver

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ForkExecTransport launches each driver directly via exec.CommandContext
// with an explicit argv, bypassing a shell entirely. Grounded on the same
// CommandExecutor pattern as ShellTransport, minus the shell indirection —
// the fork-exec variant the spec distinguishes from system-shell for
// drivers that don't need shell features (globbing, pipes) and want to
// avoid the extra process hop.
type ForkExecTransport struct {
	log *logrus.Entry
}

// NewForkExecTransport constructs the fork-exec transport. log may be nil.
func NewForkExecTransport(log *logrus.Entry) *ForkExecTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ForkExecTransport{log: log.WithField("transport", "fork-exec")}
}

func (t *ForkExecTransport) Name() string { return "fork-exec" }

// Launch runs every job.DriverNames entry as `<driverName> <params> <results>`
// with no intervening shell.
func (t *ForkExecTransport) Launch(ctx context.Context, job Job, lc LaunchContext) Outcome {
	for _, driverName := range job.DriverNames {
		cmd := exec.CommandContext(ctx, driverName, lc.ParamsPath, lc.ResultsPath)
		if lc.WorkDir != "" {
			cmd.Dir = lc.WorkDir
		}

		t.log.WithFields(logrus.Fields{
			"evaluation_id": job.EvaluationID,
			"driver":        driverName,
		}).Debug("launching driver via fork-exec")

		output, err := cmd.CombinedOutput()
		if err != nil {
			t.log.WithFields(logrus.Fields{
				"evaluation_id": job.EvaluationID,
				"driver":        driverName,
				"output":        strings.TrimSpace(string(output)),
			}).WithError(err).Warn("driver exited non-zero")
			return Outcome{Err: fmt.Errorf("%w: driver %q: %v: %s", ErrEvaluationFailure, driverName, err, strings.TrimSpace(string(output)))}
		}
	}
	return Outcome{}
}
