package driver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/evalgo-org/evalcore/response"
	"github.com/sirupsen/logrus"
)

// BatchJob groups several Jobs that share one driver invocation: a single
// writer produces one concatenated parameter file for the whole queue, the
// driver runs once, and a concatenated results file is split back out per
// evaluation.
type BatchJob struct {
	Jobs        []Job
	DriverNames []string
}

// BatchOutcome is one per-job result from a batch launch. A job whose
// segment is malformed or missing reports Err so the caller can route it
// through failure-recovery individually, per §4.A's batch variant.
type BatchOutcome struct {
	EvaluationID int64
	Response     *response.Response
	Err          error
}

// BatchFiling composes FileFiling's single-evaluation record format into
// the concatenated batch wire format: back-to-back parameter blocks, and a
// results file whose per-evaluation segments are delimited by a line
// beginning with '#'.
type BatchFiling struct {
	ParamsFile  string
	ResultsFile string
	inner       *FileFiling
}

// NewBatchFiling constructs the batch filing strategy around a plain
// FileFiling used to render each individual parameter block.
func NewBatchFiling(paramsFile, resultsFile string) *BatchFiling {
	return &BatchFiling{
		ParamsFile:  paramsFile,
		ResultsFile: resultsFile,
		inner:       &FileFiling{Config: FileConfig{}},
	}
}

// WriteBatch writes one concatenated parameter file for the whole queue
// and returns its path.
func (b *BatchFiling) WriteBatch(jobs []Job) (string, error) {
	f, err := os.Create(b.ParamsFile)
	if err != nil {
		return "", fmt.Errorf("driver: creating batch parameter file: %w", err)
	}
	defer f.Close()

	for i, job := range jobs {
		fmt.Fprintf(f, "# evaluation %d\n", job.EvaluationID)
		tmp := b.ParamsFile + fmt.Sprintf(".block.%d", i)
		if err := b.inner.writeParams(job, tmp); err != nil {
			return "", fmt.Errorf("driver: rendering batch block %d: %w", i, err)
		}
		data, err := os.ReadFile(tmp)
		if err != nil {
			return "", err
		}
		os.Remove(tmp)
		f.Write(data)
		f.WriteString("\n")
	}
	return b.ParamsFile, nil
}

// ReadBatchResults splits the driver's concatenated results file by '#'
// sentinel lines and parses each segment against the corresponding job's
// active set, in queue order.
func (b *BatchFiling) ReadBatchResults(jobs []Job) ([]BatchOutcome, error) {
	file, err := os.Open(b.ResultsFile)
	if err != nil {
		return nil, fmt.Errorf("driver: opening batch results file: %w", err)
	}
	defer file.Close()

	segments := make([]string, 0, len(jobs))
	var current strings.Builder
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	outcomes := make([]BatchOutcome, len(jobs))
	for i, job := range jobs {
		outcomes[i] = BatchOutcome{EvaluationID: job.EvaluationID}
		if i >= len(segments) {
			outcomes[i].Err = fmt.Errorf("%w: no results segment for evaluation %d", ErrInvalidResponse, job.EvaluationID)
			continue
		}

		segPath := fmt.Sprintf("%s.segment.%d", b.ResultsFile, i)
		if err := os.WriteFile(segPath, []byte(segments[i]), 0644); err != nil {
			outcomes[i].Err = err
			continue
		}
		resp, err := b.inner.ReadResult(job, LaunchContext{ResultsPath: segPath})
		os.Remove(segPath)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		outcomes[i].Response = resp
	}
	return outcomes, nil
}

// RunBatch writes the concatenated parameter file, launches the driver
// once via transport, and parses per-evaluation results, surfacing any
// individually-malformed segment as that evaluation's own error rather
// than failing the whole batch.
func RunBatch(ctx context.Context, transport Transport, filing *BatchFiling, batch BatchJob, log *logrus.Entry) ([]BatchOutcome, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	paramsPath, err := filing.WriteBatch(batch.Jobs)
	if err != nil {
		return nil, err
	}

	log.WithField("evaluations", len(batch.Jobs)).Debug("launching batch driver invocation")

	lc := LaunchContext{ParamsPath: paramsPath, ResultsPath: filing.ResultsFile}
	outcome := transport.Launch(ctx, Job{DriverNames: batch.DriverNames}, lc)
	if outcome.Err != nil {
		results := make([]BatchOutcome, len(batch.Jobs))
		for i, job := range batch.Jobs {
			results[i] = BatchOutcome{EvaluationID: job.EvaluationID, Err: outcome.Err}
		}
		return results, nil
	}

	return filing.ReadBatchResults(batch.Jobs)
}
