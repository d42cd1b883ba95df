package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/response"
	"github.com/google/uuid"
)

// FileFiling is the file-based Filing strategy: it writes a parameter file,
// optionally creates and populates a work directory, and reads back a
// results file. Filename/work-directory tagging follows §4.A's
// must-be-unique rule.
type FileFiling struct {
	Config FileConfig
}

// FileConfig configures filename and work-directory policy.
type FileConfig struct {
	ParamsFile  string // user-named; "" means auto-generate
	ResultsFile string
	WorkDir     string // user-named work directory template; "" means auto-generate

	FileTag    bool // force unique per-evaluation filenames
	DirTag     bool // force unique per-evaluation work directories
	DirSave    bool // keep the work directory after completion
	CreateDir  bool // create a fresh work directory per evaluation
	TemplateDir string // files/dirs to copy into each work directory

	// AsyncLocalConcurrency and Batched drive the must-be-unique rule: if
	// concurrency is anything but 1 (0 means unlimited) and evaluations are
	// not batched, the driver forces the minimum of file or directory
	// tagging automatically.
	AsyncLocalConcurrency int
	Batched                bool
}

// NewFileFiling applies the must-be-unique rule once at construction and
// logs (via the returned warning string, left for the caller to log) when
// it had to force tagging.
func NewFileFiling(cfg FileConfig) (*FileFiling, string) {
	warning := ""
	needsUnique := cfg.AsyncLocalConcurrency != 1 && !cfg.Batched
	absoluteNamed := (filepath.IsAbs(cfg.ParamsFile) || filepath.IsAbs(cfg.ResultsFile)) &&
		cfg.ParamsFile != "" && cfg.ResultsFile != ""

	if needsUnique && !cfg.FileTag && !cfg.DirTag {
		cfg.FileTag = true
		warning = "concurrent local evaluations requested without file or directory tagging; enabling file tagging automatically"
	}
	if absoluteNamed && needsUnique && !cfg.FileTag {
		cfg.FileTag = true
		warning = "absolute parameters/results paths require file tagging under concurrent evaluation; forcing it on"
	}
	return &FileFiling{Config: cfg}, warning
}

// Prepare builds (parameters-path, results-path, work-directory-path),
// creates and populates the work directory if configured, and returns a
// cleanup function that removes it afterward unless DirSave is set.
func (f *FileFiling) Prepare(job Job) (LaunchContext, func(), error) {
	tag := ""
	if f.Config.FileTag || f.Config.DirTag {
		tag = fmt.Sprintf("%d.%s", job.EvaluationID, shortUUID())
	}

	paramsPath := f.taggedPath(f.Config.ParamsFile, "params", tag, f.Config.FileTag)
	resultsPath := f.taggedPath(f.Config.ResultsFile, "results", tag, f.Config.FileTag)

	workDir := ""
	var cleanup func()
	if f.Config.CreateDir {
		dir := f.Config.WorkDir
		if dir == "" {
			dir = "evalcore-work"
		}
		if f.Config.DirTag {
			dir = fmt.Sprintf("%s.%s", dir, tag)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return LaunchContext{}, nil, fmt.Errorf("driver: creating work directory %s: %w", dir, err)
		}
		if f.Config.TemplateDir != "" {
			if err := copyTemplate(f.Config.TemplateDir, dir); err != nil {
				return LaunchContext{}, nil, err
			}
		}
		workDir = dir
		created := dir
		save := f.Config.DirSave
		cleanup = func() {
			if !save {
				os.RemoveAll(created)
			}
		}
	}
	if cleanup == nil {
		cleanup = func() {}
	}

	if err := f.writeParams(job, paramsPath); err != nil {
		cleanup()
		return LaunchContext{}, nil, fmt.Errorf("driver: writing parameters file: %w", err)
	}

	return LaunchContext{ParamsPath: paramsPath, ResultsPath: resultsPath, WorkDir: workDir}, cleanup, nil
}

func (f *FileFiling) taggedPath(base, kind, tag string, force bool) string {
	if base == "" {
		base = fmt.Sprintf("evalcore.%s", kind)
	}
	if force && tag != "" {
		return fmt.Sprintf("%s.%s", base, tag)
	}
	return base
}

// paramsRecord is the deterministic serialization the driver protocol
// names in §6: header (variable count, active-set vector, evaluation id,
// driver id) then value records grouped by variable kind.
type paramsRecord struct {
	EvaluationID int      `json:"evaluationId"`
	InterfaceID  string   `json:"interfaceId"`
	DriverIndex  int      `json:"driverIndex"`
	NumVars      int      `json:"numVars"`
	ActiveSet    []int    `json:"activeSet"`
	DerivVarIDs  []int    `json:"derivativeVariableIds"`

	ContinuousLabels []string  `json:"continuousLabels"`
	Continuous       []float64 `json:"continuous"`

	DiscreteIntLabels  []string `json:"discreteIntLabels"`
	DiscreteInt        []int64  `json:"discreteInt"`
	DiscreteRealLabels []string `json:"discreteRealLabels"`
	DiscreteReal       []float64 `json:"discreteReal"`
	DiscreteStringLabels []string `json:"discreteStringLabels"`
	DiscreteString       []string `json:"discreteString"`
}

func (f *FileFiling) writeParams(job Job, path string) error {
	return writeParamsRecord(job, path, 0)
}

// writeParamsRecord renders job's parameters to path, tagging the record
// with driverIndex (§6's "driver id" header field) so a driver reading it
// back can tell which slot of a multi-driver job it was handed.
func writeParamsRecord(job Job, path string, driverIndex int) error {
	rec := paramsRecord{
		EvaluationID:         int(job.EvaluationID),
		InterfaceID:          job.InterfaceID,
		DriverIndex:          driverIndex,
		NumVars:              job.Variables.NumContinuous() + len(job.Variables.DiscreteInt) + len(job.Variables.DiscreteReal) + len(job.Variables.DiscreteString),
		ActiveSet:            job.ActiveSet.Request,
		DerivVarIDs:          job.ActiveSet.DerivativeVarIDs,
		ContinuousLabels:     job.Variables.ContinuousLabels,
		Continuous:           job.Variables.Continuous,
		DiscreteIntLabels:    job.Variables.DiscreteIntLabels,
		DiscreteInt:          job.Variables.DiscreteInt,
		DiscreteRealLabels:   job.Variables.DiscreteRealLabels,
		DiscreteReal:         job.Variables.DiscreteReal,
		DiscreteStringLabels: job.Variables.DiscreteStringLabels,
		DiscreteString:       job.Variables.DiscreteString,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// resultsRecord is the driver's output format: per-function value,
// gradient row, and Hessian, with a `fail` token signaling evaluation
// failure.
type resultsRecord struct {
	Fail      bool        `json:"fail,omitempty"`
	Labels    []string    `json:"labels"`
	Values    []float64   `json:"values"`
	Gradients [][]float64 `json:"gradients,omitempty"`
	Hessians  [][][]float64 `json:"hessians,omitempty"`
}

// ReadResult parses the results file written by the driver back into a
// Response, enforcing that every requested slot is present.
func (f *FileFiling) ReadResult(job Job, lc LaunchContext) (*response.Response, error) {
	return parseResultsFile(lc.ResultsPath, job.ActiveSet)
}

// parseResultsFile reads and validates one driver's results file against
// set. Shared by FileFiling.ReadResult (single-driver jobs) and
// ShellTransport's multi-driver overlay path, which parses one results
// file per driver before summing them.
func parseResultsFile(path string, set activeset.Set) (*response.Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: results file missing: %v", ErrEvaluationFailure, err)
	}

	var rec resultsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed results file: %v", ErrInvalidResponse, err)
	}
	if rec.Fail {
		return nil, fmt.Errorf("%w: driver reported fail", ErrEvaluationFailure)
	}

	resp := response.New(set, rec.Labels)
	n := set.NumFunctions()
	for i := 0; i < n; i++ {
		if set.WantsValue(i) {
			if i >= len(rec.Values) {
				return nil, fmt.Errorf("%w: missing value for function %d", ErrInvalidResponse, i)
			}
			resp.Values[i] = rec.Values[i]
		}
		if set.WantsGradient(i) {
			if i >= len(rec.Gradients) || rec.Gradients[i] == nil {
				return nil, fmt.Errorf("%w: missing gradient for function %d", ErrInvalidResponse, i)
			}
			resp.Gradients[i] = rec.Gradients[i]
		}
		if set.WantsHessian(i) {
			if i >= len(rec.Hessians) || rec.Hessians[i] == nil {
				return nil, fmt.Errorf("%w: missing Hessian for function %d", ErrInvalidResponse, i)
			}
			resp.Hessians[i] = rec.Hessians[i]
		}
	}
	return resp, nil
}

func shortUUID() string {
	return uuid.New().String()[:8]
}

func copyTemplate(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("driver: reading template directory %s: %w", src, err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return fmt.Errorf("driver: copying template file %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), data, 0644); err != nil {
			return fmt.Errorf("driver: writing template file %s: %w", e.Name(), err)
		}
	}
	return nil
}
