package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/evalgo-org/evalcore/recovery"
	"github.com/evalgo-org/evalcore/topology"
	"github.com/spf13/viper"
)

// Synchronization selects whether map requests default to synchronous or
// asynchronous queueing.
type Synchronization string

const (
	Synchronous  Synchronization = "synchronous"
	Asynchronous Synchronization = "asynchronous"
)

// Configuration carries every option spec §6 names, loaded with
// EnvConfig's typed-getter style under the EVALCORE_ prefix, optionally
// overlaid on a file read via LoadFile — env always wins, matching
// EnvConfig.GetString's own default-value-fallback precedence.
type Configuration struct {
	Synchronization Synchronization

	AsynchLocalEvaluationConcurrency int
	AsynchLocalAnalysisConcurrency   int

	EvaluationServers       int
	ProcessorsPerEvaluation int
	EvaluationScheduling    topology.Scheduling

	AnalysisServers       int
	ProcessorsPerAnalysis int
	AnalysisScheduling    topology.Scheduling

	EvaluationCache       bool
	NearbyEvaluationCache bool
	NearbyTolerance       float64

	RestartFile bool

	ActiveSetVector bool

	FailureCapture recovery.Mode
	RetryLimit     int
	RecoveryValues []float64

	WorkDirectory         string
	DirectoryTag          bool
	DirectorySave         bool
	FileTag               bool
	FileSave              bool
	AllowExistingResults  bool
	Verbatim              bool

	// RedisMirrorURL, if set, shares the nearby-lookup ordering with a
	// cooperating out-of-band process over Redis. Empty disables mirroring.
	RedisMirrorURL string

	// Batched selects §4.A's batch launch variant: every pending evaluation
	// in one Synchronize pass shares a single driver invocation instead of
	// one invocation per evaluation.
	Batched bool
}

// Default returns the spec's stated defaults: synchronous mapping,
// unlimited local concurrency, auto-resolved partitions, caching on with
// nearby lookup off, restart journaling on, active-set vector on, and
// failure-capture set to abort.
func Default() Configuration {
	return Configuration{
		Synchronization:                   Synchronous,
		AsynchLocalEvaluationConcurrency:  0,
		AsynchLocalAnalysisConcurrency:    0,
		EvaluationServers:                 0,
		ProcessorsPerEvaluation:           0,
		EvaluationScheduling:              topology.SchedulingDefault,
		AnalysisServers:                   0,
		ProcessorsPerAnalysis:             0,
		AnalysisScheduling:                topology.SchedulingDefault,
		EvaluationCache:                   true,
		NearbyEvaluationCache:             false,
		NearbyTolerance:                   0,
		RestartFile:                       true,
		ActiveSetVector:                   true,
		FailureCapture:                    recovery.Abort,
		RetryLimit:                        0,
		WorkDirectory:                     "",
		DirectoryTag:                      false,
		DirectorySave:                     false,
		FileTag:                           false,
		FileSave:                          false,
		AllowExistingResults:              false,
		Verbatim:                          false,
		RedisMirrorURL:                    "",
		Batched:                           false,
	}
}

// Load builds a Configuration from environment variables under the
// EVALCORE_ prefix, starting from Default() so unset options fall back to
// the spec's stated defaults rather than Go's zero values.
func Load() Configuration {
	env := NewEnvConfig("EVALCORE")
	c := Default()

	c.Synchronization = Synchronization(env.GetString("SYNCHRONIZATION", string(c.Synchronization)))
	c.AsynchLocalEvaluationConcurrency = env.GetInt("ASYNCH_LOCAL_EVALUATION_CONCURRENCY", c.AsynchLocalEvaluationConcurrency)
	c.AsynchLocalAnalysisConcurrency = env.GetInt("ASYNCH_LOCAL_ANALYSIS_CONCURRENCY", c.AsynchLocalAnalysisConcurrency)

	c.EvaluationServers = env.GetInt("EVALUATION_SERVERS", c.EvaluationServers)
	c.ProcessorsPerEvaluation = env.GetInt("PROCESSORS_PER_EVALUATION", c.ProcessorsPerEvaluation)
	c.EvaluationScheduling = topology.Scheduling(env.GetString("EVALUATION_SCHEDULING", string(c.EvaluationScheduling)))

	c.AnalysisServers = env.GetInt("ANALYSIS_SERVERS", c.AnalysisServers)
	c.ProcessorsPerAnalysis = env.GetInt("PROCESSORS_PER_ANALYSIS", c.ProcessorsPerAnalysis)
	c.AnalysisScheduling = topology.Scheduling(env.GetString("ANALYSIS_SCHEDULING", string(c.AnalysisScheduling)))

	c.EvaluationCache = env.GetBool("EVALUATION_CACHE", c.EvaluationCache)
	c.NearbyEvaluationCache = env.GetBool("NEARBY_EVALUATION_CACHE", c.NearbyEvaluationCache)
	c.NearbyTolerance = getFloat(env, "NEARBY_TOLERANCE", c.NearbyTolerance)

	c.RestartFile = env.GetBool("RESTART_FILE", c.RestartFile)
	c.ActiveSetVector = env.GetBool("ACTIVE_SET_VECTOR", c.ActiveSetVector)

	c.FailureCapture = recovery.Mode(env.GetString("FAILURE_CAPTURE", string(c.FailureCapture)))
	c.RetryLimit = env.GetInt("RETRY_LIMIT", c.RetryLimit)
	c.RecoveryValues = getFloatSlice(env, "RECOVERY_VALUES", c.RecoveryValues)

	c.WorkDirectory = env.GetString("WORK_DIRECTORY", c.WorkDirectory)
	c.DirectoryTag = env.GetBool("DIRECTORY_TAG", c.DirectoryTag)
	c.DirectorySave = env.GetBool("DIRECTORY_SAVE", c.DirectorySave)
	c.FileTag = env.GetBool("FILE_TAG", c.FileTag)
	c.FileSave = env.GetBool("FILE_SAVE", c.FileSave)
	c.AllowExistingResults = env.GetBool("ALLOW_EXISTING_RESULTS", c.AllowExistingResults)
	c.Verbatim = env.GetBool("VERBATIM", c.Verbatim)
	c.RedisMirrorURL = env.GetString("REDIS_MIRROR_URL", c.RedisMirrorURL)
	c.Batched = env.GetBool("BATCHED", c.Batched)

	return c
}

// LoadFile reads a YAML or JSON run configuration file via viper and
// overlays it under Load()'s environment-derived Configuration — any
// environment variable already set wins over the file, matching
// EnvConfig's own default-value-fallback precedence rule.
func LoadFile(path string) (Configuration, error) {
	c := Load()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, set := os.LookupEnv("EVALCORE_SYNCHRONIZATION"); !set && v.IsSet("synchronization") {
		c.Synchronization = Synchronization(v.GetString("synchronization"))
	}
	if _, set := os.LookupEnv("EVALCORE_ASYNCH_LOCAL_EVALUATION_CONCURRENCY"); !set && v.IsSet("asynch_local_evaluation_concurrency") {
		c.AsynchLocalEvaluationConcurrency = v.GetInt("asynch_local_evaluation_concurrency")
	}
	if _, set := os.LookupEnv("EVALCORE_EVALUATION_SERVERS"); !set && v.IsSet("evaluation_servers") {
		c.EvaluationServers = v.GetInt("evaluation_servers")
	}
	if _, set := os.LookupEnv("EVALCORE_EVALUATION_SCHEDULING"); !set && v.IsSet("evaluation_scheduling") {
		c.EvaluationScheduling = topology.Scheduling(v.GetString("evaluation_scheduling"))
	}
	if _, set := os.LookupEnv("EVALCORE_EVALUATION_CACHE"); !set && v.IsSet("evaluation_cache") {
		c.EvaluationCache = v.GetBool("evaluation_cache")
	}
	if _, set := os.LookupEnv("EVALCORE_NEARBY_EVALUATION_CACHE"); !set && v.IsSet("nearby_evaluation_cache") {
		c.NearbyEvaluationCache = v.GetBool("nearby_evaluation_cache")
	}
	if _, set := os.LookupEnv("EVALCORE_NEARBY_TOLERANCE"); !set && v.IsSet("nearby_tolerance") {
		c.NearbyTolerance = v.GetFloat64("nearby_tolerance")
	}
	if _, set := os.LookupEnv("EVALCORE_FAILURE_CAPTURE"); !set && v.IsSet("failure_capture") {
		c.FailureCapture = recovery.Mode(v.GetString("failure_capture"))
	}
	if _, set := os.LookupEnv("EVALCORE_RETRY_LIMIT"); !set && v.IsSet("retry_limit") {
		c.RetryLimit = v.GetInt("retry_limit")
	}
	if _, set := os.LookupEnv("EVALCORE_WORK_DIRECTORY"); !set && v.IsSet("work_directory") {
		c.WorkDirectory = v.GetString("work_directory")
	}

	return c, nil
}

func getFloat(env *EnvConfig, key string, def float64) float64 {
	s := env.GetString(key, "")
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func getFloatSlice(env *EnvConfig, key string, def []float64) []float64 {
	raw := env.GetStringSlice(key, nil)
	if len(raw) == 0 {
		return def
	}
	out := make([]float64, 0, len(raw))
	for _, s := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}
