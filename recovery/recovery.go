// Package recovery implements the failure-recovery state machine invoked
// whenever the process/transport driver reports an evaluation failure:
// retry, substitute recovery values, step-halving continuation from the
// nearest cached success, or abort.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/cache"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/sirupsen/logrus"
)

// Mode selects the fail-action behavior.
type Mode string

const (
	Abort        Mode = "abort"
	Retry        Mode = "retry"
	Recover      Mode = "recover"
	Continuation Mode = "continuation"
)

// ErrAborted is returned when recovery exhausts its options and the run
// must terminate.
var ErrAborted = errors.New("recovery: evaluation aborted")

// Evaluator is the single operation recovery drives: attempt one blocking
// evaluation, returning either a populated response or an error.
type Evaluator func(ctx context.Context, vars variables.Set, set activeset.Set) (*response.Response, error)

// Config parameterizes the state machine.
type Config struct {
	Mode       Mode
	RetryLimit int // retry fail-action: driver invoked at most RetryLimit+1 times
	RecoveryValues []float64

	// Backoff between retry attempts, grounded on coordinator.go's
	// reconnect backoff: initial delay, multiplicative factor, cap.
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// StepHalvingLimit bounds the number of halving steps continuation
	// will attempt toward one target before aborting.
	StepHalvingLimit int

	InterfaceID string
}

// DefaultConfig mirrors coordinator.DefaultConfig's backoff shape.
func DefaultConfig() Config {
	return Config{
		Mode:             Abort,
		RetryLimit:       2,
		InitialDelay:     1 * time.Second,
		MaxDelay:         30 * time.Second,
		BackoffFactor:    2.0,
		StepHalvingLimit: 10,
	}
}

// Recoverer drives the state machine for one failed evaluation.
type Recoverer struct {
	cfg   Config
	cache *cache.Cache
	log   *logrus.Entry
}

// New creates a Recoverer. cache may be nil when Mode != Continuation.
func New(cfg Config, c *cache.Cache, log *logrus.Entry) *Recoverer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recoverer{cfg: cfg, cache: c, log: log.WithField("component", "recovery")}
}

// Handle is invoked when eval returns a driver failure for (vars, set) at
// evaluationID. It returns a recovered/retried response, or ErrAborted
// wrapping the terminal driver error.
func (r *Recoverer) Handle(ctx context.Context, evaluationID int64, vars variables.Set, set activeset.Set, firstErr error, eval Evaluator) (*response.Response, error) {
	fields := logrus.Fields{"evaluation_id": evaluationID, "fail_action": r.cfg.Mode}
	r.log.WithFields(fields).WithError(firstErr).Warn("driver reported evaluation failure")

	switch r.cfg.Mode {
	case Retry:
		return r.retry(ctx, evaluationID, vars, set, firstErr, eval)
	case Recover:
		return r.recover(set)
	case Continuation:
		return r.continuation(ctx, evaluationID, vars, set, eval)
	default:
		return nil, fmt.Errorf("%w: %v", ErrAborted, firstErr)
	}
}

func (r *Recoverer) retry(ctx context.Context, evaluationID int64, vars variables.Set, set activeset.Set, lastErr error, eval Evaluator) (*response.Response, error) {
	delay := r.cfg.InitialDelay
	for attempt := 1; attempt <= r.cfg.RetryLimit; attempt++ {
		r.log.WithFields(logrus.Fields{"evaluation_id": evaluationID, "attempt": attempt}).Info("retrying evaluation")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.cfg.BackoffFactor)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}

		resp, err := eval(ctx, vars, set)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	r.log.WithField("evaluation_id", evaluationID).Error("retry limit exhausted, aborting")
	return nil, fmt.Errorf("%w: retries exhausted: %v", ErrAborted, lastErr)
}

func (r *Recoverer) recover(set activeset.Set) (*response.Response, error) {
	if len(r.cfg.RecoveryValues) != set.NumFunctions() {
		return nil, fmt.Errorf("recovery: recovery vector length %d does not match %d functions", len(r.cfg.RecoveryValues), set.NumFunctions())
	}
	resp := response.New(set, nil)
	copy(resp.Values, r.cfg.RecoveryValues)
	return resp, nil
}

// continuation requests the nearest prior successful pair from the cache,
// then walks toward the target by step-halving: evaluate the midpoint; on
// success, step half-way further toward the target from there (counted
// against StepHalvingLimit, the bound on how many bisection steps a
// single continuation may take before simply evaluating the target
// directly); on failure, halve the step from the current point instead
// (counted separately — a driver that keeps failing even at a vanishing
// step size is a genuine abort, not convergence).
func (r *Recoverer) continuation(ctx context.Context, evaluationID int64, target variables.Set, set activeset.Set, eval Evaluator) (*response.Response, error) {
	if r.cache == nil {
		return nil, fmt.Errorf("%w: continuation requires a cache", ErrAborted)
	}

	source, ok := r.nearestSuccess(target)
	if !ok {
		return nil, fmt.Errorf("%w: no prior successful evaluation to continue from", ErrAborted)
	}

	const tol = 1e-9
	current := append([]float64(nil), source.Continuous...)
	// aim is the point the next trial bisects toward: the target after a
	// success, the last failed trial after a failure.
	aim := target.Continuous
	successSteps, failureHalvings := 0, 0

	for !reachedTarget(current, target.Continuous, tol) {
		if successSteps >= r.cfg.StepHalvingLimit {
			r.log.WithField("evaluation_id", evaluationID).Debug("step-halving limit reached, evaluating target directly")
			break
		}
		if failureHalvings > r.cfg.StepHalvingLimit {
			return nil, fmt.Errorf("%w: step-halving limit reached without converging", ErrAborted)
		}

		trial := midpoint(current, aim)
		trialVars := target
		trialVars.Continuous = trial

		_, err := eval(ctx, trialVars, set)
		if err == nil {
			current = trial
			aim = target.Continuous
			successSteps++
			continue
		}
		r.log.WithFields(logrus.Fields{"evaluation_id": evaluationID, "halving": failureHalvings}).WithError(err).Debug("continuation trial failed, halving step")
		aim = trial
		failureHalvings++
	}

	return eval(ctx, target, set)
}

func (r *Recoverer) nearestSuccess(target variables.Set) (variables.Set, bool) {
	best, ok := r.cache.Nearest(r.cfg.InterfaceID, target)
	if !ok {
		return variables.Set{}, false
	}
	return best.Variables, true
}

func midpoint(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		bv := a[i]
		if i < len(b) {
			bv = b[i]
		}
		out[i] = (a[i] + bv) / 2
	}
	return out
}

func reachedTarget(current, target []float64, tol float64) bool {
	if len(current) != len(target) {
		return false
	}
	var sumSq float64
	for i := range current {
		d := current[i] - target[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq) <= tol
}
