// Package scheduler drives every pending evaluation to completion and
// populates an output map keyed by evaluation id (a Go map, so it carries
// no iteration order of its own). It
// selects among five dispatch strategies (dedicated-master, peer-static,
// peer-dynamic, local-async, synchronous-local) per §4.D's dispatch
// decision, and exposes blocking (Synchronize) and non-blocking
// (SynchronizeNowait) completion.
//
// Inter-partition send/recv/broadcast/barrier are implemented on Go
// channels and goroutines rather than a message-passing library: no MPI
// (or similar process-group messaging) binding appears anywhere in the
// retrieved reference corpus, and channels are the idiomatic Go rendition
// of "typed buffers over a communicator" when every rank is a goroutine in
// one address space. The send/receive goroutine pair in each dispatch
// strategy is grounded on coordinator.go's senderLoop/readLoop shape.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/evalgo-org/evalcore/activeset"
	"github.com/evalgo-org/evalcore/cache"
	"github.com/evalgo-org/evalcore/driver"
	"github.com/evalgo-org/evalcore/recovery"
	"github.com/evalgo-org/evalcore/response"
	"github.com/evalgo-org/evalcore/topology"
	"github.com/evalgo-org/evalcore/variables"
	"github.com/sirupsen/logrus"
)

// ErrTransport reports a send/recv/broadcast/barrier failure on the
// underlying communicator (§7's transport-error kind).
var ErrTransport = errors.New("scheduler: transport error")

// Request is one pending evaluation, keyed by a strictly monotonically
// increasing evaluation id assigned by the caller.
type Request struct {
	Job   driver.Job
	Async bool
}

// Completion is one finished evaluation, successful or not.
type Completion struct {
	EvaluationID int64
	Response     *driver.Outcome
}

// Config parameterizes one Scheduler.
type Config struct {
	// Level describes the message-passing partition this scheduler drives;
	// nil means no message passing (local-async or synchronous-local).
	Level *topology.Level

	// LocalConcurrency is the asynch-local-evaluation-concurrency option;
	// 0 means unlimited.
	LocalConcurrency int

	// Multiprocessor and InProcess feed the preclusion rules: local
	// evaluations are precluded by a multiprocessor evaluation partition
	// or an in-process driver type.
	Multiprocessor bool
	InProcess      bool

	// StaticLimited selects local-async's static-limited sub-mode
	// (job id ≡ slot (mod K·servers)) instead of dynamic backfill.
	StaticLimited bool

	CacheEnabled bool
	Cache        *cache.Cache
	NearbyTol    float64

	Recoverer *recovery.Recoverer
}

// Scheduler drives pending evaluations through one Driver to completion.
type Scheduler struct {
	cfg    Config
	driver *driver.Driver
	log    *logrus.Entry

	mu      sync.Mutex
	pending []Request // FIFO queue, insertion order

	// results accumulates completions across calls; Synchronize/
	// SynchronizeNowait drain it into the caller-visible map.
	results map[int64]*driver.Outcome

	mode dispatchMode

	// persisted across synchronize_nowait calls, per §4.D "Non-blocking
	// variants": running-remote map, active-local queue, and the
	// round-robin cursor; the next-call backfill deferral (Open Question
	// #2, see DESIGN.md) needs no separate buffer.
	state nowaitState

	// completionCh fans in every in-flight remote evaluation's result,
	// standing in for the collective nonblocking-test over outstanding
	// receives §4.D describes.
	completionCh chan Completion
}

type dispatchMode int

const (
	modeSynchronousLocal dispatchMode = iota
	modeLocalAsync
	modeDedicatedMaster
	modePeerStatic
	modePeerDynamic
)

// New constructs a Scheduler bound to one Driver.
func New(cfg Config, d *driver.Driver, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Scheduler{
		cfg:          cfg,
		driver:       d,
		log:          log.WithField("component", "scheduler"),
		results:      make(map[int64]*driver.Outcome),
		completionCh: make(chan Completion, 1024),
	}
	s.mode = decideMode(cfg)
	s.state = newNowaitState()
	return s
}

// decideMode implements §4.D's dispatch decision and preclusion rules.
func decideMode(cfg Config) dispatchMode {
	messagePassing := cfg.Level != nil && cfg.Level.MessagePass()
	localPrecluded := cfg.Multiprocessor || cfg.InProcess || cfg.StaticLimited

	if !messagePassing {
		if cfg.LocalConcurrency == 1 {
			return modeSynchronousLocal
		}
		return modeLocalAsync
	}

	if cfg.Level.DedicatedMaster() || localPrecluded {
		return modeDedicatedMaster
	}
	switch cfg.Level.Scheduling() {
	case topology.SchedulingPeerDynamic:
		return modePeerDynamic
	case topology.SchedulingPeerStatic:
		return modePeerStatic
	default:
		return modePeerDynamic
	}
}

// Map enqueues one evaluation request. If the cache is enabled and already
// holds a structurally-equal (or, with nearby lookup, tolerance-equal)
// entry whose active-set is a superset of the request, the request
// resolves immediately from history without ever reaching the queue — a
// history-duplicate in §4.D's terms. Otherwise it joins the pending FIFO
// queue (a queue-duplicate — an identical request already pending or
// in-flight — is simply queued again; the driver/cache layer, not the
// scheduler, is responsible for collapsing true duplicates via promote).
func (s *Scheduler) Map(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.CacheEnabled && s.cfg.Cache != nil {
		var (
			pair cache.Pair
			err  error
		)
		if s.cfg.NearbyTol > 0 {
			pair, err = s.cfg.Cache.LookupNearby(req.Job.InterfaceID, req.Job.Variables, req.Job.ActiveSet, s.cfg.NearbyTol)
		} else {
			pair, err = s.cfg.Cache.LookupExact(req.Job.InterfaceID, req.Job.Variables, req.Job.ActiveSet)
		}
		if err == nil {
			if pair.EvaluationID > 0 {
				// An in-run entry resolves as it is; only journal-loaded
				// (non-positive id) entries are promoted.
				s.results[req.Job.EvaluationID] = &driver.Outcome{Response: pair.Response}
				return
			}
			promoted, perr := s.cfg.Cache.Promote(pair, req.Job.EvaluationID)
			if perr == nil {
				s.results[req.Job.EvaluationID] = &driver.Outcome{Response: promoted.Response}
				return
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.log.WithError(err).Warn("cache lookup failed, queueing evaluation instead of resolving from history")
		}
	}

	s.pending = append(s.pending, req)
}

// Synchronize blocks until every pending evaluation (queued via Map since
// the last Synchronize/SynchronizeNowait call) has completed, returning
// the output map keyed by evaluation id.
func (s *Scheduler) Synchronize(ctx context.Context) (map[int64]*driver.Outcome, error) {
	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	mode := s.mode
	s.mu.Unlock()

	if len(queue) == 0 {
		return s.drainResults(), nil
	}

	var err error
	switch mode {
	case modeSynchronousLocal:
		err = s.runSynchronousLocal(ctx, queue)
	case modeLocalAsync:
		err = s.runLocalAsync(ctx, queue, true)
	case modeDedicatedMaster:
		err = s.runDedicatedMaster(ctx, queue, true)
	case modePeerStatic:
		err = s.runPeerStatic(ctx, queue)
	case modePeerDynamic:
		err = s.runPeerDynamic(ctx, queue, true)
	}
	if err != nil {
		return nil, err
	}
	return s.drainResults(), nil
}

// SynchronizeNowait performs one non-blocking pass: it assigns/backfills
// what it can and tests for completions, returning whatever has finished
// without suspending. It always reports at least one completion when any
// exists, and never withholds a completion already observed to a later
// call.
func (s *Scheduler) SynchronizeNowait(ctx context.Context) (map[int64]*driver.Outcome, error) {
	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	mode := s.mode
	s.mu.Unlock()

	var err error
	switch mode {
	case modeSynchronousLocal, modeLocalAsync:
		err = s.runLocalAsync(ctx, queue, false)
	case modeDedicatedMaster:
		err = s.runDedicatedMaster(ctx, queue, false)
	case modePeerStatic:
		err = s.runPeerStatic(ctx, queue) // peer-static has no nowait variant per §4.D; falls back to blocking
	case modePeerDynamic:
		err = s.runPeerDynamic(ctx, queue, false)
	}
	if err != nil {
		return nil, err
	}
	return s.drainResults(), nil
}

// drainResults moves every accumulated completion into the caller-visible
// map, keyed by evaluation id. The ids are visited in ascending order while
// draining, but the returned Go map does not keep that order.
func (s *Scheduler) drainResults() map[int64]*driver.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]*driver.Outcome, len(s.results))
	ids := make([]int64, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out[id] = s.results[id]
		delete(s.results, id)
	}
	return out
}

// evaluate runs one job through the driver, routing a driver failure
// through failure-recovery (§4.C) before it is ever inserted into the
// cache or output map.
func (s *Scheduler) evaluate(ctx context.Context, job driver.Job) *driver.Outcome {
	resp, err := s.driver.DerivedMap(ctx, job)
	if err == nil {
		s.journalSuccess(job, resp)
		return &driver.Outcome{Response: resp}
	}
	if !errors.Is(err, driver.ErrEvaluationFailure) || s.cfg.Recoverer == nil {
		return &driver.Outcome{Err: err}
	}

	evalFn := func(ctx context.Context, vars variables.Set, set activeset.Set) (*response.Response, error) {
		retryJob := job
		retryJob.Variables = vars
		retryJob.ActiveSet = set
		return s.driver.DerivedMap(ctx, retryJob)
	}
	recovered, rerr := s.cfg.Recoverer.Handle(ctx, job.EvaluationID, job.Variables, job.ActiveSet, err, evalFn)
	if rerr != nil {
		return &driver.Outcome{Err: rerr}
	}
	s.journalSuccess(job, recovered)
	return &driver.Outcome{Response: recovered}
}

// journalSuccess inserts the completed pair into the cache (and, through
// it, the restart journal) when caching is enabled — only ever from this
// scheduler's single thread of control, per §5's shared-resource policy.
func (s *Scheduler) journalSuccess(job driver.Job, resp *response.Response) {
	if !s.cfg.CacheEnabled || s.cfg.Cache == nil {
		return
	}
	pair := cache.Pair{
		EvaluationID: job.EvaluationID,
		InterfaceID:  job.InterfaceID,
		Variables:    job.Variables,
		ActiveSet:    job.ActiveSet,
		Response:     resp,
	}
	if err := s.cfg.Cache.Insert(pair); err != nil {
		s.log.WithError(err).WithField("evaluation_id", job.EvaluationID).Warn("failed to insert completed pair into cache")
	}
}

// RunBatch drains the pending queue through one shared driver invocation
// (§4.A's batch variant) via driver.RunBatch, instead of Synchronize's one
// invocation per evaluation. Each evaluation's own outcome is journaled
// into the cache independently, exactly as evaluate does for the
// per-evaluation dispatch strategies.
func (s *Scheduler) RunBatch(ctx context.Context, filing *driver.BatchFiling, driverNames []string) (map[int64]*driver.Outcome, error) {
	s.mu.Lock()
	queue := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(queue) == 0 {
		return s.drainResults(), nil
	}

	jobs := make([]driver.Job, len(queue))
	for i, req := range queue {
		jobs[i] = req.Job
	}

	outcomes, err := driver.RunBatch(ctx, s.driver.Transport(), filing, driver.BatchJob{Jobs: jobs, DriverNames: driverNames}, s.log)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]driver.Job, len(jobs))
	for _, job := range jobs {
		byID[job.EvaluationID] = job
	}
	for _, o := range outcomes {
		if o.Err != nil {
			s.storeCompletion(o.EvaluationID, &driver.Outcome{Err: o.Err})
			continue
		}
		s.journalSuccess(byID[o.EvaluationID], o.Response)
		s.storeCompletion(o.EvaluationID, &driver.Outcome{Response: o.Response})
	}
	return s.drainResults(), nil
}

func (s *Scheduler) storeCompletion(id int64, outcome *driver.Outcome) {
	s.mu.Lock()
	s.results[id] = outcome
	s.mu.Unlock()
}

// Stop logs a stop-token broadcast for each open hub-to-server
// inter-communicator and then releases the level's communicators. No
// token is sent over a channel, and the trailing idle partition, which
// has no inter-communicator, is not visited.
func (s *Scheduler) Stop() {
	if s.cfg.Level == nil {
		return
	}
	for _, c := range s.cfg.Level.HubServerInterCommunicators() {
		if c.Closed() {
			continue
		}
		s.log.WithField("communicator", c.Name).Debug("broadcasting stop token")
	}
	s.cfg.Level.Release()
}
