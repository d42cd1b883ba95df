package scheduler

import (
	"context"

	"github.com/evalgo-org/evalcore/driver"
)

// runSynchronousLocal evaluates the queue one job at a time with no
// concurrency, the fallback mode when concurrency is 1 and no message
// passing is in play.
func (s *Scheduler) runSynchronousLocal(ctx context.Context, queue []Request) error {
	for _, req := range queue {
		outcome := s.evaluate(ctx, req.Job)
		s.storeCompletion(req.Job.EvaluationID, outcome)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// runLocalAsync implements §4.D's local-async scheduling: launch
// min(K, |queue|) jobs, wait (or test) for completions, and backfill one
// pending job per completion. Newly queued jobs are appended to the
// scheduler's persisted local-pending list so state survives across
// SynchronizeNowait calls.
func (s *Scheduler) runLocalAsync(ctx context.Context, queue []Request, blocking bool) error {
	s.state.localPending = append(s.state.localPending, queue...)

	limit := s.cfg.LocalConcurrency
	if limit <= 0 {
		limit = len(s.state.localPending) + len(s.state.localActive)
	}

	launchNext := func() bool {
		if len(s.state.localPending) == 0 {
			return false
		}
		if len(s.state.localActive) >= limit {
			return false
		}
		req := s.state.localPending[0]
		s.state.localPending = s.state.localPending[1:]

		if s.cfg.StaticLimited {
			slot := slotFor(req.Job.EvaluationID, limit)
			if occupant, ok := s.state.localSlot[slot]; ok && occupant != req.Job.EvaluationID {
				// slot occupied by a job mapping to the same modulus that
				// hasn't completed yet; requeue at the back.
				s.state.localPending = append(s.state.localPending, req)
				return false
			}
			s.state.localSlot[slot] = req.Job.EvaluationID
		}

		s.state.localActive[req.Job.EvaluationID] = req.Job
		s.driver.DerivedMapAsync(ctx, req.Job)
		return true
	}

	for launchNext() {
	}

	processCompletion := func(r driver.AsyncResult) {
		job, ok := s.state.localActive[r.EvaluationID]
		if !ok {
			job = driver.Job{EvaluationID: r.EvaluationID}
		}
		delete(s.state.localActive, r.EvaluationID)
		if s.cfg.StaticLimited {
			delete(s.state.localSlot, slotFor(r.EvaluationID, limit))
		}

		var outcome *driver.Outcome
		if r.Err != nil {
			outcome = s.evaluate(ctx, job) // route through failure-recovery
		} else {
			s.journalSuccess(job, r.Response)
			outcome = &driver.Outcome{Response: r.Response}
		}
		s.storeCompletion(r.EvaluationID, outcome)
		launchNext()
	}

	if !blocking {
		for _, r := range s.driver.TestLocal() {
			processCompletion(r)
		}
		return nil
	}

	for len(s.state.localActive) > 0 || len(s.state.localPending) > 0 {
		if len(s.state.localActive) == 0 {
			break
		}
		results, err := s.driver.WaitLocal(ctx)
		if err != nil {
			return err
		}
		for _, r := range results {
			processCompletion(r)
		}
	}
	return nil
}

func slotFor(evaluationID int64, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	m := int(evaluationID) % modulus
	if m < 0 {
		m += modulus
	}
	return m
}
