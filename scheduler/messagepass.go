package scheduler

import (
	"context"

	"github.com/evalgo-org/evalcore/driver"
)

// launchOnServer assigns job to server and runs it to completion on a
// goroutine, reporting onto the shared completion channel — the
// channel-based stand-in for a non-blocking send followed by an
// asynchronous receive over an inter-communicator.
func (s *Scheduler) launchOnServer(ctx context.Context, server int, job driver.Job) {
	s.state.runningRemote[job.EvaluationID] = server
	go func() {
		outcome := s.evaluate(ctx, job)
		s.completionCh <- Completion{EvaluationID: job.EvaluationID, Response: outcome}
	}()
}

// messagePassDispatch is the shared assign/wait/backfill loop underlying
// dedicated-master and peer-dynamic: round-robin assignment up to
// capacity, then wait (blocking) or test (nowait) for completions,
// backfilling one freed server per completion. In nowait mode, a
// completion drained this call is reported immediately but its freed
// slot is only backfilled at the start of the *next* call (assignNext
// runs before any new completions are drained), preserving FIFO fairness
// across calls per §4.D's "important subtlety".
func (s *Scheduler) messagePassDispatch(ctx context.Context, queue []Request, capacity int, blocking bool, nextServer func() int) error {
	s.state.pendingRemote = append(s.state.pendingRemote, queue...)

	assignNext := func() bool {
		if len(s.state.pendingRemote) == 0 || len(s.state.runningRemote) >= capacity {
			return false
		}
		req := s.state.pendingRemote[0]
		s.state.pendingRemote = s.state.pendingRemote[1:]
		s.launchOnServer(ctx, nextServer(), req.Job)
		return true
	}
	for assignNext() {
	}

	if !blocking {
		for {
			select {
			case c := <-s.completionCh:
				delete(s.state.runningRemote, c.EvaluationID)
				s.storeCompletion(c.EvaluationID, c.Response)
			default:
				return nil
			}
		}
	}

	for len(s.state.runningRemote) > 0 || len(s.state.pendingRemote) > 0 {
		select {
		case c := <-s.completionCh:
			delete(s.state.runningRemote, c.EvaluationID)
			s.storeCompletion(c.EvaluationID, c.Response)
			assignNext()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// roundRobin returns a server-selection function cycling 1..servers-1,
// leaving server 0 reserved for the dedicated master/peer-1 (which does
// not itself receive remote assignments in this dispatch loop).
func (s *Scheduler) roundRobin(servers int) func() int {
	return func() int {
		if servers <= 1 {
			return 0
		}
		id := 1 + s.state.nextServer%(servers-1)
		s.state.nextServer++
		return id
	}
}

// runDedicatedMaster implements §4.D's dynamic master-slave: evaluation
// rank zero performs no evaluations of its own; it owns all outgoing
// assignments and incoming completions to servers 1..N-1 (the workers
// behind its hub inter-communicators).
func (s *Scheduler) runDedicatedMaster(ctx context.Context, queue []Request, blocking bool) error {
	servers := 1
	if s.cfg.Level != nil {
		servers = max(1, s.cfg.Level.NumServers())
	}
	concurrency := max(1, s.cfg.LocalConcurrency)
	workers := max(1, servers-1)
	capacity := workers * concurrency
	return s.messagePassDispatch(ctx, queue, capacity, blocking, s.roundRobin(servers))
}

// runPeerDynamic implements §4.D's peer-dynamic pattern: peer 1's local
// share runs through the same local-async machinery runLocalAsync already
// provides (it is, in this rendition, "non-blocking local evaluation" on
// server 0), while remote peers 2..N are dispatched and backfilled
// through the shared messagePassDispatch loop. Both sources feed the same
// output map, so the caller sees one merged completion set regardless of
// which peer produced it.
func (s *Scheduler) runPeerDynamic(ctx context.Context, queue []Request, blocking bool) error {
	servers := 1
	if s.cfg.Level != nil {
		servers = max(1, s.cfg.Level.NumServers())
	}
	concurrency := max(1, s.cfg.LocalConcurrency)
	capacity := (servers - 1) * concurrency
	if capacity <= 0 {
		capacity = 1
	}

	localShare, remoteShare := splitRoundRobin(queue, servers)

	if err := s.runLocalAsync(ctx, localShare, blocking); err != nil {
		return err
	}
	return s.messagePassDispatch(ctx, remoteShare, capacity, blocking, s.roundRobin(servers))
}

// runPeerStatic implements §4.D's peer-static pattern: rank-zero peer
// retains floor(num-jobs/servers) jobs; the remainder is distributed to
// peers 2..N in a single initial wave (no dynamic backfill); a barrier
// brackets the local share so peer 1 does not read remote results before
// peers 2..N have written them. There is no nowait sibling.
func (s *Scheduler) runPeerStatic(ctx context.Context, queue []Request) error {
	servers := 1
	if s.cfg.Level != nil {
		servers = max(1, s.cfg.Level.NumServers())
	}

	localShare, remoteShare := splitRoundRobin(queue, servers)

	// Single initial wave: every remote job is sent up front, with no
	// backfill, so capacity is simply len(remoteShare).
	if err := s.messagePassDispatch(ctx, remoteShare, len(remoteShare), false, s.roundRobin(servers)); err != nil {
		return err
	}

	// Local share executes under the barrier: peer 1's own evaluations
	// run locally while remote peers are already working.
	if err := s.runLocalAsync(ctx, localShare, true); err != nil {
		return err
	}

	// wait_all: block until every remote job from the wave has returned.
	for len(s.state.runningRemote) > 0 {
		select {
		case c := <-s.completionCh:
			delete(s.state.runningRemote, c.EvaluationID)
			s.storeCompletion(c.EvaluationID, c.Response)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// splitRoundRobin divides queue into peer 1's local share (floor(n/servers)
// items) and the remainder destined for peers 2..N, shifted by one so
// peer 1 carries no more than its even share.
func splitRoundRobin(queue []Request, servers int) (local, remote []Request) {
	if servers <= 1 {
		return queue, nil
	}
	share := len(queue) / servers
	if share > len(queue) {
		share = len(queue)
	}
	return queue[:share], queue[share:]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
