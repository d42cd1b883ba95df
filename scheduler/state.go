package scheduler

import "github.com/evalgo-org/evalcore/driver"

// nowaitState holds everything §4.D requires to persist across
// SynchronizeNowait calls: the running-remote map, the active-local
// queue, send/recv buffer ownership (modeled here as the slot map),
// the not-yet-assigned remote queue, and the round-robin server cursor.
type nowaitState struct {
	// Local-async state.
	localPending []Request
	localActive  map[int64]driver.Job
	localSlot    map[int]int64 // static-limited mode: slot -> occupying evaluation id

	// Message-passing state. A completion drained during a nowait call is
	// reported immediately (never withheld) but its freed server slot is
	// only backfilled at the start of the *next* call — see
	// messagePassDispatch, implementing the resolved Open Question #2
	// deferral (see DESIGN.md).
	pendingRemote []Request     // not yet assigned to any server
	runningRemote map[int64]int // evaluation id -> server index
	nextServer    int           // round-robin cursor
}

func newNowaitState() nowaitState {
	return nowaitState{
		localActive:   make(map[int64]driver.Job),
		localSlot:     make(map[int]int64),
		runningRemote: make(map[int64]int),
	}
}
