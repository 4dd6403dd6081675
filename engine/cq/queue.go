package cq

import (
	"sync"

	"github.com/ozontech/grpcq/consts"
	"github.com/ozontech/grpcq/engine/types"
)

// Queue is a FIFO completion queue based on a slice guarded by sync.Cond.
//
// After Shutdown no new events are accepted; events pushed before it are
// still returned by Next, which reports exhaustion once they are drained.
type Queue struct {
	events []types.Event
	cond   *sync.Cond
	closed bool
}

var _ types.CompletionQueue = (*Queue)(nil)

func New() *Queue {
	return &Queue{
		events: make([]types.Event, 0, consts.DefaultQueueSize),
		cond:   sync.NewCond(&sync.Mutex{}),
	}
}

func (q *Queue) Push(tag types.Tag, ok bool) bool {
	q.cond.L.Lock()
	if q.closed {
		q.cond.L.Unlock()
		return false
	}
	q.events = append(q.events, types.Event{Tag: tag, OK: ok})
	q.cond.L.Unlock()

	q.cond.Signal()
	return true
}

func (q *Queue) Next() (types.Event, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()

	for len(q.events) == 0 {
		if q.closed {
			return types.Event{}, false
		}
		q.cond.Wait()
	}

	ev := q.events[0]
	q.events[0] = types.Event{}
	q.events = q.events[1:]
	return ev, true
}

func (q *Queue) Shutdown() {
	q.cond.L.Lock()
	q.closed = true
	q.cond.L.Unlock()

	q.cond.Broadcast()
}

// Len returns the number of events waiting to be dispatched.
func (q *Queue) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.events)
}
