package notify

import (
	"reflect"
	"sync"
)

// sequencer orders hand-offs per owning queue. A ticket is taken once a
// request has been fully received, then either released with nothing to hand
// off or bound to a lane (the owner's queue). A bound ticket waits only for
// earlier tickets still resolving their owner or bound to the same lane.
type sequencer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	issued  uint64
	pending map[uint64]*ticket
	aborted bool
}

func newSequencer() *sequencer {
	s := &sequencer{pending: make(map[uint64]*ticket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

type ticket struct {
	s    *sequencer
	n    uint64
	lane any
}

// sharedLane serializes queues that cannot be told apart by value.
var sharedLane = new(struct{ shared bool })

func laneOf(q Queue) any {
	if q == nil || !reflect.TypeOf(q).Comparable() {
		return sharedLane
	}
	return q
}

func (s *sequencer) take() *ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &ticket{s: s, n: s.issued}
	s.issued++
	s.pending[t.n] = t
	return t
}

// abort makes every blocked wait return false.
func (s *sequencer) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.cond.Broadcast()
}

func (s *sequencer) blocked(t *ticket) bool {
	for n, p := range s.pending {
		if n < t.n && (p.lane == nil || p.lane == t.lane) {
			return true
		}
	}
	return false
}

func (t *ticket) bind(q Queue) {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t.lane = laneOf(q)
	s.cond.Broadcast()
}

// wait blocks until no earlier ticket can still go to the same lane. It
// returns false when the sequencer was aborted first.
func (t *ticket) wait() bool {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.blocked(t) {
		if s.aborted {
			return false
		}
		s.cond.Wait()
	}
	return true
}

// release is idempotent.
func (t *ticket) release() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[t.n]; !ok {
		return
	}
	delete(s.pending, t.n)
	s.cond.Broadcast()
}
