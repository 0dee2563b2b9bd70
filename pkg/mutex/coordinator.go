package mutex

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"coordmutex/pkg/metrics"
)

// grantSeq is global so grant ids stay unique across coordinator changes.
var grantSeq atomic.Uint64

// coordinatorState is the resource-busy flag and wait queue owned by the
// current coordinator. Every read-modify-write happens under mu.
type coordinatorState struct {
	mu       sync.Mutex
	registry Registry
	log      *zap.Logger

	busy   bool
	holder *Process
	grant  uint64
	queue  []*Process

	// next is the head popped by the last release. Until it re-requests,
	// is destroyed or is abandoned, nobody else may take the idle resource.
	next *Process

	// retired is set when the owning coordinator is destroyed. A retired
	// state grants nothing and never writes the registry again.
	retired bool
}

// CoordinatorSnapshot is a consistent copy of the coordinator's state.
type CoordinatorSnapshot struct {
	Coordinator ID   `json:"coordinator"`
	Busy        bool `json:"busy"`
	Holder      *ID  `json:"holder,omitempty"`
	Queue       []ID `json:"queue"`
	NextInLine  *ID  `json:"next_in_line,omitempty"`
}

func newCoordinatorState(registry Registry, log *zap.Logger) *coordinatorState {
	return &coordinatorState{
		registry: registry,
		log:      log,
		queue:    []*Process{},
	}
}

// decide grants p the resource when it is idle and not reserved for someone
// else. Otherwise p joins the tail of the wait queue (once) and is denied.
// A retired state answers ErrNotCoordinator so the requester re-resolves.
func (s *coordinatorState) decide(p *Process) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return Reply{}, ErrNotCoordinator
	}

	if !s.busy && (s.next == nil || s.next.Equal(p)) {
		s.busy = true
		s.holder = p
		s.grant = grantSeq.Add(1)
		s.next = nil
		s.queue = withoutProcess(s.queue, p)
		s.registry.SetCurrentHolder(p)

		metrics.RecordDecision(string(Grant), len(s.queue))
		metrics.SetBusy(true)
		return Reply{Decision: Grant, GrantID: s.grant}, nil
	}

	pos := indexOf(s.queue, p)
	if pos < 0 && !p.Equal(s.holder) {
		s.queue = append(s.queue, p)
		pos = len(s.queue) - 1
		s.log.Info("process added to wait queue",
			zap.Stringer("process", p),
			zap.Stringers("queue", s.queue))
	}

	metrics.RecordDecision(string(Deny), len(s.queue))
	return Reply{Decision: Deny, Position: pos + 1}, nil
}

// release frees the resource if p still holds it under grant. The popped
// queue head, if any, is returned reserved and must be serviced by the caller.
func (s *coordinatorState) release(p *Process, grant uint64) (head *Process, released bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired || !s.busy || s.grant != grant || !s.holder.Equal(p) {
		return nil, false
	}

	s.busy = false
	s.holder = nil
	s.grant = 0
	s.registry.SetCurrentHolder(nil)
	metrics.SetBusy(false)

	head = s.popLocked()
	metrics.QueueDepth.Set(float64(len(s.queue)))
	return head, true
}

// remove drops p from the queue. If p was the reserved head and the resource
// is idle, the next head is popped and returned for servicing.
func (s *coordinatorState) remove(p *Process) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return nil
	}

	s.queue = withoutProcess(s.queue, p)
	head := s.abandonLocked(p)
	metrics.QueueDepth.Set(float64(len(s.queue)))
	return head
}

// abandon lifts p's reservation after its re-request failed.
func (s *coordinatorState) abandon(p *Process) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandonLocked(p)
}

func (s *coordinatorState) abandonLocked(p *Process) *Process {
	if s.retired || s.next == nil || !s.next.Equal(p) {
		return nil
	}
	s.next = nil
	if s.busy {
		return nil
	}
	return s.popLocked()
}

func (s *coordinatorState) popLocked() *Process {
	if len(s.queue) == 0 {
		return nil
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.next = head
	return head
}

// requeue puts a reserved head whose re-request failed back at the front of
// the queue, so the next release services it again.
func (s *coordinatorState) requeue(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired || s.next == nil || !s.next.Equal(p) {
		return
	}
	s.next = nil
	if indexOf(s.queue, p) < 0 {
		s.queue = append([]*Process{p}, s.queue...)
	}
	metrics.QueueDepth.Set(float64(len(s.queue)))
	s.log.Info("process returned to wait queue",
		zap.Stringer("process", p),
		zap.Stringers("queue", s.queue))
}

// retire stops the state from granting or releasing. Requests already past
// the transport are answered with ErrNotCoordinator.
func (s *coordinatorState) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
}

// clearHolder drops any holder recorded by a previous coordinator.
func (s *coordinatorState) clearHolder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.SetCurrentHolder(nil)
	metrics.SetBusy(false)
	metrics.QueueDepth.Set(0)
}

func (s *coordinatorState) snapshot(owner ID) CoordinatorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := CoordinatorSnapshot{
		Coordinator: owner,
		Busy:        s.busy,
		Queue:       ids(s.queue),
	}
	if s.holder != nil {
		id := s.holder.ID()
		snap.Holder = &id
	}
	if s.next != nil {
		id := s.next.ID()
		snap.NextInLine = &id
	}
	return snap
}

func indexOf(queue []*Process, p *Process) int {
	for i, q := range queue {
		if q.Equal(p) {
			return i
		}
	}
	return -1
}

func withoutProcess(queue []*Process, p *Process) []*Process {
	i := indexOf(queue, p)
	if i < 0 {
		return queue
	}
	out := make([]*Process, 0, len(queue)-1)
	out = append(out, queue[:i]...)
	return append(out, queue[i+1:]...)
}

func ids(queue []*Process) []ID {
	out := make([]ID, len(queue))
	for i, q := range queue {
		out[i] = q.ID()
	}
	return out
}
