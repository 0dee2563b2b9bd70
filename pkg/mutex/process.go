package mutex

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"coordmutex/pkg/logger"
)

// ID identifies a process. Equality and ordering use the ID alone.
type ID int

func (id ID) String() string { return strconv.Itoa(int(id)) }

// Deps are the collaborators shared by every process of a cluster.
type Deps struct {
	Registry Registry
	Election Election
	Network  Network
	UsageLog UsageLog
	Usage    UsageConfig

	// RequestAttempts bounds resolve-and-send attempts per request.
	RequestAttempts int
	// RetryBackoff is the pause between failed attempts.
	RetryBackoff time.Duration

	Logger *zap.Logger
}

func (d Deps) attempts() int {
	if d.RequestAttempts < 1 {
		return 1
	}
	return d.RequestAttempts
}

// Process is a member of the cluster: a requester, and the coordinator once
// promoted.
type Process struct {
	id   ID
	deps Deps
	log  *zap.Logger
	conn Transport

	coordinator atomic.Bool
	// destroying guards Destroy; closing marks the process dead to others
	// and is set only after its coordinator state is retired.
	destroying atomic.Bool
	closing    atomic.Bool

	// roleMu serializes promotion and destruction.
	roleMu sync.Mutex
	state  atomic.Pointer[coordinatorState]

	task usageSlot
}

// NewProcess creates a non-coordinator process. It is not registered.
func NewProcess(id ID, deps Deps) *Process {
	log := deps.Logger
	if log == nil {
		log = logger.For("mutex")
	}
	if deps.Usage == (UsageConfig{}) {
		deps.Usage = DefaultUsageConfig()
	}

	p := &Process{
		id:   id,
		deps: deps,
		log:  log.With(zap.Int("pid", int(id))),
	}
	p.conn = deps.Network.Dial(id)
	return p
}

// Spawn creates and registers a process, optionally designating it the
// coordinator. Designation fails while another live coordinator exists.
func Spawn(ctx context.Context, id ID, deps Deps, asCoordinator bool) (*Process, error) {
	if asCoordinator {
		if c := deps.Registry.Coordinator(); c != nil && c.Alive() {
			return nil, fmt.Errorf("spawn %d as coordinator: %w (%d)", id, ErrCoordinatorExists, c.ID())
		}
	}
	p := NewProcess(id, deps)
	if err := deps.Registry.Register(p); err != nil {
		return nil, fmt.Errorf("register process %d: %w", id, err)
	}
	if !asCoordinator {
		return p, nil
	}
	if err := p.Promote(ctx); err != nil {
		deps.Registry.Remove(p)
		return nil, err
	}
	deps.Registry.SetCoordinator(p)
	return p, nil
}

func (p *Process) ID() ID { return p.id }

func (p *Process) String() string { return p.id.String() }

// Equal compares by id. Two nil processes are equal.
func (p *Process) Equal(other *Process) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.id == other.id
}

// Less orders processes by id.
func (p *Process) Less(other *Process) bool { return p.id < other.id }

func (p *Process) IsCoordinator() bool { return p.coordinator.Load() }

// Alive reports whether the process has not been destroyed.
func (p *Process) Alive() bool { return !p.closing.Load() }

// UsageActive reports whether a usage task is still running.
func (p *Process) UsageActive() bool {
	t := p.task.current()
	return t != nil && t.running()
}

func (p *Process) coordinatorState() (*coordinatorState, error) {
	if !p.coordinator.Load() {
		return nil, ErrNotCoordinator
	}
	s := p.state.Load()
	if s == nil {
		return nil, ErrNotCoordinator
	}
	return s, nil
}

func (p *Process) mustCoordinatorState() *coordinatorState {
	s, err := p.coordinatorState()
	if err != nil {
		panic(fmt.Errorf("process %d: %w", p.id, err))
	}
	return s
}

// WaitQueue returns the waiting process ids in arrival order.
// Panics unless p is the coordinator.
func (p *Process) WaitQueue() []ID {
	return p.mustCoordinatorState().snapshot(p.id).Queue
}

// ResourceBusy reports the coordinator's busy flag.
// Panics unless p is the coordinator.
func (p *Process) ResourceBusy() bool {
	return p.mustCoordinatorState().snapshot(p.id).Busy
}

// Snapshot returns the coordinator state, or ErrNotCoordinator.
func (p *Process) Snapshot() (CoordinatorSnapshot, error) {
	s, err := p.coordinatorState()
	if err != nil {
		return CoordinatorSnapshot{}, err
	}
	return s.snapshot(p.id), nil
}
