package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"coordmutex/pkg/metrics"
	"coordmutex/pkg/mutex"
)

// ErrDuplicateProcess is returned when an id is registered twice.
var ErrDuplicateProcess = errors.New("process already registered")

// Memory is the in-process registry shared by every process of a cluster.
type Memory struct {
	mu          sync.RWMutex
	processes   map[mutex.ID]*mutex.Process
	coordinator *mutex.Process
	holder      *mutex.Process
}

var _ mutex.Registry = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{processes: make(map[mutex.ID]*mutex.Process)}
}

func (m *Memory) Register(p *mutex.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processes[p.ID()]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateProcess, p.ID())
	}
	m.processes[p.ID()] = p
	metrics.LiveProcesses.Set(float64(len(m.processes)))
	return nil
}

// Remove drops p and clears the coordinator slot if p held it. The holder
// slot is left to the coordinator protocol.
func (m *Memory) Remove(p *mutex.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.processes[p.ID()]; ok && cur == p {
		delete(m.processes, p.ID())
	}
	if m.coordinator.Equal(p) {
		m.coordinator = nil
	}
	metrics.LiveProcesses.Set(float64(len(m.processes)))
}

func (m *Memory) Get(id mutex.ID) (*mutex.Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.processes[id]
	return p, ok
}

func (m *Memory) Processes() []*mutex.Process {
	m.mu.RLock()
	out := make([]*mutex.Process, 0, len(m.processes))
	for _, p := range m.processes {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processes)
}

func (m *Memory) Coordinator() *mutex.Process {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coordinator
}

func (m *Memory) SetCoordinator(p *mutex.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinator = p
}

func (m *Memory) IsHoldingResource(p *mutex.Process) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holder != nil && m.holder.Equal(p)
}

func (m *Memory) CurrentHolder() *mutex.Process {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holder
}

func (m *Memory) SetCurrentHolder(p *mutex.Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holder = p
}
