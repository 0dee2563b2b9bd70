package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coordmutex/pkg/coordination"
	"coordmutex/pkg/mutex"
	"coordmutex/pkg/transport"
)

func newProc(id mutex.ID) *mutex.Process {
	return mutex.NewProcess(id, mutex.Deps{
		Network: transport.NewNetwork(transport.WithLogger(zap.NewNop())),
		Logger:  zap.NewNop(),
	})
}

func TestMemory_RegisterAndGet(t *testing.T) {
	m := NewMemory()
	p := newProc(3)

	require.NoError(t, m.Register(p))
	got, ok := m.Get(3)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 1, m.Len())

	err := m.Register(newProc(3))
	assert.ErrorIs(t, err, ErrDuplicateProcess)
}

func TestMemory_ProcessesSortedByID(t *testing.T) {
	m := NewMemory()
	for _, id := range []mutex.ID{5, 1, 4, 2} {
		require.NoError(t, m.Register(newProc(id)))
	}

	var ids []mutex.ID
	for _, p := range m.Processes() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []mutex.ID{1, 2, 4, 5}, ids)
}

func TestMemory_RemoveClearsCoordinatorOnly(t *testing.T) {
	m := NewMemory()
	a, b := newProc(1), newProc(2)
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))
	m.SetCoordinator(a)
	m.SetCurrentHolder(b)

	m.Remove(b)
	assert.True(t, m.IsHoldingResource(b), "holder slot belongs to the coordinator protocol")
	assert.Same(t, a, m.Coordinator())

	m.Remove(a)
	assert.Nil(t, m.Coordinator())
	assert.Equal(t, 0, m.Len())

	m.Remove(a)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_RemoveIgnoresStaleInstance(t *testing.T) {
	m := NewMemory()
	old := newProc(1)
	require.NoError(t, m.Register(old))
	m.Remove(old)

	fresh := newProc(1)
	require.NoError(t, m.Register(fresh))
	m.Remove(old)

	got, ok := m.Get(1)
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestMemory_Holder(t *testing.T) {
	m := NewMemory()
	p := newProc(1)

	assert.False(t, m.IsHoldingResource(p))
	m.SetCurrentHolder(p)
	assert.True(t, m.IsHoldingResource(p))
	assert.True(t, m.IsHoldingResource(newProc(1)), "identity is the id")
	m.SetCurrentHolder(nil)
	assert.Nil(t, m.CurrentHolder())
}

type fakeBackend struct {
	mu      sync.Mutex
	nodes   map[string]bool
	leader  string
	failing bool
}

func (f *fakeBackend) NewElection(string) coordination.Election { return &fakeElection{f} }

func (f *fakeBackend) RegisterNode(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("backend down")
	}
	f.nodes[id] = true
	return nil
}

func (f *fakeBackend) DeregisterNode(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, id)
	return nil
}

func (f *fakeBackend) GetActiveNodes(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.nodes))
	for id := range f.nodes {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeBackend) Close() error { return nil }

type fakeElection struct{ f *fakeBackend }

func (e *fakeElection) Campaign(_ context.Context, v string) error {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	e.f.leader = v
	return nil
}

func (e *fakeElection) Resign(context.Context) error {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	e.f.leader = ""
	return nil
}

func (e *fakeElection) Leader(context.Context) (string, error) {
	e.f.mu.Lock()
	defer e.f.mu.Unlock()
	return e.f.leader, nil
}

func TestMirrored_PublishesMembershipAndCoordinator(t *testing.T) {
	backend := &fakeBackend{nodes: map[string]bool{}}
	m := WithMirror(NewMemory(), backend, zap.NewNop())
	ctx := context.Background()

	a, b := newProc(1), newProc(2)
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))
	m.SetCoordinator(b)

	nodes, err := m.Nodes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, nodes)
	leader, err := m.Leader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", leader)

	m.Remove(a)
	nodes, _ = m.Nodes(ctx)
	assert.Equal(t, []string{"2"}, nodes)

	require.NoError(t, m.Close(ctx))
	leader, _ = m.Leader(ctx)
	assert.Empty(t, leader)
}

func TestMirrored_BackendFailureDoesNotFailRegistry(t *testing.T) {
	backend := &fakeBackend{nodes: map[string]bool{}, failing: true}
	m := WithMirror(NewMemory(), backend, zap.NewNop())

	p := newProc(7)
	require.NoError(t, m.Register(p))
	got, ok := m.Get(7)
	require.True(t, ok)
	assert.Same(t, p, got)
}
