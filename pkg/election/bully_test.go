package election

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coordmutex/pkg/mutex"
	"coordmutex/pkg/registry"
	"coordmutex/pkg/transport"
)

func setup(t *testing.T, ids ...mutex.ID) (*registry.Memory, *Bully, map[mutex.ID]*mutex.Process) {
	t.Helper()
	reg := registry.NewMemory()
	b := NewBully(reg, zap.NewNop())
	deps := mutex.Deps{
		Registry: reg,
		Election: b,
		Network:  transport.NewNetwork(transport.WithLogger(zap.NewNop())),
		Logger:   zap.NewNop(),
	}
	procs := make(map[mutex.ID]*mutex.Process, len(ids))
	for _, id := range ids {
		p, err := mutex.Spawn(context.Background(), id, deps, false)
		require.NoError(t, err)
		procs[id] = p
	}
	t.Cleanup(func() {
		for _, p := range reg.Processes() {
			_ = p.Destroy(context.Background())
		}
	})
	return reg, b, procs
}

func TestBully_ElectsHighestLiveID(t *testing.T) {
	reg, b, procs := setup(t, 3, 9, 5)

	winner, err := b.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, mutex.ID(9), winner.ID())
	assert.True(t, procs[9].IsCoordinator())
	assert.Same(t, procs[9], reg.Coordinator())
	assert.False(t, procs[5].IsCoordinator())
}

func TestBully_SkipsDestroyedCandidates(t *testing.T) {
	_, b, procs := setup(t, 1, 2, 3)
	require.NoError(t, procs[3].Destroy(context.Background()))

	winner, err := b.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, mutex.ID(2), winner.ID())
}

func TestBully_KeepsLiveCoordinator(t *testing.T) {
	reg, b, procs := setup(t, 1, 2)
	require.NoError(t, procs[1].Promote(context.Background()))
	reg.SetCoordinator(procs[1])

	winner, err := b.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, mutex.ID(1), winner.ID(), "no election while a coordinator is alive")
	assert.False(t, procs[2].IsCoordinator())
}

func TestBully_NoCandidates(t *testing.T) {
	_, b, _ := setup(t)
	_, err := b.Run(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestBully_ConcurrentRunsAgree(t *testing.T) {
	reg, b, _ := setup(t, 1, 2, 3, 4, 5, 6)

	var wg sync.WaitGroup
	winners := make([]mutex.ID, 16)
	for i := range winners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := b.Run(context.Background(), mutex.ID(i%6+1))
			if assert.NoError(t, err) {
				winners[i] = w.ID()
			}
		}(i)
	}
	wg.Wait()

	for _, w := range winners {
		assert.Equal(t, mutex.ID(6), w)
	}
	coordinators := 0
	for _, p := range reg.Processes() {
		if p.IsCoordinator() {
			coordinators++
		}
	}
	assert.Equal(t, 1, coordinators)
}
