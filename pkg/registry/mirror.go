package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coordmutex/pkg/coordination"
	"coordmutex/pkg/mutex"
)

const (
	mirrorTimeout = 3 * time.Second
	electionName  = "coordinator"
)

// Mirrored publishes membership and coordinator changes of an inner registry
// to a coordination backend. The inner registry stays authoritative: backend
// failures are logged and never fail the protocol.
type Mirrored struct {
	mutex.Registry

	backend  coordination.Coordinator
	election coordination.Election
	log      *zap.Logger
}

func WithMirror(inner mutex.Registry, backend coordination.Coordinator, log *zap.Logger) *Mirrored {
	return &Mirrored{
		Registry: inner,
		backend:  backend,
		election: backend.NewElection(electionName),
		log:      log.Named("mirror"),
	}
}

func (m *Mirrored) Register(p *mutex.Process) error {
	if err := m.Registry.Register(p); err != nil {
		return err
	}
	m.publish("register node", func(ctx context.Context) error {
		return m.backend.RegisterNode(ctx, p.String())
	})
	return nil
}

func (m *Mirrored) Remove(p *mutex.Process) {
	m.Registry.Remove(p)
	m.publish("deregister node", func(ctx context.Context) error {
		return m.backend.DeregisterNode(ctx, p.String())
	})
}

func (m *Mirrored) SetCoordinator(p *mutex.Process) {
	m.Registry.SetCoordinator(p)
	if p == nil {
		return
	}
	m.publish("proclaim coordinator", func(ctx context.Context) error {
		return m.election.Campaign(ctx, p.String())
	})
}

// Nodes lists the node ids known to the backend.
func (m *Mirrored) Nodes(ctx context.Context) ([]string, error) {
	return m.backend.GetActiveNodes(ctx)
}

// Leader returns the coordinator id last published to the backend.
func (m *Mirrored) Leader(ctx context.Context) (string, error) {
	return m.election.Leader(ctx)
}

// Close resigns the published leadership.
func (m *Mirrored) Close(ctx context.Context) error {
	return m.election.Resign(ctx)
}

func (m *Mirrored) publish(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.log.Warn("mirror update failed", zap.String("op", op), zap.Error(err))
	}
}
