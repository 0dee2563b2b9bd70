package coordination

import (
	"context"
)

// Coordinator publishes cluster membership and the elected coordinator to an
// external store so other tools can observe the simulated cluster.
type Coordinator interface {
	// NewElection creates an election handle for the given campaign name.
	NewElection(name string) Election

	// RegisterNode marks nodeID online. The key expires with the session.
	RegisterNode(ctx context.Context, nodeID string) error

	// DeregisterNode removes nodeID.
	DeregisterNode(ctx context.Context, nodeID string) error

	// GetActiveNodes lists registered node ids.
	GetActiveNodes(ctx context.Context) ([]string, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign makes value the leader. It blocks until leadership is acquired.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value, or "" when nobody leads.
	Leader(ctx context.Context) (string, error)
}
