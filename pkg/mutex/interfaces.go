package mutex

import (
	"context"

	"github.com/google/uuid"

	"coordmutex/pkg/models"
)

// Decision is the coordinator's answer to a resource request.
type Decision string

const (
	Grant Decision = "GRANT"
	Deny  Decision = "DENY"
)

// Request asks the coordinator To for the resource on behalf of From.
type Request struct {
	ID   uuid.UUID `json:"id"`
	From ID        `json:"from"`
	To   ID        `json:"to"`
}

// Reply carries the decision for a Request.
type Reply struct {
	RequestID uuid.UUID `json:"request_id"`
	Decision  Decision  `json:"decision"`
	// GrantID identifies the grant on GRANT; releases must present it.
	GrantID uint64 `json:"grant_id,omitempty"`
	// Position is the 1-based wait queue position on DENY.
	Position int `json:"position,omitempty"`
}

// RequestHandler decides incoming requests on the coordinator side.
type RequestHandler func(ctx context.Context, req Request) (Reply, error)

// Registry tracks live processes, the coordinator and the resource holder.
type Registry interface {
	// Register adds p. Registering an id twice is an error.
	Register(p *Process) error

	// Remove drops p. Clears the coordinator slot if p held it.
	Remove(p *Process)

	// Get looks a process up by id.
	Get(id ID) (*Process, bool)

	// Processes returns the live processes ordered by id.
	Processes() []*Process

	Coordinator() *Process
	SetCoordinator(p *Process)

	IsHoldingResource(p *Process) bool
	CurrentHolder() *Process
	// SetCurrentHolder records the holder; nil clears it.
	SetCurrentHolder(p *Process)
}

// Election selects, promotes and installs a new coordinator.
type Election interface {
	// Run is idempotent: concurrent runs during one coordinator gap all
	// return the same winner.
	Run(ctx context.Context, triggeredBy ID) (*Process, error)
}

// Transport is one process's endpoint on the request/response channel.
type Transport interface {
	// Connect opens the listening side for coordinator, which must be the
	// endpoint's own process.
	Connect(ctx context.Context, coordinator *Process, handler RequestHandler) error

	// SendRequest delivers req to req.To and blocks for the reply.
	SendRequest(ctx context.Context, from *Process, req Request) (Reply, error)

	// Disconnect tears the listening side down. Safe to call repeatedly.
	Disconnect() error
}

// Network hands out transport endpoints.
type Network interface {
	Dial(id ID) Transport
}

// UsageLog is the append-only record of resource consumption.
type UsageLog interface {
	Append(ctx context.Context, record models.UsageRecord) error
}
