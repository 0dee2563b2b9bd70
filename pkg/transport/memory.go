package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"coordmutex/pkg/logger"
	"coordmutex/pkg/mutex"
)

var (
	// ErrNoListener is returned when the target has no open listening side.
	ErrNoListener = errors.New("coordinator is not listening")

	// ErrDisconnected is returned when the listener closed before taking the request.
	ErrDisconnected = errors.New("coordinator disconnected")

	// ErrAddressInUse is returned when a second listener opens for the same id.
	ErrAddressInUse = errors.New("listener already open")
)

// Option configures a Network.
type Option func(*Network)

// WithLatency delays every delivery by d.
func WithLatency(d time.Duration) Option {
	return func(n *Network) { n.latency = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Network) { n.log = l }
}

// Network is an in-process request/response fabric. Each coordinator owns
// one listener; requesters address it by id.
type Network struct {
	mu        sync.RWMutex
	listeners map[mutex.ID]*listener
	latency   time.Duration
	log       *zap.Logger
}

var _ mutex.Network = (*Network)(nil)

func NewNetwork(opts ...Option) *Network {
	n := &Network{listeners: make(map[mutex.ID]*listener)}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.For("transport")
	}
	return n
}

func (n *Network) Dial(id mutex.ID) mutex.Transport {
	return &Endpoint{id: id, net: n}
}

// Listening reports whether id has an open listener.
func (n *Network) Listening(id mutex.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.listeners[id]
	return ok
}

func (n *Network) lookup(id mutex.ID) (*listener, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	l, ok := n.listeners[id]
	return l, ok
}

type envelope struct {
	ctx   context.Context
	req   mutex.Request
	reply chan result
}

type result struct {
	reply mutex.Reply
	err   error
}

type listener struct {
	inbox   chan envelope
	closed  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (l *listener) serve(handler mutex.RequestHandler) {
	defer close(l.stopped)
	for {
		select {
		case <-l.closed:
			return
		default:
		}
		select {
		case env := <-l.inbox:
			reply, err := handler(env.ctx, env.req)
			env.reply <- result{reply: reply, err: err}
		case <-l.closed:
			return
		}
	}
}

// Endpoint is one process's view of the Network.
type Endpoint struct {
	id  mutex.ID
	net *Network

	mu  sync.Mutex
	own *listener
}

var _ mutex.Transport = (*Endpoint)(nil)

// Connect opens the listening side. Requests are served one at a time in
// arrival order.
func (e *Endpoint) Connect(_ context.Context, coordinator *mutex.Process, handler mutex.RequestHandler) error {
	if coordinator.ID() != e.id {
		return fmt.Errorf("endpoint %d cannot listen for process %d", e.id, coordinator.ID())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.net.mu.Lock()
	if _, ok := e.net.listeners[e.id]; ok {
		e.net.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAddressInUse, e.id)
	}
	l := &listener{
		inbox:   make(chan envelope),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	e.net.listeners[e.id] = l
	e.net.mu.Unlock()

	e.own = l
	go l.serve(handler)
	e.net.log.Debug("listener open", zap.Stringer("coordinator", e.id))
	return nil
}

// SendRequest blocks until the coordinator replies. Once the request is
// taken by the listener the reply is always awaited.
func (e *Endpoint) SendRequest(ctx context.Context, from *mutex.Process, req mutex.Request) (mutex.Reply, error) {
	if req.From != from.ID() {
		req.From = from.ID()
	}
	if e.net.latency > 0 {
		select {
		case <-time.After(e.net.latency):
		case <-ctx.Done():
			return mutex.Reply{}, ctx.Err()
		}
	}

	l, ok := e.net.lookup(req.To)
	if !ok {
		return mutex.Reply{}, fmt.Errorf("%w: %d", ErrNoListener, req.To)
	}

	env := envelope{ctx: context.WithoutCancel(ctx), req: req, reply: make(chan result, 1)}
	select {
	case l.inbox <- env:
	case <-l.closed:
		return mutex.Reply{}, fmt.Errorf("%w: %d", ErrDisconnected, req.To)
	case <-ctx.Done():
		return mutex.Reply{}, ctx.Err()
	}

	res := <-env.reply
	return res.reply, res.err
}

// Disconnect closes the listener, waiting for an in-flight request to finish.
func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	l := e.own
	e.own = nil
	e.mu.Unlock()
	if l == nil {
		return nil
	}

	e.net.mu.Lock()
	if cur, ok := e.net.listeners[e.id]; ok && cur == l {
		delete(e.net.listeners, e.id)
	}
	e.net.mu.Unlock()

	l.once.Do(func() { close(l.closed) })
	<-l.stopped
	e.net.log.Debug("listener closed", zap.Stringer("coordinator", e.id))
	return nil
}
