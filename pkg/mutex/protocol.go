package mutex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"coordmutex/pkg/metrics"
	"coordmutex/pkg/models"
)

const appendTimeout = 5 * time.Second

var tracer = otel.Tracer("coordmutex/mutex")

// ResolveCoordinator returns the live coordinator, running an election when
// there is none.
func (p *Process) ResolveCoordinator(ctx context.Context) (*Process, error) {
	if c := p.deps.Registry.Coordinator(); c != nil && c.Alive() {
		return c, nil
	}
	if p.deps.Election == nil {
		return nil, ErrNoCoordinator
	}

	c, err := p.deps.Election.Run(ctx, p.id)
	if err != nil {
		return nil, fmt.Errorf("elect coordinator: %w", err)
	}
	return c, nil
}

// RequestResource asks the coordinator for the resource. On GRANT the usage
// task starts; on DENY the process waits in the coordinator's queue until a
// release services it. Coordinators and the current holder do nothing.
func (p *Process) RequestResource(ctx context.Context) error {
	if p.destroying.Load() {
		return ErrProcessClosed
	}
	if p.IsCoordinator() || p.deps.Registry.IsHoldingResource(p) {
		return nil
	}

	ctx, span := tracer.Start(ctx, "mutex.RequestResource",
		trace.WithAttributes(attribute.Int("process.id", int(p.id))))
	defer span.End()

	var lastErr error
	attempts := p.deps.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		coord, err := p.ResolveCoordinator(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if coord.Equal(p) {
			return nil
		}

		req := Request{ID: uuid.New(), From: p.id, To: coord.id}
		p.log.Info("requesting resource", zap.Stringer("coordinator", coord), zap.Stringer("request", req.ID))

		reply, err := p.conn.SendRequest(ctx, p, req)
		if err != nil {
			lastErr = err
			metrics.TransportFailures.WithLabelValues(failureReason(err)).Inc()
			p.log.Warn("request did not reach coordinator",
				zap.Int("attempt", attempt), zap.Stringer("coordinator", coord), zap.Error(err))
			if attempt < attempts && !sleepCtx(ctx, p.deps.RetryBackoff) {
				return ctx.Err()
			}
			continue
		}

		span.SetAttributes(attribute.String("decision", string(reply.Decision)))
		p.log.Info("request result", zap.String("decision", string(reply.Decision)))

		switch reply.Decision {
		case Grant:
			if p.destroying.Load() {
				// Destroyed while the request was in flight.
				return p.releaseGrant(ctx, reply.GrantID)
			}
			p.startUsage(reply.GrantID)
		case Deny:
			p.log.Info("waiting for resource", zap.Int("position", reply.Position))
		}
		return nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "coordinator unreachable")
	return fmt.Errorf("request resource after %d attempts: %w", attempts, lastErr)
}

// startUsage runs the critical section for grant. A previous task is
// cancelled and awaited first.
func (p *Process) startUsage(grant uint64) {
	p.task.mu.Lock()
	defer p.task.mu.Unlock()

	if prev := p.task.task; prev != nil && prev.running() {
		prev.handoff.Store(true)
		prev.cancel()
		<-prev.done
	}

	hold := p.deps.Usage.Draw()
	ctx, cancel := context.WithCancel(context.Background())
	t := &usageTask{
		grant:  grant,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.task.task = t

	go p.runUsage(ctx, t, hold)
}

func (p *Process) runUsage(ctx context.Context, t *usageTask, hold time.Duration) {
	defer t.cancel()

	start := time.Now()
	p.log.Info("consuming resource", zap.Duration("hold", hold), zap.Uint64("grant", t.grant))
	p.appendUsage(t.grant, hold, start)

	timer := time.NewTimer(hold)
	interrupted := false
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		interrupted = true
	}
	close(t.done)

	metrics.RecordUsage(interrupted, time.Since(start).Seconds())
	p.log.Info("stopped consuming resource", zap.Bool("interrupted", interrupted))

	if interrupted && t.handoff.Load() {
		return
	}
	if err := p.releaseGrant(context.Background(), t.grant); err != nil {
		p.log.Warn("release after usage failed", zap.Error(err))
	}
}

func (p *Process) appendUsage(grant uint64, hold time.Duration, now time.Time) {
	if p.deps.UsageLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	record := models.NewUsageRecord(int(p.id), grant, hold, now)
	if err := p.deps.UsageLog.Append(ctx, record); err != nil {
		p.log.Error("usage log append failed", zap.Error(err))
		return
	}
}

// ReleaseResource ends p's hold on the resource now, servicing the head of
// the wait queue before returning. No-op unless p is the holder. Must not be
// called from p's own usage task.
func (p *Process) ReleaseResource(ctx context.Context) error {
	if !p.deps.Registry.IsHoldingResource(p) {
		return nil
	}
	t := p.task.current()
	if t == nil {
		return nil
	}
	t.handoff.Store(true)
	t.cancel()
	<-t.done
	return p.releaseGrant(ctx, t.grant)
}

// releaseGrant frees the resource if grant is still the active one and
// re-issues the request of the popped queue head. It runs to completion
// even when ctx is cancelled, so no waiter is lost.
func (p *Process) releaseGrant(ctx context.Context, grant uint64) error {
	ctx = context.WithoutCancel(ctx)
	coord, err := p.ResolveCoordinator(ctx)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	state, err := coord.coordinatorState()
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}

	head, released := state.release(p, grant)
	if !released {
		p.log.Debug("grant no longer active", zap.Uint64("grant", grant))
		return nil
	}
	metrics.ReleasesTotal.Inc()
	p.log.Info("resource released", zap.Uint64("grant", grant))

	serviceHead(ctx, p.log, state, head)
	return nil
}

// serviceHead re-issues the request of a popped queue head, detached from
// the caller's cancellation. A destroyed head is abandoned in favour of the
// next one; a live head whose request failed goes back to the front.
func serviceHead(ctx context.Context, log *zap.Logger, state *coordinatorState, head *Process) {
	ctx = context.WithoutCancel(ctx)
	for head != nil {
		log.Info("servicing wait queue head", zap.Stringer("head", head))
		err := head.RequestResource(ctx)
		if err == nil {
			return
		}
		if head.Alive() && !errors.Is(err, ErrProcessClosed) {
			log.Warn("wait queue head could not re-request, requeued", zap.Stringer("head", head), zap.Error(err))
			state.requeue(head)
			return
		}
		log.Warn("wait queue head is gone", zap.Stringer("head", head), zap.Error(err))
		head = state.abandon(head)
	}
}

// interruptUsage cancels a running usage task. Returns false when there was
// nothing to interrupt.
func (p *Process) interruptUsage(reason string) bool {
	t := p.task.current()
	if t == nil || !t.running() {
		return false
	}
	t.cancel()
	metrics.Interruptions.WithLabelValues(reason).Inc()
	p.log.Info("usage interrupted", zap.String("reason", reason))
	return true
}

// Promote makes p the coordinator: fresh empty queue, resource idle, the
// previous consumer interrupted, then the listening side opened.
func (p *Process) Promote(ctx context.Context) error {
	p.roleMu.Lock()
	defer p.roleMu.Unlock()

	if p.destroying.Load() {
		return ErrProcessClosed
	}
	if p.coordinator.Load() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "mutex.Promote",
		trace.WithAttributes(attribute.Int("process.id", int(p.id))))
	defer span.End()

	state := newCoordinatorState(p.deps.Registry, p.log)
	if holder := p.deps.Registry.CurrentHolder(); holder != nil {
		holder.interruptUsage("coordinator_change")
	}
	state.clearHolder()

	p.state.Store(state)
	p.coordinator.Store(true)

	if err := p.conn.Connect(ctx, p, p.handleRequest); err != nil {
		p.coordinator.Store(false)
		p.state.Store(nil)
		span.RecordError(err)
		return fmt.Errorf("connect coordinator %d: %w", p.id, err)
	}

	p.log.Info("promoted to coordinator")
	return nil
}

func (p *Process) handleRequest(ctx context.Context, req Request) (Reply, error) {
	state, err := p.coordinatorState()
	if err != nil {
		return Reply{}, err
	}
	from, ok := p.deps.Registry.Get(req.From)
	if !ok {
		return Reply{}, fmt.Errorf("%w: %d", ErrUnknownProcess, req.From)
	}

	reply, err := state.decide(from)
	if err != nil {
		p.log.Info("request reached a retired coordinator", zap.Stringer("from", from))
		return Reply{}, err
	}
	reply.RequestID = req.ID
	p.log.Info("decided request",
		zap.Stringer("from", from), zap.String("decision", string(reply.Decision)))
	return reply, nil
}

// Destroy removes p from the cluster. A coordinator closes its listening
// side; anyone else leaves the wait queue and, if holding, releases now.
// Destroying twice is a no-op.
func (p *Process) Destroy(ctx context.Context) error {
	if !p.destroying.CompareAndSwap(false, true) {
		return nil
	}
	p.log.Info("destroying process", zap.Bool("coordinator", p.IsCoordinator()))

	var errs []error
	p.roleMu.Lock()
	wasCoordinator := p.coordinator.Load()
	// Retire before the process looks dead: once it does, an election may
	// install a successor while a request is still being decided here.
	if state := p.state.Load(); state != nil {
		state.retire()
	}
	p.closing.Store(true)
	if err := p.conn.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	p.coordinator.Store(false)
	p.roleMu.Unlock()

	if !wasCoordinator {
		if coord := p.deps.Registry.Coordinator(); coord != nil {
			if state, err := coord.coordinatorState(); err == nil {
				serviceHead(ctx, p.log, state, state.remove(p))
			}
		}

		if t := p.task.current(); t != nil {
			holding := p.deps.Registry.IsHoldingResource(p)
			if holding {
				t.handoff.Store(true)
			}
			if p.interruptUsage("destroyed") || holding {
				<-t.done
			}
			if holding {
				if err := p.releaseGrant(ctx, t.grant); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	p.deps.Registry.Remove(p)
	return errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// failureReason labels a transport error for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNotCoordinator), errors.Is(err, ErrUnknownProcess):
		return "rejected"
	default:
		return "unreachable"
	}
}
