package election

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"coordmutex/pkg/logger"
	"coordmutex/pkg/metrics"
	"coordmutex/pkg/mutex"
)

// ErrNoCandidates is returned when no live process can be promoted.
var ErrNoCandidates = errors.New("no live process to elect")

var tracer = otel.Tracer("coordmutex/election")

// Bully elects the live process with the highest id. Concurrent runs share
// a single election.
type Bully struct {
	registry mutex.Registry
	group    singleflight.Group
	log      *zap.Logger
}

var _ mutex.Election = (*Bully)(nil)

func NewBully(registry mutex.Registry, log *zap.Logger) *Bully {
	if log == nil {
		log = logger.For("election")
	}
	return &Bully{registry: registry, log: log}
}

func (b *Bully) Run(ctx context.Context, triggeredBy mutex.ID) (*mutex.Process, error) {
	v, err, shared := b.group.Do("coordinator", func() (interface{}, error) {
		return b.elect(ctx, triggeredBy)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		b.log.Debug("joined running election", zap.Stringer("by", triggeredBy))
	}
	return v.(*mutex.Process), nil
}

func (b *Bully) elect(ctx context.Context, triggeredBy mutex.ID) (*mutex.Process, error) {
	// A run that finished just before this one may already have a winner.
	if c := b.registry.Coordinator(); c != nil && c.Alive() {
		return c, nil
	}

	ctx, span := tracer.Start(ctx, "election.Run",
		trace.WithAttributes(attribute.Int("triggered_by", int(triggeredBy))))
	defer span.End()

	b.log.Info("coordinator missing, starting election", zap.Stringer("triggered_by", triggeredBy))

	procs := b.registry.Processes()
	var errs []error
	for i := len(procs) - 1; i >= 0; i-- {
		candidate := procs[i]
		if !candidate.Alive() {
			continue
		}
		if err := candidate.Promote(ctx); err != nil {
			b.log.Warn("candidate could not be promoted", zap.Stringer("candidate", candidate), zap.Error(err))
			errs = append(errs, err)
			continue
		}

		b.registry.SetCoordinator(candidate)
		metrics.Elections.Inc()
		span.SetAttributes(attribute.Int("winner", int(candidate.ID())))
		b.log.Info("coordinator elected", zap.Stringer("coordinator", candidate))
		return candidate, nil
	}

	span.RecordError(ErrNoCandidates)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoCandidates, errors.Join(errs...))
	}
	return nil, ErrNoCandidates
}
