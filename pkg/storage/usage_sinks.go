package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coordmutex/pkg/metrics"
	"coordmutex/pkg/models"
	"coordmutex/pkg/resilience"
)

// Guarded wraps a sink in a circuit breaker so a dead backend stops being
// called for a while instead of slowing every holder down.
type Guarded struct {
	sink    UsageSink
	breaker *resilience.Breaker
}

func NewGuarded(sink UsageSink, cfg resilience.Config, log *zap.Logger) *Guarded {
	if cfg.OnStateChange == nil && log != nil {
		cfg.OnStateChange = func(name string, from, to resilience.State) {
			log.Warn("usage sink breaker changed state",
				zap.String("sink", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		}
	}
	return &Guarded{sink: sink, breaker: resilience.New(sink.Name(), cfg)}
}

func (g *Guarded) Name() string { return g.sink.Name() }

func (g *Guarded) Append(ctx context.Context, record models.UsageRecord) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.sink.Append(ctx, record)
	})
	if err != nil {
		metrics.UsageLogFailures.WithLabelValues(g.sink.Name()).Inc()
		return fmt.Errorf("%s sink: %w", g.sink.Name(), err)
	}
	return nil
}

func (g *Guarded) Recent(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	r, ok := g.sink.(UsageReader)
	if !ok {
		return nil, ErrReadUnsupported
	}
	return r.Recent(ctx, limit)
}

// Multi appends every record to all sinks. A failing sink does not stop the
// others; failures are joined.
type Multi struct {
	sinks []UsageSink
}

func NewMulti(sinks ...UsageSink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Append(ctx context.Context, record models.UsageRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first sink that supports reads.
func (m *Multi) Recent(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	for _, s := range m.sinks {
		r, ok := s.(UsageReader)
		if !ok {
			continue
		}
		recs, err := r.Recent(ctx, limit)
		if errors.Is(err, ErrReadUnsupported) {
			continue
		}
		return recs, err
	}
	return nil, ErrReadUnsupported
}
