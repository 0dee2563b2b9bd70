package storage

import (
	"context"
	"errors"

	"coordmutex/pkg/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrReadUnsupported is returned by sinks that cannot read records back.
	ErrReadUnsupported = errors.New("sink does not support reads")
)

// UsageSink is one destination of usage records.
type UsageSink interface {
	// Append persists a record. Records are never updated or removed.
	Append(ctx context.Context, record models.UsageRecord) error

	// Name labels the sink in logs and metrics.
	Name() string
}

// UsageReader reads usage records back, newest first.
type UsageReader interface {
	Recent(ctx context.Context, limit int) ([]models.UsageRecord, error)
}
