package mutex

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// UsageConfig bounds the randomized hold time of a granted process.
type UsageConfig struct {
	MinUsageDuration int
	MaxUsageDuration int
	TimeUnit         time.Duration
}

// DefaultUsageConfig holds the resource for 10000 to 20000 milliseconds.
func DefaultUsageConfig() UsageConfig {
	return UsageConfig{
		MinUsageDuration: 10000,
		MaxUsageDuration: 20000,
		TimeUnit:         time.Millisecond,
	}
}

// Draw picks a hold time uniformly from [min, max).
func (c UsageConfig) Draw() time.Duration {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = time.Millisecond
	}
	n := c.MinUsageDuration
	if span := c.MaxUsageDuration - c.MinUsageDuration; span > 0 {
		n += rand.IntN(span)
	}
	return time.Duration(n) * unit
}

// usageTask is one run of the critical section.
type usageTask struct {
	grant  uint64
	cancel context.CancelFunc
	done   chan struct{}

	// handoff is set when the canceller performs the release itself.
	handoff atomic.Bool
}

func (t *usageTask) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// usageSlot holds a process's single usage task handle.
type usageSlot struct {
	mu   sync.Mutex
	task *usageTask
}

func (s *usageSlot) current() *usageTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}
