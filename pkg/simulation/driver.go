package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"coordmutex/pkg/logger"
	"coordmutex/pkg/metrics"
	"coordmutex/pkg/mutex"
)

// ErrNoProcess is returned when an action finds no process to act on.
var ErrNoProcess = errors.New("no eligible process")

// Config holds the cron specs of the periodic actions.
type Config struct {
	InitialProcesses     int
	SpawnEvery           string
	RequestEvery         string
	KillCoordinatorEvery string
	KillProcessEvery     string
}

func DefaultConfig() Config {
	return Config{
		InitialProcesses:     3,
		SpawnEvery:           "@every 40s",
		RequestEvery:         "@every 15s",
		KillCoordinatorEvery: "@every 1m",
		KillProcessEvery:     "@every 80s",
	}
}

// Driver creates, exercises and kills processes on a schedule.
type Driver struct {
	deps mutex.Deps
	cfg  Config
	log  *zap.Logger

	mu     sync.Mutex
	nextID mutex.ID
	rng    *rand.Rand
}

func New(deps mutex.Deps, cfg Config) *Driver {
	log := deps.Logger
	if log == nil {
		log = logger.For("simulation")
	}
	return &Driver{
		deps:   deps,
		cfg:    cfg,
		log:    log,
		nextID: 1,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Seed creates the initial processes; the first one is the coordinator.
func (d *Driver) Seed(ctx context.Context) error {
	for i := 0; i < d.cfg.InitialProcesses; i++ {
		if _, err := d.spawn(ctx, i == 0); err != nil {
			return err
		}
	}
	return nil
}

// Spawn adds a non-coordinator process with the next id.
func (d *Driver) Spawn(ctx context.Context) (*mutex.Process, error) {
	return d.spawn(ctx, false)
}

func (d *Driver) spawn(ctx context.Context, asCoordinator bool) (*mutex.Process, error) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.mu.Unlock()

	p, err := mutex.Spawn(ctx, id, d.deps, asCoordinator)
	d.record("spawn", err)
	if err != nil {
		return nil, err
	}
	d.log.Info("process created", zap.Stringer("process", p), zap.Bool("coordinator", asCoordinator))
	return p, nil
}

// RequestRandom makes a random live non-coordinator request the resource.
func (d *Driver) RequestRandom(ctx context.Context) (*mutex.Process, error) {
	p, err := d.pick(ctx)
	if err == nil {
		err = p.RequestResource(ctx)
	}
	d.record("request", err)
	return p, err
}

// KillCoordinator destroys the current coordinator.
func (d *Driver) KillCoordinator(ctx context.Context) (*mutex.Process, error) {
	c := d.deps.Registry.Coordinator()
	if c == nil {
		d.record("kill_coordinator", ErrNoProcess)
		return nil, ErrNoProcess
	}
	err := c.Destroy(ctx)
	d.record("kill_coordinator", err)
	d.log.Info("coordinator killed", zap.Stringer("process", c))
	return c, err
}

// KillRandom destroys a random live non-coordinator.
func (d *Driver) KillRandom(ctx context.Context) (*mutex.Process, error) {
	p, err := d.pick(ctx)
	if err == nil {
		err = p.Destroy(ctx)
		d.log.Info("process killed", zap.Stringer("process", p))
	}
	d.record("kill_process", err)
	return p, err
}

// pick chooses a live non-coordinator, making sure a coordinator exists
// first so the chosen process is not the one about to be elected.
func (d *Driver) pick(ctx context.Context) (*mutex.Process, error) {
	var candidates []*mutex.Process
	for _, p := range d.deps.Registry.Processes() {
		if p.Alive() && !p.IsCoordinator() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoProcess
	}

	d.mu.Lock()
	p := candidates[d.rng.IntN(len(candidates))]
	d.mu.Unlock()

	if _, err := p.ResolveCoordinator(ctx); err != nil {
		return nil, err
	}
	if p.IsCoordinator() {
		return d.pick(ctx)
	}
	return p, nil
}

func (d *Driver) record(action string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrNoProcess):
		result = "skipped"
	case err != nil:
		result = "error"
		d.log.Warn("simulation action failed", zap.String("action", action), zap.Error(err))
	}
	metrics.SimulationActions.WithLabelValues(action, result).Inc()
}

// Run schedules the four actions and blocks until ctx is cancelled. On return
// every process has been destroyed.
func (d *Driver) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{d.log.Sugar()})))

	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) (*mutex.Process, error)
	}{
		{d.cfg.SpawnEvery, "spawn", d.Spawn},
		{d.cfg.RequestEvery, "request", d.RequestRandom},
		{d.cfg.KillCoordinatorEvery, "kill_coordinator", d.KillCoordinator},
		{d.cfg.KillProcessEvery, "kill_process", d.KillRandom},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		fn := j.fn
		if _, err := c.AddFunc(j.spec, func() { _, _ = fn(ctx) }); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", j.name, j.spec, err)
		}
		d.log.Info("simulation action scheduled", zap.String("action", j.name), zap.String("spec", j.spec))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	d.Shutdown(context.WithoutCancel(ctx))
	return nil
}

// Shutdown destroys every remaining process, non-coordinators first.
func (d *Driver) Shutdown(ctx context.Context) {
	procs := d.deps.Registry.Processes()
	for i := len(procs) - 1; i >= 0; i-- {
		if procs[i].IsCoordinator() {
			continue
		}
		if err := procs[i].Destroy(ctx); err != nil {
			d.log.Debug("destroy during shutdown", zap.Stringer("process", procs[i]), zap.Error(err))
		}
	}
	for _, p := range d.deps.Registry.Processes() {
		_ = p.Destroy(ctx)
	}
	d.log.Info("simulation stopped")
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
