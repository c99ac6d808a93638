// Package lifecycle manages the running Temporal worker: starting it,
// swapping it for a freshly-reloaded registration set without dropping
// in-flight work, and draining the outgoing worker on a bounded timeline.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/cuemby/hotworker/pkg/events"
	"github.com/cuemby/hotworker/pkg/log"
	"github.com/cuemby/hotworker/pkg/metrics"
	"github.com/cuemby/hotworker/pkg/types"
)

// drainSoftCap is how long Manager waits for the previous worker to report
// idle before proceeding to Stop() anyway.
const drainSoftCap = 10 * time.Second

// drainHardCap is the absolute ceiling on how long a reload may wait on the
// previous worker before abandoning the drain and moving on regardless.
const drainHardCap = 15 * time.Second

// drainPollInterval is how often Manager polls for drain completion,
// mirroring the ticker-based polling pattern used elsewhere in the repo for
// bounded waits.
const drainPollInterval = 250 * time.Millisecond

// WorkerFactory builds a new worker.Worker bound to the given task queue.
// Exists so Manager doesn't hardcode client construction, and so tests can
// substitute a fake worker.
type WorkerFactory func(c client.Client, taskQueue string, options worker.Options) worker.Worker

// Manager owns the currently running Temporal worker and replaces it with
// a new one, by epoch, whenever the reload coordinator hands it a new
// RegistrationSet. Every mutation is guarded by a single mutex; the epoch
// counter lets any goroutine holding a stale reference detect that it is
// stale before acting on it.
type Manager struct {
	client    client.Client
	taskQueue string
	factory   WorkerFactory
	broker    *events.Broker

	mu      sync.Mutex
	current *runningWorker
	epoch   int64
	running atomic.Bool
}

type runningWorker struct {
	epoch    int64
	worker   worker.Worker
	cancel   context.CancelFunc
	done     chan struct{}
	regs     types.RegistrationSet
}

// NewManager builds a Manager. factory may be nil to use worker.New from
// the Temporal SDK directly.
func NewManager(c client.Client, taskQueue string, factory WorkerFactory, broker *events.Broker) *Manager {
	if factory == nil {
		factory = func(c client.Client, taskQueue string, options worker.Options) worker.Worker {
			return worker.New(c, taskQueue, options)
		}
	}
	return &Manager{client: c, taskQueue: taskQueue, factory: factory, broker: broker}
}

// Start brings up the first worker generation from an initial
// RegistrationSet. Must be called before any Swap.
func (m *Manager) Start(ctx context.Context, regs types.RegistrationSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return fmt.Errorf("lifecycle: worker already started")
	}

	rw, err := m.spawn(ctx, regs)
	if err != nil {
		return err
	}
	m.current = rw
	m.epoch = rw.epoch
	m.running.Store(true)
	metrics.WorkerEpoch.Set(float64(rw.epoch))
	metrics.WorkerRunning.Set(1)
	m.broker.Publish(&events.Event{Type: events.EventWorkerStarted})
	return nil
}

// Swap replaces the running worker with a new generation built from regs.
// The old worker is drained (soft cap, then hard cap) before being
// stopped; the new worker is started before the old one is disposed so a
// Swap failure never leaves the process with no worker at all.
func (m *Manager) Swap(ctx context.Context, regs types.RegistrationSet) error {
	m.mu.Lock()
	old := m.current
	nextEpoch := m.epoch + 1
	m.mu.Unlock()

	if old == nil {
		return m.Start(ctx, regs)
	}

	next, err := m.spawnEpoch(ctx, regs, nextEpoch)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to start replacement worker: %w", err)
	}

	m.mu.Lock()
	if m.current != old {
		// Someone else already swapped since we captured `old`; the
		// coordinator's single-reload-in-flight invariant means this
		// should never happen, but bail out safely if it does.
		m.mu.Unlock()
		next.cancel()
		next.worker.Stop()
		return fmt.Errorf("lifecycle: concurrent swap detected, aborting")
	}
	m.current = next
	m.epoch = nextEpoch
	m.mu.Unlock()

	metrics.WorkerEpoch.Set(float64(nextEpoch))
	timer := metrics.NewTimer()
	m.drainAndStop(old)
	timer.ObserveDuration(metrics.DrainDuration)

	return nil
}

// Stop drains and stops the current worker, within the same soft/hard cap
// discipline as Swap, and marks the manager as no longer running.
func (m *Manager) Stop() {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.mu.Unlock()

	m.running.Store(false)
	metrics.WorkerRunning.Set(0)
	if current == nil {
		return
	}
	m.drainAndStop(current)
	m.broker.Publish(&events.Event{Type: events.EventWorkerStopped})
}

// IsRunning reports whether a worker is currently active. Implements the
// WorkerStatus interface consumed by the health server.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Epoch returns the generation number of the currently running worker.
func (m *Manager) Epoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// GetCurrentRegistration returns the RegistrationSet the currently running
// worker was started with, for introspection by the embedding app (a CLI
// status command, a debug endpoint). Returns the zero value if no worker
// is running.
func (m *Manager) GetCurrentRegistration() types.RegistrationSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return types.RegistrationSet{}
	}
	return m.current.regs
}

func (m *Manager) spawn(ctx context.Context, regs types.RegistrationSet) (*runningWorker, error) {
	return m.spawnEpoch(ctx, regs, m.epoch+1)
}

func (m *Manager) spawnEpoch(ctx context.Context, regs types.RegistrationSet, epoch int64) (*runningWorker, error) {
	logger := log.WithEpoch(epoch)

	w := m.factory(m.client, m.taskQueue, worker.Options{WorkerStopTimeout: drainHardCap})
	for name, h := range regs.Tasks {
		fn := h.Fn
		w.RegisterActivityWithOptions(adaptTaskFunc(fn), activity.RegisterOptions{Name: name})
	}
	for name, h := range regs.Workflows {
		w.RegisterWorkflowWithOptions(h.Fn, workflow.RegisterOptions{Name: name})
	}

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("lifecycle: epoch %d failed to start: %w", epoch, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-runCtx.Done()
	}()

	logger.Info().Int("tasks", len(regs.Tasks)).Int("workflows", len(regs.Workflows)).Msg("worker generation started")

	return &runningWorker{epoch: epoch, worker: w, cancel: cancel, done: done, regs: regs}, nil
}

// adaptTaskFunc lifts a types.TaskFunc into the plain context.Context
// signature the Temporal SDK expects of an activity function.
// context.Context already satisfies types.TaskContext's three methods, so
// no wrapping of ctx itself is needed.
func adaptTaskFunc(fn types.TaskFunc) func(ctx context.Context, payload []byte) ([]byte, error) {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return fn(ctx, payload)
	}
}

// drainAndStop waits for rw to settle (soft cap), then stops it regardless
// (hard cap is the ceiling on the whole operation including the stop
// call itself).
func (m *Manager) drainAndStop(rw *runningWorker) {
	logger := log.WithEpoch(rw.epoch)
	deadline := time.Now().Add(drainHardCap)

	rw.cancel()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	softDeadline := time.Now().Add(drainSoftCap)
	drained := false
	for time.Now().Before(softDeadline) {
		select {
		case <-rw.done:
			drained = true
		case <-ticker.C:
			continue
		}
		if drained {
			break
		}
	}

	if !drained {
		logger.Warn().Msg("drain soft cap reached, proceeding to stop anyway")
		metrics.DrainTimeoutsTotal.Inc()
	}

	if time.Now().After(deadline) {
		logger.Warn().Msg("drain hard cap exceeded before stop")
		metrics.DrainTimeoutsTotal.Inc()
	}

	rw.worker.Stop()
	logger.Info().Msg("previous worker generation stopped")
}
