// Package reload implements the hot-reload coordinator: the single place
// that turns a stream of discovered artifacts into one RegistrationSet at a
// time, serialized so that a reload can never race with another reload or
// with a worker drain in progress.
package reload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hotworker/pkg/events"
	"github.com/cuemby/hotworker/pkg/load"
	"github.com/cuemby/hotworker/pkg/log"
	"github.com/cuemby/hotworker/pkg/metrics"
	"github.com/cuemby/hotworker/pkg/types"
)

// State is the coordinator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateReloading
)

// Applier receives a freshly-assembled RegistrationSet and does whatever is
// needed to make it live — in production this is the worker lifecycle
// manager's Swap method. Kept as an interface so the coordinator doesn't
// import pkg/lifecycle, avoiding an import cycle between the two halves of
// the reload path.
type Applier interface {
	Swap(ctx context.Context, regs types.RegistrationSet) error
}

// Coordinator serializes artifact-triggered reloads. Only one reload runs
// at a time; triggers that arrive while a reload is in flight collapse into
// a single follow-up reload instead of queuing one per trigger.
type Coordinator struct {
	loader   *load.Loader
	registry *load.ArtifactRegistry
	applier  Applier
	broker   *events.Broker
	quiesce  time.Duration
	baseline types.RegistrationSet

	mu               sync.Mutex
	state            State
	pending          bool
	pendingArtifacts []types.Artifact

	artifacts chan types.Artifact
	cancel    context.CancelFunc
}

// NewCoordinator builds a Coordinator. baseline is the registration set
// used as a fallback when no artifact has ever loaded successfully — the
// worker always has something to run.
func NewCoordinator(loader *load.Loader, registry *load.ArtifactRegistry, applier Applier, broker *events.Broker, quiesce time.Duration, baseline types.RegistrationSet) *Coordinator {
	return &Coordinator{
		loader:    loader,
		registry:  registry,
		applier:   applier,
		broker:    broker,
		quiesce:   quiesce,
		baseline:  baseline,
		artifacts: make(chan types.Artifact, 64),
	}
}

// Start begins consuming artifacts. Callers feed discovered artifacts via
// the channel returned by Artifacts().
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.loop(runCtx)
}

// Stop halts the coordinator's consume loop. In-flight reloads are allowed
// to finish; Stop does not interrupt them.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Artifacts returns the channel watchers publish discovered artifacts to.
func (c *Coordinator) Artifacts() chan<- types.Artifact {
	return c.artifacts
}

func (c *Coordinator) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(c.quiesce)
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case artifact, ok := <-c.artifacts:
			if !ok {
				return
			}
			c.mu.Lock()
			c.pendingArtifacts = append(c.pendingArtifacts, artifact)
			c.mu.Unlock()
			resetTimer()
		case <-timerC:
			timerC = nil
			c.attemptReload(ctx)
		}
	}
}

// attemptReload runs a single reload if the coordinator is idle, or marks a
// pending follow-up if one is already in flight. Exactly one reload owns
// the worker swap at any moment — the invariant that eliminates the
// reload-vs-drain race, since the lifecycle manager's Swap is only ever
// called from here. The load/swap work itself runs on a background
// goroutine outside the mutex, so the consume loop stays free to keep
// draining c.artifacts and the quiesce timer while a reload is in flight —
// that's what makes the reloading-plus-trigger collapse into `pending`
// reachable instead of queuing behind a synchronous call.
func (c *Coordinator) attemptReload(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateReloading {
		c.pending = true
		c.mu.Unlock()
		metrics.PendingReloadCollapsedTotal.Inc()
		return
	}
	batch := c.pendingArtifacts
	c.pendingArtifacts = nil
	c.state = StateReloading
	c.mu.Unlock()

	go c.runReloadCycle(ctx, batch)
}

// runReloadCycle runs one reload, then checks whether a trigger collapsed
// into `pending` while it was running; if so it immediately runs again with
// whatever artifacts accumulated, without ever returning the coordinator to
// StateIdle in between. Only returns to StateIdle once no reload is owed.
func (c *Coordinator) runReloadCycle(ctx context.Context, batch []types.Artifact) {
	for {
		c.runReload(ctx, batch)

		c.mu.Lock()
		if !c.pending {
			c.state = StateIdle
			c.mu.Unlock()
			return
		}
		c.pending = false
		batch = c.pendingArtifacts
		c.pendingArtifacts = nil
		c.mu.Unlock()
	}
}

// runReload performs one reload cycle: loading each newly discovered
// artifact into the registry, then asking the applier to swap in the
// registry's merged RegistrationSet. A panic here is recovered and counted
// — it is coordinator-fatal for that cycle but leaves the worker running
// its last-good registration set untouched.
func (c *Coordinator) runReload(ctx context.Context, batch []types.Artifact) {
	logger := log.WithComponent("reload.coordinator")
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("reload panicked; worker continues on its last-good registration set")
			metrics.ReloadsTotal.WithLabelValues("panic").Inc()
		}
	}()

	timer := metrics.NewTimer()
	c.broker.Publish(&events.Event{Type: events.EventReloadStarted})

	for _, artifact := range batch {
		c.loadOne(artifact, logger)
	}

	regs, usingBaseline := c.registry.MergedWithFallback(c.baseline)
	if usingBaseline {
		metrics.UsingBaselineSet.Set(1)
	} else {
		metrics.UsingBaselineSet.Set(0)
	}

	if err := c.applier.Swap(ctx, regs); err != nil {
		logger.Error().Err(err).Msg("worker swap failed")
		c.broker.Publish(&events.Event{Type: events.EventReloadFailed, Message: err.Error()})
		metrics.ReloadsTotal.WithLabelValues("swap_error").Inc()
		timer.ObserveDuration(metrics.ReloadDuration)
		return
	}

	metrics.RegisteredTasksTotal.Set(float64(len(regs.Tasks)))
	metrics.RegisteredWorkflowsTotal.Set(float64(len(regs.Workflows)))
	metrics.ReloadsTotal.WithLabelValues("ok").Inc()
	timer.ObserveDuration(metrics.ReloadDuration)
	c.broker.Publish(&events.Event{Type: events.EventReloadCompleted})
}

func (c *Coordinator) loadOne(artifact types.Artifact, logger zerolog.Logger) {
	container, err := c.loader.Load(artifact)
	if err != nil {
		logger.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("artifact rejected")
		c.broker.Publish(&events.Event{Type: events.EventArtifactRejected, Message: err.Error()})
		return
	}
	c.registry.Put(artifact.Key(), container)
	c.broker.Publish(&events.Event{Type: events.EventArtifactLoaded, Message: fmt.Sprintf("%s@%s", artifact.ID, artifact.Version)})
}
