package reload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/hotworker/pkg/events"
	"github.com/cuemby/hotworker/pkg/load"
	"github.com/cuemby/hotworker/pkg/types"
)

type countingApplier struct {
	mu    sync.Mutex
	calls int
	last  types.RegistrationSet
}

func (a *countingApplier) Swap(ctx context.Context, regs types.RegistrationSet) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.last = regs
	return nil
}

func (a *countingApplier) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestCoordinator(applier Applier) (*Coordinator, *load.ArtifactRegistry) {
	registry := load.NewArtifactRegistry()
	loader := load.NewLoader(".", nil)
	broker := events.NewBroker()
	broker.Start()
	baseline := types.NewRegistrationSet()
	baseline.Tasks["baseline"] = types.TaskHandle{Name: "baseline"}
	return NewCoordinator(loader, registry, applier, broker, 10*time.Millisecond, baseline), registry
}

func TestCoordinatorFallsBackToBaselineWhenNothingLoaded(t *testing.T) {
	applier := &countingApplier{}
	c, _ := newTestCoordinator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	// An artifact whose path doesn't exist fails to load, so the
	// coordinator must fall back to the baseline set rather than swap in
	// nothing.
	c.Artifacts() <- types.Artifact{ID: "missing", Version: "1", LocalPath: "/does/not/exist"}

	assert.Eventually(t, func() bool { return applier.Calls() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, applier.last.Tasks, "baseline")
}

func TestCoordinatorCollapsesConcurrentTriggers(t *testing.T) {
	applier := &countingApplier{}
	c, _ := newTestCoordinator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	for i := 0; i < 5; i++ {
		c.Artifacts() <- types.Artifact{ID: "flaky", Version: "1", LocalPath: "/does/not/exist"}
	}

	assert.Eventually(t, func() bool { return applier.Calls() >= 1 }, time.Second, 5*time.Millisecond)
	// Give any would-be extra reloads a chance to run before asserting
	// the count stays small; five back-to-back triggers inside one
	// quiesce window must collapse into far fewer than five swaps.
	time.Sleep(50 * time.Millisecond)
	assert.Less(t, applier.Calls(), 5)
}

// blockingApplier holds Swap open until released, so a test can force a
// trigger to arrive while a reload is genuinely in flight.
type blockingApplier struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	entered chan struct{}
}

func newBlockingApplier() *blockingApplier {
	return &blockingApplier{release: make(chan struct{}), entered: make(chan struct{}, 8)}
}

func (a *blockingApplier) Swap(ctx context.Context, regs types.RegistrationSet) error {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	a.entered <- struct{}{}
	<-a.release
	return nil
}

func (a *blockingApplier) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func TestCoordinatorCollapsesTriggerArrivingDuringInFlightReload(t *testing.T) {
	applier := newBlockingApplier()
	c, _ := newTestCoordinator(applier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	c.Artifacts() <- types.Artifact{ID: "flaky", Version: "1", LocalPath: "/does/not/exist"}

	// Wait for the first reload to actually be inside Swap (state ==
	// StateReloading) before sending the next trigger, so it genuinely
	// exercises the reloading-plus-trigger collapse rather than racing the
	// quiesce timer.
	select {
	case <-applier.entered:
	case <-time.After(time.Second):
		t.Fatal("first reload never entered Swap")
	}

	c.Artifacts() <- types.Artifact{ID: "flaky", Version: "2", LocalPath: "/does/not/exist"}
	time.Sleep(30 * time.Millisecond)

	close(applier.release)

	assert.Eventually(t, func() bool { return applier.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, applier.Calls(), "second trigger must collapse into exactly one follow-up reload")
}
