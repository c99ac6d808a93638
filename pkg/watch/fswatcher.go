// Package watch implements the two plugin-source watchers: a filesystem
// watcher backed by fsnotify, and a remote-feed poller with a circuit
// breaker. Both emit discovered types.Artifact values on a shared channel;
// neither loads or validates plugin content — that is pkg/load's job.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/hotworker/pkg/log"
	"github.com/cuemby/hotworker/pkg/metrics"
	"github.com/cuemby/hotworker/pkg/types"
)

// FSWatcher watches a set of directories for new or changed plugin archives
// and emits a types.Artifact for each settled change. A per-path timer
// collapses bursts of fsnotify events (editors/archivers write several
// events per logical change) into one emission, mirroring the debounce
// pattern used by filesystem-backed hot reloaders.
type FSWatcher struct {
	paths   []string
	filter  string
	debounce time.Duration

	watcher *fsnotify.Watcher
	out     chan<- types.Artifact

	mu     sync.Mutex
	timers map[string]*time.Timer

	cancel context.CancelFunc
}

// NewFSWatcher builds an FSWatcher over paths, filtering files by a glob
// pattern (e.g. "*.zip") and collapsing bursts within debounce.
func NewFSWatcher(paths []string, filter string, debounce time.Duration, out chan<- types.Artifact) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FSWatcher{
		paths:    paths,
		filter:   filter,
		debounce: debounce,
		watcher:  w,
		out:      out,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. It returns once all paths are registered; events
// are processed on a background goroutine until ctx is cancelled or Stop
// is called.
func (w *FSWatcher) Start(ctx context.Context) error {
	for _, p := range w.paths {
		if err := w.watcher.Add(p); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.loop(runCtx)
	return nil
}

// Stop tears down the underlying fsnotify watcher and any pending timers.
func (w *FSWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

func (w *FSWatcher) loop(ctx context.Context) {
	logger := log.WithComponent("watch.fs")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
				continue
			}
			w.scheduleEmit(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *FSWatcher) matches(path string) bool {
	ok, err := filepath.Match(w.filter, filepath.Base(path))
	return err == nil && ok
}

// scheduleEmit resets the per-path debounce timer, so repeated touches of
// the same path before it settles are collapsed into a single artifact
// emission — including a touch of an already-loaded artifact, which the
// spec requires to still trigger reprocessing once debounce elapses.
func (w *FSWatcher) scheduleEmit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, exists := w.timers[path]; exists {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		metrics.WatcherTriggersTotal.WithLabelValues("filesystem").Inc()
		w.out <- types.Artifact{
			ID:           filepath.Base(path),
			Version:      "",
			LocalPath:    path,
			DiscoveredAt: time.Now(),
			FromFeed:     false,
		}
	})
}
