package types

import "time"

// Artifact is a versioned plugin package archive (or already-extracted
// directory) discovered by a watcher. Identity is (ID, Version); once
// observed an Artifact is treated as immutable.
type Artifact struct {
	ID            string
	Version       string
	LocalPath     string // path on disk after download/extraction
	Hash          string // optional content hash; the watchers and loader neither set nor compare it
	DiscoveredAt  time.Time
	FromFeed      bool // true if downloaded via the remote feed poller
}

// Key returns the artifact's registry identity.
func (a Artifact) Key() ArtifactKey {
	return ArtifactKey{ID: a.ID, Version: a.Version}
}

// ArtifactKey identifies an artifact independent of where it was found.
type ArtifactKey struct {
	ID      string
	Version string
}

// TaskHandle is a callable extracted from a loaded plugin module.
type TaskHandle struct {
	Name        string
	InputTypes  []string // descriptive only; actual (de)serialization is payload-bytes based
	OutputType  string
	Container   ContainerRef
	Fn          TaskFunc
}

// TaskFunc is the uniform signature every loaded task is adapted to, per the
// design note that replaces arbitrary-arity reflection with a fixed
// contract: payload in, payload out, codec chosen by the caller.
type TaskFunc func(ctx TaskContext, payload []byte) ([]byte, error)

// TaskContext carries the subset of context a task needs without pulling in
// the full Temporal activity.Context, so loader code stays decoupled from
// the orchestration SDK.
type TaskContext interface {
	Deadline() (time.Time, bool)
	Done() <-chan struct{}
	Err() error
}

// WorkflowTypeHandle is a type descriptor extracted from a loaded module,
// used by the orchestration SDK to instantiate workflow executions.
type WorkflowTypeHandle struct {
	Name      string
	Container ContainerRef
	Fn        interface{} // workflow function, registered with worker.RegisterWorkflowWithOptions
}

// ContainerRef identifies the CodeContainer that owns a handle, without
// exposing the container's full interface to consumers that only need to
// know which generation a handle belongs to.
type ContainerRef struct {
	Generation int64
	ArtifactID string
}

// RegistrationSet is the complete set of tasks and workflows a reload
// produces. Subscribers treat a new RegistrationSet as a full replacement,
// never a diff.
type RegistrationSet struct {
	Tasks     map[string]TaskHandle
	Workflows map[string]WorkflowTypeHandle
	Warnings  []string // duplicate-name warnings recorded by Merge during assembly
}

// NewRegistrationSet returns an empty, non-nil RegistrationSet.
func NewRegistrationSet() RegistrationSet {
	return RegistrationSet{
		Tasks:     make(map[string]TaskHandle),
		Workflows: make(map[string]WorkflowTypeHandle),
	}
}

// Empty reports whether the set carries no tasks and no workflows.
func (s RegistrationSet) Empty() bool {
	return len(s.Tasks) == 0 && len(s.Workflows) == 0
}

// Merge folds other into a copy of s. On a name collision the entry from
// other wins (last-loaded-wins) and a warning is appended.
func (s RegistrationSet) Merge(other RegistrationSet) RegistrationSet {
	out := RegistrationSet{
		Tasks:     make(map[string]TaskHandle, len(s.Tasks)+len(other.Tasks)),
		Workflows: make(map[string]WorkflowTypeHandle, len(s.Workflows)+len(other.Workflows)),
		Warnings:  append([]string{}, s.Warnings...),
	}
	for name, h := range s.Tasks {
		out.Tasks[name] = h
	}
	for name, h := range other.Tasks {
		if _, exists := out.Tasks[name]; exists {
			out.Warnings = append(out.Warnings, "duplicate task name \""+name+"\": last loaded wins")
		}
		out.Tasks[name] = h
	}
	for name, h := range s.Workflows {
		out.Workflows[name] = h
	}
	for name, h := range other.Workflows {
		if _, exists := out.Workflows[name]; exists {
			out.Warnings = append(out.Warnings, "duplicate workflow name \""+name+"\": last loaded wins")
		}
		out.Workflows[name] = h
	}
	out.Warnings = append(out.Warnings, other.Warnings...)
	return out
}

// WatchMode selects which plugin source watcher(s) are active.
type WatchMode string

const (
	WatchModeFileSystem      WatchMode = "FileSystem"
	WatchModeArtifactoryFeed WatchMode = "ArtifactoryFeed"
	WatchModeBoth            WatchMode = "Both"
)
