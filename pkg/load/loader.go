package load

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/hotworker/pkg/log"
	"github.com/cuemby/hotworker/pkg/metrics"
	"github.com/cuemby/hotworker/pkg/types"
)

// Loader extracts an artifact archive and evaluates its Go sources into a
// fresh CodeContainer. Plugin archives follow a library/<framework>/ layout:
// only sources under library/ are evaluated, so a framework can ship
// vendored dependencies alongside its plugin code without the loader
// tripping over them.
type Loader struct {
	extractRoot   string
	excludePrefix []string
	generation    atomic.Int64
}

// NewLoader builds a Loader that extracts archives under extractRoot.
// excludePrefix lists name prefixes (matched against the file base name,
// without extension) that are skipped even though they live under
// library/<framework>/ — a manifest-level opt-out for known-bad modules.
func NewLoader(extractRoot string, excludePrefix []string) *Loader {
	return &Loader{extractRoot: extractRoot, excludePrefix: excludePrefix}
}

// Load extracts artifact (if it's an archive) and evaluates every eligible
// .go source into one CodeContainer per artifact, merging their
// registrations with last-loaded-wins semantics for name collisions within
// the artifact itself.
func (l *Loader) Load(artifact types.Artifact) (CodeContainer, error) {
	logger := log.WithArtifact(artifact.ID, artifact.Version)

	root, err := l.stagingDir(artifact)
	if err != nil {
		metrics.ArtifactsLoadedTotal.WithLabelValues("extract_error").Inc()
		return nil, fmt.Errorf("load: staging %s: %w", artifact.ID, err)
	}

	sources, err := l.eligibleSources(root)
	if err != nil {
		metrics.ArtifactsLoadedTotal.WithLabelValues("scan_error").Inc()
		return nil, fmt.Errorf("load: scanning %s: %w", artifact.ID, err)
	}
	if len(sources) == 0 {
		metrics.ArtifactsLoadedTotal.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("load: artifact %s contains no eligible sources under library/", artifact.ID)
	}

	generation := l.generation.Add(1)
	merged := types.NewRegistrationSet()
	var lastErr error

	for _, src := range sources {
		container, err := loadSource(generation, artifact.ID, src)
		if err != nil {
			logger.Warn().Err(err).Str("source", src).Msg("module skipped")
			metrics.ModulesSkippedTotal.WithLabelValues("eval_error").Inc()
			lastErr = err
			continue
		}
		merged = merged.Merge(container.Registrations())
	}

	if merged.Empty() {
		metrics.ArtifactsLoadedTotal.WithLabelValues("no_registrations").Inc()
		if lastErr != nil {
			return nil, fmt.Errorf("load: artifact %s produced no registrations: %w", artifact.ID, lastErr)
		}
		return nil, fmt.Errorf("load: artifact %s produced no registrations", artifact.ID)
	}

	for _, w := range merged.Warnings {
		logger.Warn().Msg(w)
	}

	metrics.ArtifactsLoadedTotal.WithLabelValues("ok").Inc()
	return &codeContainer{
		generation: generation,
		artifactID: artifact.ID,
		regs:       merged,
		interp:     nil, // per-source interpreters already evaluated; this container is a logical merge
	}, nil
}

// stagingDir returns the directory to scan for sources: the artifact's
// LocalPath unpacked into a unique subdirectory of extractRoot if it's a
// zip archive, or LocalPath itself if it's already a directory.
func (l *Loader) stagingDir(artifact types.Artifact) (string, error) {
	info, err := os.Stat(artifact.LocalPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return artifact.LocalPath, nil
	}

	dest := filepath.Join(l.extractRoot, fmt.Sprintf("%s-%s-%d", artifact.ID, artifact.Version, l.generation.Load()))
	if err := extractZip(artifact.LocalPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// eligibleSources walks root/library/<framework>/... collecting .go files
// whose base name (without extension) doesn't match an excluded prefix.
func (l *Loader) eligibleSources(root string) ([]string, error) {
	libraryRoot := filepath.Join(root, "library")
	if _, err := os.Stat(libraryRoot); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	err := filepath.Walk(libraryRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		base := strings.TrimSuffix(filepath.Base(path), ".go")
		for _, prefix := range l.excludePrefix {
			if strings.HasPrefix(base, prefix) {
				return nil
			}
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// extractZip unpacks src into dest, guarding against zip-slip path escape.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("zip-slip: illegal file path %q", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		if err := extractZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// ArtifactRegistry holds the live CodeContainer for every loaded artifact.
// The reload coordinator asks it for the merged RegistrationSet across all
// currently-live containers whenever it needs to hand the worker something
// new to run.
type ArtifactRegistry struct {
	mu         sync.Mutex
	containers map[types.ArtifactKey]CodeContainer
}

// NewArtifactRegistry returns an empty registry.
func NewArtifactRegistry() *ArtifactRegistry {
	return &ArtifactRegistry{containers: make(map[types.ArtifactKey]CodeContainer)}
}

// Put records a container against its artifact's identity, unloading and
// replacing any previous container for the same key.
func (r *ArtifactRegistry) Put(key types.ArtifactKey, c CodeContainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.containers[key]; ok {
		prev.Unload()
	}
	r.containers[key] = c
	metrics.ContainersLiveTotal.Set(float64(len(r.containers)))
}

// Remove unloads and forgets the container for key, if present.
func (r *ArtifactRegistry) Remove(key types.ArtifactKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[key]; ok {
		c.Unload()
		delete(r.containers, key)
		metrics.ContainersLiveTotal.Set(float64(len(r.containers)))
	}
}

// Len reports how many containers are currently registered.
func (r *ArtifactRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// Merged folds every live container's RegistrationSet together, applying
// last-loaded-wins across artifact boundaries the same way Loader does
// within a single artifact. Containers are merged in ascending Generation
// order, so on a name collision the most recently loaded artifact wins.
func (r *ArtifactRegistry) Merged() types.RegistrationSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]CodeContainer, 0, len(r.containers))
	for _, c := range r.containers {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Generation() < ordered[j].Generation() })

	out := types.NewRegistrationSet()
	for _, c := range ordered {
		out = out.Merge(c.Registrations())
	}
	return out
}

// MergedWithFallback returns Merged(), or baseline with usingBaseline=true
// if no container is currently registered.
func (r *ArtifactRegistry) MergedWithFallback(baseline types.RegistrationSet) (regs types.RegistrationSet, usingBaseline bool) {
	if r.Len() == 0 {
		return baseline, true
	}
	return r.Merged(), false
}
