package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	fn()
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"HOT_RELOAD_WATCH_PATHS": "/plugins",
	}, func() {
		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, "localhost:7233", cfg.TemporalServer)
		assert.Equal(t, "hotworker", cfg.TaskQueue)
		assert.Equal(t, ":8088", cfg.HealthAddr)
		assert.Equal(t, ":9095", cfg.MetricsAddr)
	})
}

func TestLoadRejectsMissingWatchPathsInFileSystemMode(t *testing.T) {
	withEnv(t, map[string]string{
		"HOT_RELOAD_MODE":        "FileSystem",
		"HOT_RELOAD_WATCH_PATHS": "",
	}, func() {
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadParsesPackageFilterList(t *testing.T) {
	withEnv(t, map[string]string{
		"HOT_RELOAD_WATCH_PATHS":      "/plugins",
		"ARTIFACTORY_PACKAGE_FILTERS": "payments, shipping ,inventory",
	}, func() {
		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, []string{"payments", "shipping", "inventory"}, cfg.ArtifactoryPackageFilters)
	})
}

func TestLoadLayersYAMLFileBeneathEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hotworker.yaml")
	assert.NoError(t, writeFile(path, "taskQueue: from-file\nhotReloadWatchPaths:\n  - /from/file\n"))

	withEnv(t, map[string]string{
		"HOTWORKER_CONFIG_FILE": path,
	}, func() {
		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, "from-file", cfg.TaskQueue)
		assert.Equal(t, []string{"/from/file"}, cfg.HotReloadWatchPaths)
	})

	withEnv(t, map[string]string{
		"HOTWORKER_CONFIG_FILE": path,
		"TASK_QUEUE":            "from-env",
	}, func() {
		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, "from-env", cfg.TaskQueue)
	})
}
