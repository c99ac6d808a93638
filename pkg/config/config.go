// Package config loads the hotworker process configuration from the
// environment. There is exactly one Config, built once at startup and
// passed down by value/pointer to every subsystem — no subsystem reads
// os.Getenv directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/hotworker/pkg/types"
)

// Config is the fully resolved process configuration.
type Config struct {
	// Orchestration
	TemporalServer string
	TaskQueue      string

	// Hot reload
	HotReloadEnabled    bool
	HotReloadMode       types.WatchMode
	HotReloadWatchPaths []string
	HotReloadFileFilter string
	HotReloadDebounce   time.Duration

	// Remote feed
	ArtifactoryFeedURL        string
	ArtifactoryUsername       string
	ArtifactoryPassword       string
	ArtifactoryPollInterval   time.Duration
	ArtifactoryPackageFilters []string
	ArtifactoryDownloadPath   string

	// Ambient
	LogLevel    string
	LogJSON     bool
	HealthAddr  string
	MetricsAddr string
}

// fileDefaults holds the subset of Config that may be supplied via an
// optional YAML file, layered beneath environment variables: a value set
// in the file becomes the new default, but an explicit env var still wins.
type fileDefaults struct {
	TemporalServer            string   `yaml:"temporalServer"`
	TaskQueue                 string   `yaml:"taskQueue"`
	HotReloadWatchPaths       []string `yaml:"hotReloadWatchPaths"`
	ArtifactoryFeedURL        string   `yaml:"artifactoryFeedURL"`
	ArtifactoryPackageFilters []string `yaml:"artifactoryPackageFilters"`
}

// loadFileDefaults reads the YAML file named by HOTWORKER_CONFIG_FILE, if
// set. A missing env var is not an error: most deployments configure
// hotworker entirely through the environment.
func loadFileDefaults() (fileDefaults, error) {
	var fd fileDefaults
	path := os.Getenv("HOTWORKER_CONFIG_FILE")
	if path == "" {
		return fd, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fd, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return fd, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return fd, nil
}

// Load builds a Config from an optional YAML file and the process
// environment, applying the defaults documented in the external-interfaces
// contract. Environment variables always take precedence over the file.
func Load() (Config, error) {
	fd, err := loadFileDefaults()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		TemporalServer:      getEnv("TEMPORAL_SERVER", firstNonEmpty(fd.TemporalServer, "localhost:7233")),
		TaskQueue:           getEnv("TASK_QUEUE", firstNonEmpty(fd.TaskQueue, "hotworker")),
		HotReloadEnabled:    getEnvBool("HOT_RELOAD_ENABLED", true),
		HotReloadMode:       types.WatchMode(getEnv("HOT_RELOAD_MODE", string(types.WatchModeFileSystem))),
		HotReloadWatchPaths: getEnvList("HOT_RELOAD_WATCH_PATHS", fd.HotReloadWatchPaths),
		HotReloadFileFilter: getEnv("HOT_RELOAD_FILE_FILTER", "*.zip"),
		HotReloadDebounce:   getEnvDuration("HOT_RELOAD_DEBOUNCE_MS", 1000*time.Millisecond, time.Millisecond),

		ArtifactoryFeedURL:        getEnv("ARTIFACTORY_FEED_URL", fd.ArtifactoryFeedURL),
		ArtifactoryUsername:       getEnv("ARTIFACTORY_USERNAME", ""),
		ArtifactoryPassword:       getEnv("ARTIFACTORY_PASSWORD", ""),
		ArtifactoryPollInterval:   getEnvDuration("ARTIFACTORY_POLL_INTERVAL_SECONDS", 30*time.Second, time.Second),
		ArtifactoryPackageFilters: getEnvList("ARTIFACTORY_PACKAGE_FILTERS", fd.ArtifactoryPackageFilters),
		ArtifactoryDownloadPath:   getEnv("ARTIFACTORY_DOWNLOAD_PATH", "/var/lib/hotworker/downloads"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     getEnvBool("LOG_JSON", false),
		HealthAddr:  getEnv("HEALTH_ADDR", ":8088"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9095"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c Config) validate() error {
	if c.TemporalServer == "" {
		return fmt.Errorf("config: TEMPORAL_SERVER must not be empty")
	}
	if c.TaskQueue == "" {
		return fmt.Errorf("config: TASK_QUEUE must not be empty")
	}
	switch c.HotReloadMode {
	case types.WatchModeFileSystem, types.WatchModeArtifactoryFeed, types.WatchModeBoth:
	default:
		return fmt.Errorf("config: invalid HOT_RELOAD_MODE %q", c.HotReloadMode)
	}
	if c.HotReloadEnabled && (c.HotReloadMode == types.WatchModeFileSystem || c.HotReloadMode == types.WatchModeBoth) && len(c.HotReloadWatchPaths) == 0 {
		return fmt.Errorf("config: HOT_RELOAD_WATCH_PATHS required when HOT_RELOAD_MODE includes FileSystem")
	}
	if c.HotReloadEnabled && (c.HotReloadMode == types.WatchModeArtifactoryFeed || c.HotReloadMode == types.WatchModeBoth) && c.ArtifactoryFeedURL == "" {
		return fmt.Errorf("config: ARTIFACTORY_FEED_URL required when HOT_RELOAD_MODE includes ArtifactoryFeed")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration, unit time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * unit
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
