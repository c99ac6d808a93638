package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/cuemby/hotworker/pkg/config"
	"github.com/cuemby/hotworker/pkg/events"
	"github.com/cuemby/hotworker/pkg/health"
	"github.com/cuemby/hotworker/pkg/lifecycle"
	"github.com/cuemby/hotworker/pkg/load"
	"github.com/cuemby/hotworker/pkg/log"
	"github.com/cuemby/hotworker/pkg/metrics"
	"github.com/cuemby/hotworker/pkg/reload"
	"github.com/cuemby/hotworker/pkg/types"
	"github.com/cuemby/hotworker/pkg/watch"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hotworker",
	Short:   "hotworker runs a Temporal worker whose task and workflow code hot-reloads from plugin artifacts",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hotworker version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Force JSON log output")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if j, _ := cmd.Flags().GetBool("log-json"); j {
		cfg.LogJSON = true
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	temporalClient, err := dialTemporalWithRetry(cfg.TemporalServer)
	if err != nil {
		return fmt.Errorf("connecting to temporal at %s: %w", cfg.TemporalServer, err)
	}
	defer temporalClient.Close()

	manager := lifecycle.NewManager(temporalClient, cfg.TaskQueue, nil, broker)

	baseline := types.NewRegistrationSet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx, baseline); err != nil {
		return fmt.Errorf("starting baseline worker: %w", err)
	}

	registry := load.NewArtifactRegistry()
	loader := load.NewLoader(cfg.ArtifactoryDownloadPath, nil)
	coordinator := reload.NewCoordinator(loader, registry, manager, broker, cfg.HotReloadDebounce, baseline)
	coordinator.Start(ctx)
	defer coordinator.Stop()

	var stopWatchers []func()
	if cfg.HotReloadEnabled {
		stopWatchers = startWatchers(ctx, cfg, coordinator.Artifacts())
	}
	defer func() {
		for _, stop := range stopWatchers {
			stop()
		}
	}()

	checks := []health.NamedCheck{
		{Name: "temporal", Checker: health.NewTCPChecker(cfg.TemporalServer)},
	}
	if cfg.ArtifactoryFeedURL != "" {
		checks = append(checks, health.NamedCheck{Name: "artifactory-feed", Checker: health.NewHTTPChecker(cfg.ArtifactoryFeedURL)})
	}

	healthSrv := health.NewServer(health.ServerDeps{
		Worker:    manager,
		StartedAt: time.Now(),
		Checks:    checks,
	}, nil)
	go func() {
		if err := healthSrv.ListenAndServe(cfg.HealthAddr); err != nil {
			logger.Warn().Err(err).Msg("health server exited")
		}
	}()
	logger.Info().Str("addr", cfg.HealthAddr).Msg("health endpoint listening")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server exited")
		}
	}()
	defer metricsSrv.Close()
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	manager.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}

// dialTemporalWithRetry retries the initial Temporal connection with
// exponential backoff: 5 attempts in all, starting at 2s, each attempt
// bounded by a 30s deadline. The frontend service may not be reachable yet
// on a cold cluster start, and failing hotworker's own startup over a
// transient dial error forces a full process restart for no reason.
func dialTemporalWithRetry(hostPort string) (client.Client, error) {
	var c client.Client
	bkoff := backoff.NewExponentialBackOff()
	bkoff.InitialInterval = 2 * time.Second
	bkoff.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		dialed, err := client.DialContext(attemptCtx, client.Options{HostPort: hostPort})
		if err != nil {
			return err
		}
		c = dialed
		return nil
	}, backoff.WithMaxRetries(bkoff, 4))
	return c, err
}

// startWatchers wires the filesystem watcher and/or remote feed poller
// according to cfg.HotReloadMode, both publishing onto the same artifact
// channel the coordinator consumes.
func startWatchers(ctx context.Context, cfg config.Config, out chan<- types.Artifact) []func() {
	var stops []func()

	if cfg.HotReloadMode == types.WatchModeFileSystem || cfg.HotReloadMode == types.WatchModeBoth {
		fsw, err := watch.NewFSWatcher(cfg.HotReloadWatchPaths, cfg.HotReloadFileFilter, cfg.HotReloadDebounce, out)
		if err == nil {
			if err := fsw.Start(ctx); err == nil {
				stops = append(stops, fsw.Stop)
			}
		}
	}

	if cfg.HotReloadMode == types.WatchModeArtifactoryFeed || cfg.HotReloadMode == types.WatchModeBoth {
		feed := watch.NewFeedPoller(
			cfg.ArtifactoryFeedURL,
			cfg.ArtifactoryUsername,
			cfg.ArtifactoryPassword,
			cfg.ArtifactoryPollInterval,
			cfg.ArtifactoryPackageFilters,
			cfg.ArtifactoryDownloadPath,
			out,
		)
		feed.Start(ctx)
		stops = append(stops, feed.Stop)
	}

	return stops
}
