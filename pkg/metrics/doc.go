/*
Package metrics defines and registers the Prometheus metrics hotworker
exposes, plus a Timer helper for recording operation durations.

# Metrics Catalog

Worker lifecycle:
  - hotworker_worker_epoch (gauge) — generation of the running worker
  - hotworker_worker_running (gauge)
  - hotworker_registered_tasks_total / hotworker_registered_workflows_total (gauges)
  - hotworker_using_baseline_set (gauge)

Discovery:
  - hotworker_watcher_triggers_total{source} (counter)
  - hotworker_feed_polls_total{outcome} (counter)
  - hotworker_feed_circuit_open (gauge)
  - hotworker_artifacts_downloaded_total (counter)

Loading:
  - hotworker_artifacts_loaded_total{outcome} (counter)
  - hotworker_modules_skipped_total{reason} (counter)
  - hotworker_containers_live_total (gauge)

Reload:
  - hotworker_reloads_total{outcome} (counter)
  - hotworker_reload_duration_seconds (histogram)
  - hotworker_pending_reload_collapsed_total (counter)
  - hotworker_drain_duration_seconds (histogram, custom buckets up to 15s)
  - hotworker_drain_timeouts_total (counter)

All metrics register against the default Prometheus registry at package
init via MustRegister; Handler returns the promhttp handler served at
/metrics.

# Usage

	timer := metrics.NewTimer()
	coordinator.runReload(ctx, batch)
	timer.ObserveDuration(metrics.ReloadDuration)

	metrics.WatcherTriggersTotal.WithLabelValues("filesystem").Inc()
*/
package metrics
