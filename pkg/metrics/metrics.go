package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkerEpoch is the generation number of the currently running Temporal worker.
	WorkerEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_worker_epoch",
			Help: "Generation number of the currently running worker",
		},
	)

	WorkerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_worker_running",
			Help: "Whether a Temporal worker is currently polling the task queue (1) or not (0)",
		},
	)

	RegisteredTasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_registered_tasks_total",
			Help: "Number of tasks registered with the current worker",
		},
	)

	RegisteredWorkflowsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_registered_workflows_total",
			Help: "Number of workflow types registered with the current worker",
		},
	)

	UsingBaselineSet = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_using_baseline_set",
			Help: "Whether the worker is currently running with the fallback baseline registration set",
		},
	)

	// Watcher metrics
	WatcherTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotworker_watcher_triggers_total",
			Help: "Total number of reload triggers emitted, by watcher source",
		},
		[]string{"source"},
	)

	FeedPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotworker_feed_polls_total",
			Help: "Total number of remote feed polls, by outcome",
		},
		[]string{"outcome"},
	)

	FeedCircuitOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_feed_circuit_open",
			Help: "Whether the feed poller's circuit breaker is currently open",
		},
	)

	ArtifactsDownloadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotworker_artifacts_downloaded_total",
			Help: "Total number of plugin artifacts downloaded from the remote feed",
		},
	)

	// Loader metrics
	ArtifactsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotworker_artifacts_loaded_total",
			Help: "Total number of artifacts loaded, by outcome",
		},
		[]string{"outcome"},
	)

	ModulesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotworker_modules_skipped_total",
			Help: "Total number of plugin modules skipped during a load, by reason",
		},
		[]string{"reason"},
	)

	ContainersLiveTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotworker_containers_live_total",
			Help: "Number of code containers currently tracked by the artifact registry",
		},
	)

	// Coordinator / reload metrics
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotworker_reloads_total",
			Help: "Total number of completed hot-reload cycles, by outcome",
		},
		[]string{"outcome"},
	)

	ReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotworker_reload_duration_seconds",
			Help:    "Time taken for a full reload cycle after the quiesce delay (load + unload + worker swap)",
			Buckets: prometheus.DefBuckets,
		},
	)

	PendingReloadCollapsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotworker_pending_reload_collapsed_total",
			Help: "Total number of triggers that arrived mid-reload and were collapsed into the pending follow-up",
		},
	)

	// Lifecycle manager metrics
	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotworker_drain_duration_seconds",
			Help:    "Time spent waiting for the previous worker's execution goroutine to terminate during a reload",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
	)

	DrainTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotworker_drain_timeouts_total",
			Help: "Total number of drains that hit the soft or hard cap before the previous worker confirmed termination",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkerEpoch,
		WorkerRunning,
		RegisteredTasksTotal,
		RegisteredWorkflowsTotal,
		UsingBaselineSet,
		WatcherTriggersTotal,
		FeedPollsTotal,
		FeedCircuitOpen,
		ArtifactsDownloadedTotal,
		ArtifactsLoadedTotal,
		ModulesSkippedTotal,
		ContainersLiveTotal,
		ReloadsTotal,
		ReloadDuration,
		PendingReloadCollapsedTotal,
		DrainDuration,
		DrainTimeoutsTotal,
	)
}

// Handler returns the Prometheus HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
