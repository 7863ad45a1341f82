package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eunomia_runtime"

var (
	// Registry is a dedicated Prometheus registry for all runtime metrics.
	Registry = prometheus.NewRegistry()

	// TasksStarted counts tasks started by program type and outcome.
	TasksStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Total number of tasks started",
		},
		[]string{"program_type", "outcome"}, // json|wasm|tar, ok|error
	)

	// TasksTerminated counts tasks that stopped, grouped by how.
	TasksTerminated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_terminated_total",
			Help:      "Total number of tasks terminated",
		},
		[]string{"reason"}, // requested|exited|failed
	)

	// TasksRunning gauges the number of tasks currently registered.
	TasksRunning = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of tasks currently tracked by the task manager",
		},
	)

	// PollDuration measures how long one poll tick takes, by poller kind.
	PollDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_ms",
			Help:      "Duration of one poller tick in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"poller"}, // ringbuf|perfevent|samplemap|noop
	)

	// PollErrors counts poller failures by kind.
	PollErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Total number of poller tick failures",
		},
		[]string{"poller"},
	)

	// ExportErrors counts export/dump failures by format.
	ExportErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Total number of event export failures",
		},
		[]string{"format"}, // json|plaintext|raw
	)

	// LogBufferDepth gauges the combined buffered log entry count across
	// every task, sampled on demand rather than on every append.
	LogBufferDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_buffer_depth",
			Help:      "Total buffered log entries across all tracked tasks",
		},
	)

	// ArtifactCacheOps counts artifact cache lookups by outcome.
	ArtifactCacheOps = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cache_ops_total",
			Help:      "Total artifact cache Put/Get operations",
		},
		[]string{"op", "outcome"}, // put|get, ok|hit|miss|error
	)

	// ArtifactCacheBytes gauges on-disk artifact cache footprint.
	ArtifactCacheBytes = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_cache_bytes",
			Help:      "Total compressed bytes held in the artifact cache",
		},
	)

	// WatcherArtifactsStarted counts tasks auto-started by the directory
	// watcher, by program type.
	WatcherArtifactsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_artifacts_started_total",
			Help:      "Total tasks auto-started from a watched directory",
		},
		[]string{"program_type"},
	)

	// RuntimeInfo exposes static information about the running process.
	RuntimeInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_info",
			Help:      "Static information about the runtime process",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is a liveness gauge for the runtime process.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the runtime is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetRuntimeInfo publishes a single info metric for the running process.
func SetRuntimeInfo(osName, arch, version string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if version == "" {
		version = "dev"
	}
	RuntimeInfo.WithLabelValues(osName, arch, version).Set(1)
}

// ObserveTaskStart records a task-start attempt.
func ObserveTaskStart(programType, outcome string) {
	TasksStarted.WithLabelValues(programType, outcome).Inc()
}

// ObserveTaskTerminated records why a task stopped running.
func ObserveTaskTerminated(reason string) {
	TasksTerminated.WithLabelValues(reason).Inc()
}

// SetTasksRunning reports the task manager's current registry size.
func SetTasksRunning(count int) {
	if count < 0 {
		count = 0
	}
	TasksRunning.Set(float64(count))
}

// ObservePoll records timing and, on failure, an error count for one
// poller tick.
func ObservePoll(start time.Time, poller string, err error) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	PollDuration.WithLabelValues(poller).Observe(elapsed)
	if err != nil {
		PollErrors.WithLabelValues(poller).Inc()
	}
}

// ObserveExportError records a failed event export.
func ObserveExportError(format string) {
	ExportErrors.WithLabelValues(format).Inc()
}

// SetLogBufferDepth reports the combined buffered log entry count.
func SetLogBufferDepth(count int) {
	if count < 0 {
		count = 0
	}
	LogBufferDepth.Set(float64(count))
}

// ObserveArtifactCacheOp records an artifact cache Put or Get outcome.
func ObserveArtifactCacheOp(op, outcome string) {
	ArtifactCacheOps.WithLabelValues(op, outcome).Inc()
}

// SetArtifactCacheBytes reports the artifact cache's on-disk footprint.
func SetArtifactCacheBytes(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	ArtifactCacheBytes.Set(float64(bytes))
}

// ObserveWatcherStart records a task the directory watcher auto-started.
func ObserveWatcherStart(programType string) {
	WatcherArtifactsStarted.WithLabelValues(programType).Inc()
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[Metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
