package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors exposed by a phobosd
// process.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Sub-request counters
	subRequestsTotal *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec

	// Sync epoch counters/histograms
	syncEpochsTotal    *prometheus.CounterVec
	syncEpochDuration  *prometheus.HistogramVec
	syncEpochBytes     *prometheus.HistogramVec

	// Device/medium gauges
	deviceState  *prometheus.GaugeVec
	mediumState  *prometheus.GaugeVec
	deviceFailed *prometheus.CounterVec
	mediumFailed *prometheus.CounterVec

	// Dispatcher
	dispatchQueueDepth *prometheus.GaugeVec
	fairShareSkips     *prometheus.CounterVec

	// Uptime
	uptime prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		subRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subrequests_total",
				Help:      "Total sub-requests completed, by kind and status",
			},
			[]string{"kind", "family", "status"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_retries_total",
				Help:      "Total dispatcher retries, by retry cause",
			},
			[]string{"family", "class"},
		),

		syncEpochsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_epochs_total",
				Help:      "Total sync epochs flushed, by trigger reason",
			},
			[]string{"family", "trigger"},
		),

		syncEpochDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_epoch_duration_milliseconds",
				Help:      "Duration of a sync epoch's medium_sync call",
				Buckets:   buckets,
			},
			[]string{"family"},
		),

		syncEpochBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_epoch_bytes",
				Help:      "Bytes flushed per sync epoch",
				Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 10),
			},
			[]string{"family"},
		),

		deviceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_by_state",
				Help:      "Current device count by admin/op state",
			},
			[]string{"family", "state"},
		),

		mediumState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "media_by_state",
				Help:      "Current medium count by admin state",
			},
			[]string{"family", "state"},
		),

		deviceFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_failures_total",
				Help:      "Total device failure attributions",
			},
			[]string{"family"},
		),

		mediumFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "medium_failures_total",
				Help:      "Total medium failure attributions",
			},
			[]string{"family"},
		),

		dispatchQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_queue_depth",
				Help:      "Current dispatcher incoming queue depth",
			},
			[]string{"family"},
		),

		fairShareSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fair_share_skips_total",
				Help:      "Total dispatch skips due to fair-share bitmask",
			},
			[]string{"family"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the phobosd process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.subRequestsTotal,
		pm.retriesTotal,
		pm.syncEpochsTotal,
		pm.syncEpochDuration,
		pm.syncEpochBytes,
		pm.deviceState,
		pm.mediumState,
		pm.deviceFailed,
		pm.mediumFailed,
		pm.dispatchQueueDepth,
		pm.fairShareSkips,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordSubRequest records a completed sub-request.
func RecordSubRequest(kind, family, status string) {
	if promMetrics == nil {
		return
	}
	promMetrics.subRequestsTotal.WithLabelValues(kind, family, status).Inc()
}

// RecordRetry records a dispatcher retry; class is the retry cause.
func RecordRetry(family, class string) {
	if promMetrics == nil {
		return
	}
	promMetrics.retriesTotal.WithLabelValues(family, class).Inc()
}

// RecordSyncEpoch records a flushed sync epoch's trigger, duration and size.
func RecordSyncEpoch(family, trigger string, durationMs int64, bytes int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.syncEpochsTotal.WithLabelValues(family, trigger).Inc()
	promMetrics.syncEpochDuration.WithLabelValues(family).Observe(float64(durationMs))
	promMetrics.syncEpochBytes.WithLabelValues(family).Observe(float64(bytes))
}

// SetDeviceState sets the device-by-state gauge.
func SetDeviceState(family, state string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.deviceState.WithLabelValues(family, state).Set(float64(count))
}

// SetMediumState sets the medium-by-state gauge.
func SetMediumState(family, state string, count int) {
	if promMetrics == nil {
		return
	}
	promMetrics.mediumState.WithLabelValues(family, state).Set(float64(count))
}

// RecordDeviceFailure records a device failure attribution.
func RecordDeviceFailure(family string) {
	if promMetrics == nil {
		return
	}
	promMetrics.deviceFailed.WithLabelValues(family).Inc()
}

// RecordMediumFailure records a medium failure attribution.
func RecordMediumFailure(family string) {
	if promMetrics == nil {
		return
	}
	promMetrics.mediumFailed.WithLabelValues(family).Inc()
}

// SetDispatchQueueDepth sets the dispatcher queue-depth gauge.
func SetDispatchQueueDepth(family string, depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.dispatchQueueDepth.WithLabelValues(family).Set(float64(depth))
}

// RecordFairShareSkip records a dispatch skip from the fair-share bitmask.
func RecordFairShareSkip(family string) {
	if promMetrics == nil {
		return
	}
	promMetrics.fairShareSkips.WithLabelValues(family).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry, for custom collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
