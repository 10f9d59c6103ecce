// Package metrics holds the Prometheus collectors of the parking service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics contains the Prometheus metrics for occupancy tracking.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	snapshotsSaved        *prometheus.CounterVec
	schedulerTicks        *prometheus.CounterVec
	schedulerTickDuration prometheus.Histogram
	detectorRequests      *prometheus.CounterVec
	detectorDuration      *prometheus.HistogramVec
	detectionsApplied     *prometheus.CounterVec
	snapshotsPruned       prometheus.Counter
	statusFallbacks       prometheus.Counter
	feedClientsGauge      prometheus.Gauge

	collectors []prometheus.Collector
}

// New creates the metrics and registers them on registry
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.snapshotsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_snapshots_saved_total",
			Help: "Total number of occupancy snapshots written",
		},
		[]string{"scope"}, // camera, global
	)

	m.schedulerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_scheduler_ticks_total",
			Help: "Total number of scheduled snapshot passes",
		},
		[]string{"result"},
	)

	m.schedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parking_scheduler_tick_duration_seconds",
			Help:    "Duration of scheduled snapshot passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.detectorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_detector_requests_total",
			Help: "Total number of requests sent to the detector",
		},
		[]string{"operation", "result"}, // operation: register_zones, detect, status
	)

	m.detectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parking_detector_request_duration_seconds",
			Help:    "Duration of detector requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	m.detectionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_detections_applied_total",
			Help: "Zone occupancy results applied from the detector",
		},
		[]string{"state"}, // occupied, free, unknown_zone
	)

	m.snapshotsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_snapshots_pruned_total",
			Help: "Total number of snapshots deleted by retention",
		},
	)

	m.statusFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_status_fallbacks_total",
			Help: "Live status aggregations answered from stored counts",
		},
	)

	m.feedClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_feed_clients",
			Help: "Connected websocket occupancy viewers",
		},
	)

	m.collectors = []prometheus.Collector{
		m.snapshotsSaved,
		m.schedulerTicks,
		m.schedulerTickDuration,
		m.detectorRequests,
		m.detectorDuration,
		m.detectionsApplied,
		m.snapshotsPruned,
		m.statusFallbacks,
		m.feedClientsGauge,
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSnapshot counts one written snapshot row
func (m *Metrics) RecordSnapshot(scope string) {
	if m == nil {
		return
	}
	m.snapshotsSaved.WithLabelValues(scope).Inc()
}

// RecordSchedulerTick counts one snapshot pass and its duration
func (m *Metrics) RecordSchedulerTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.schedulerTicks.WithLabelValues(result).Inc()
	m.schedulerTickDuration.Observe(d.Seconds())
}

// RecordDetectorRequest counts one detector call
func (m *Metrics) RecordDetectorRequest(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.detectorRequests.WithLabelValues(operation, result).Inc()
	m.detectorDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordDetection counts one zone result from the detector
func (m *Metrics) RecordDetection(state string) {
	if m == nil {
		return
	}
	m.detectionsApplied.WithLabelValues(state).Inc()
}

// RecordPruned adds deleted snapshot rows
func (m *Metrics) RecordPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.snapshotsPruned.Add(float64(n))
}

// RecordStatusFallback counts a live aggregation answered from the store
func (m *Metrics) RecordStatusFallback() {
	if m == nil {
		return
	}
	m.statusFallbacks.Inc()
}

// SetFeedClients sets the number of connected viewers
func (m *Metrics) SetFeedClients(n int) {
	if m == nil {
		return
	}
	m.feedClientsGauge.Set(float64(n))
}
