// Package telemetry holds the core's internal instrumentation: a
// structured logger and a private Prometheus registry. The core never
// starts an HTTP server — mounting /metrics is the surrounding process's
// job, consistent with "no CLI is part of the core."
//
// Metric naming convention: sentinel_<subsystem>_<name>_<unit>.
//
// Cardinality control: pid is never used as a label; per-scanner counters
// are keyed by scanner_id (a small, fixed set).
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every metric descriptor the core touches during a scan.
type Metrics struct {
	registry *prometheus.Registry

	ScanDuration         prometheus.Histogram
	ProbeDuration        *prometheus.HistogramVec
	AnomaliesTotal       *prometheus.CounterVec
	ProbeErrorsTotal     *prometheus.CounterVec
	BeaconingBuckets     prometheus.Gauge
	CodeSignCacheEntries prometheus.Gauge
}

// NewMetrics creates and registers every metric on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a full scan.",
			Buckets:   prometheus.DefBuckets,
		}),

		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one probe's scan, by scanner_id.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scanner_id"}),

		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "anomaly",
			Name:      "emitted_total",
			Help:      "Total anomalies emitted, by scanner_id and severity.",
		}, []string{"scanner_id", "severity"}),

		ProbeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "probe",
			Name:      "errors_total",
			Help:      "Total non-fatal errors observed by a probe, by scanner_id and kind.",
		}, []string{"scanner_id", "kind"}),

		BeaconingBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "netwatch",
			Name:      "active_buckets",
			Help:      "Current number of (process, host) buckets tracked by the network analyzer.",
		}),

		CodeSignCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "codesign",
			Name:      "cache_entries",
			Help:      "Current number of entries in the code-signing validator cache.",
		}),
	}

	reg.MustRegister(
		m.ScanDuration,
		m.ProbeDuration,
		m.AnomaliesTotal,
		m.ProbeErrorsTotal,
		m.BeaconingBuckets,
		m.CodeSignCacheEntries,
	)

	return m
}

// Registry exposes the private registry so a surrounding process can mount
// it on its own /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveScan records one scan's total duration.
func (m *Metrics) ObserveScan(d time.Duration) {
	m.ScanDuration.Observe(d.Seconds())
}

// ObserveProbe records one probe's duration and the anomalies it emitted.
func (m *Metrics) ObserveProbe(scannerID string, d time.Duration, severityCounts map[string]int) {
	m.ProbeDuration.WithLabelValues(scannerID).Observe(d.Seconds())
	for sev, n := range severityCounts {
		m.AnomaliesTotal.WithLabelValues(scannerID, sev).Add(float64(n))
	}
}

// RecordProbeError increments the error counter for a (scanner, kind) pair.
func (m *Metrics) RecordProbeError(scannerID, kind string) {
	m.ProbeErrorsTotal.WithLabelValues(scannerID, kind).Inc()
}
