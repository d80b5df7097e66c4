// Package metrics provides Prometheus instrumentation for vaultcore,
// trimmed and renamed from the teacher's promauto-registered collector set
// to the backup domain: chunk store operations/bytes, the deduplication
// ratio, backup/restore duration, and snapshot counts. Per spec §6 ("no
// network ports are opened by the core"), exposing these over HTTP is left
// to the external caller, which can serve the default Prometheus registry
// (where New registers every collector) through its own promhttp.Handler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vaultcore"

// Metrics contains every Prometheus collector the backup engine updates.
type Metrics struct {
	// Chunk store metrics.
	ChunkOperationsTotal   *prometheus.CounterVec
	ChunkOperationDuration *prometheus.HistogramVec
	ChunkBytesTotal        *prometheus.CounterVec
	ChunksTotal            prometheus.Gauge
	ChunksSizeBytes        prometheus.Gauge
	DedupRatio             prometheus.Gauge

	// Backup/restore engine metrics.
	BackupDuration  prometheus.Histogram
	RestoreDuration prometheus.Histogram
	FilesProcessed  *prometheus.CounterVec
	SnapshotsTotal  prometheus.Gauge

	// Manifest metrics.
	ManifestSaveDuration prometheus.Histogram
	ManifestLoadErrors   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// New returns the collector set registered against the default registry.
// The collectors are created and registered on the first call; later calls
// return that same set, so every engine in a process shares it.
func New() *Metrics {
	defaultOnce.Do(func() { defaultMetrics = newMetrics() })
	return defaultMetrics
}

// newMetrics creates and registers every collector against the default
// registry.
func newMetrics() *Metrics {
	return &Metrics{
		ChunkOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chunkstore",
				Name:      "operations_total",
				Help:      "Total number of chunk store operations.",
			},
			[]string{"operation", "status"},
		),
		ChunkOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chunkstore",
				Name:      "operation_duration_seconds",
				Help:      "Chunk store operation duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		ChunkBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chunkstore",
				Name:      "bytes_total",
				Help:      "Total bytes processed by chunk store operations.",
			},
			[]string{"operation"},
		),
		ChunksTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chunkstore",
				Name:      "chunks_total",
				Help:      "Total number of unique chunks in the store.",
			},
		),
		ChunksSizeBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chunkstore",
				Name:      "chunks_size_bytes",
				Help:      "Total size of all stored chunks in bytes.",
			},
		),
		DedupRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chunkstore",
				Name:      "dedup_ratio",
				Help:      "existing / (existing + new) chunks for the most recent run.",
			},
		),

		BackupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "backup_duration_seconds",
				Help:      "Duration of a full backup run in seconds.",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		RestoreDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "restore_duration_seconds",
				Help:      "Duration of a single-file restore in seconds.",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 10, 30},
			},
		),
		FilesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "files_processed_total",
				Help:      "Total number of files processed by scan/plan/run operations.",
			},
			[]string{"operation"},
		),
		SnapshotsTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "snapshots_total",
				Help:      "Current number of saved snapshots.",
			},
		),

		ManifestSaveDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "manifest",
				Name:      "save_duration_seconds",
				Help:      "Duration of manifest save (write-temp + rename, twice) in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ManifestLoadErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "manifest",
				Name:      "load_errors_total",
				Help:      "Total number of manifest load/deserialization failures.",
			},
			[]string{"reason"},
		),
	}
}

// RecordChunkOperation records a single chunk store operation.
func (m *Metrics) RecordChunkOperation(operation, status string, duration float64, bytes int64) {
	m.ChunkOperationsTotal.WithLabelValues(operation, status).Inc()
	m.ChunkOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.ChunkBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordDedup updates the gauge-based dedup accounting after a plan/run.
func (m *Metrics) RecordDedup(existing, newChunks int64) {
	total := existing + newChunks
	if total == 0 {
		m.DedupRatio.Set(0)
		return
	}
	m.DedupRatio.Set(float64(existing) / float64(total))
}

// RecordFileProcessed increments the per-operation file counter.
func (m *Metrics) RecordFileProcessed(operation string) {
	m.FilesProcessed.WithLabelValues(operation).Inc()
}

// RecordChunkStored updates the store-wide gauges after a chunk is written
// to disk for the first time (as opposed to a deduplicated PutClassified
// call, which never reaches this).
func (m *Metrics) RecordChunkStored(size int64) {
	m.ChunksTotal.Inc()
	m.ChunksSizeBytes.Add(float64(size))
}

// RecordManifestSave records one Manager.Save call's duration.
func (m *Metrics) RecordManifestSave(duration float64) {
	m.ManifestSaveDuration.Observe(duration)
}

// RecordManifestLoadError increments the manifest load-error counter for the
// given reason (e.g. "not_found", "corrupt").
func (m *Metrics) RecordManifestLoadError(reason string) {
	m.ManifestLoadErrors.WithLabelValues(reason).Inc()
}
