package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Compositor Metrics
	FramesEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_frames_evaluated_total",
			Help: "Total number of frames produced by the compositor",
		},
	)

	EvaluateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montage_evaluate_duration_seconds",
			Help:    "Time spent compositing one frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~0.5s
		},
	)

	LateFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_late_frames_total",
			Help: "Frames that exceeded the playback tick budget",
		},
	)

	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_decode_errors_total",
			Help: "Decode errors absorbed by the compositor and mixer",
		},
		[]string{"kind"},
	)

	// Engine Metrics
	RebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_rebuilds_total",
			Help: "Total number of engine rebuilds",
		},
	)

	RebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montage_rebuild_duration_seconds",
			Help:    "Engine rebuild duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	ClipsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "montage_clips_registered",
			Help: "Number of clips registered with the engine",
		},
	)

	// Audio Metrics
	AudioUnderrunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_audio_underruns_total",
			Help: "Audio device reads that found the ring buffer short",
		},
	)

	AudioBufferSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "montage_audio_buffer_seconds",
			Help: "Audio queued in the playback ring buffer",
		},
	)

	// Worker Metrics
	WorkersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "montage_workers_active",
			Help: "Number of analysis workers running",
		},
		[]string{"kind"},
	)

	WorkerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_worker_outcomes_total",
			Help: "Finished analysis workers by outcome",
		},
		[]string{"kind", "outcome"},
	)

	WorkerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "montage_worker_duration_seconds",
			Help:    "Analysis worker run time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7 minutes
		},
		[]string{"kind"},
	)

	// Export Metrics
	ExportFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "montage_export_frames_total",
			Help: "Total frames written to the encoder",
		},
	)

	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_exports_total",
			Help: "Finished exports by status",
		},
		[]string{"status"},
	)

	ExportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montage_export_duration_seconds",
			Help:    "Export wall time in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
	)

	ExportSpeed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "montage_export_speed_ratio",
			Help:    "Export speed ratio (output duration / processing time)",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0},
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "montage_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "montage_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "montage_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordFrameEvaluated records one composited frame
func RecordFrameEvaluated(duration float64) {
	FramesEvaluatedTotal.Inc()
	EvaluateDuration.Observe(duration)
}

// RecordLateFrame records a frame that missed its tick
func RecordLateFrame() {
	LateFramesTotal.Inc()
}

// RecordDecodeError records a decode error absorbed by the engine
func RecordDecodeError(kind string) {
	DecodeErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordRebuild records an engine rebuild
func RecordRebuild(duration float64, clips int) {
	RebuildsTotal.Inc()
	RebuildDuration.Observe(duration)
	ClipsRegistered.Set(float64(clips))
}

// RecordAudioUnderrun records an audio buffer underrun
func RecordAudioUnderrun() {
	AudioUnderrunsTotal.Inc()
}

// UpdateAudioBuffer records the current audio buffer fill
func UpdateAudioBuffer(seconds float64) {
	AudioBufferSeconds.Set(seconds)
}

// WorkerStarted records an analysis worker start
func WorkerStarted(kind string) {
	WorkersActive.WithLabelValues(kind).Inc()
}

// WorkerFinished records an analysis worker finishing with the given outcome
func WorkerFinished(kind, outcome string, duration float64) {
	WorkersActive.WithLabelValues(kind).Dec()
	WorkerOutcomesTotal.WithLabelValues(kind, outcome).Inc()
	WorkerDuration.WithLabelValues(kind).Observe(duration)
}

// RecordExportFrame records one frame written to the encoder
func RecordExportFrame() {
	ExportFramesTotal.Inc()
}

// RecordExportCompleted records a finished export
func RecordExportCompleted(status string, duration, mediaSeconds float64) {
	ExportsTotal.WithLabelValues(status).Inc()
	ExportDuration.Observe(duration)
	if duration > 0 && mediaSeconds > 0 {
		ExportSpeed.Observe(mediaSeconds / duration)
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
