package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BackupMetrics exposes snapshot, validation and restore metrics on a
// private registry. All methods are safe on a nil receiver.
type BackupMetrics struct {
	registry *prometheus.Registry

	snapshotsTotal   *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
	snapshotBytes    prometheus.Histogram
	snapshotRecords  prometheus.Gauge

	validationsTotal *prometheus.CounterVec
	validationIssues *prometheus.CounterVec

	restoresTotal        *prometheus.CounterVec
	restoreDuration      prometheus.Histogram
	restoredRecords      prometheus.Counter
	collectionWriteFails *prometheus.CounterVec

	historyEntries  prometheus.Gauge
	historyPruned   prometheus.Counter
	scheduledErrors prometheus.Counter
}

// NewBackupMetrics creates and registers the metric set under namespace.
func NewBackupMetrics(namespace string) *BackupMetrics {
	if namespace == "" {
		namespace = "pms"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &BackupMetrics{
		registry: registry,
		snapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "snapshots_total",
			Help:      "Snapshot builds by reason and result",
		}, []string{"reason", "result"}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "snapshot_duration_seconds",
			Help:      "Snapshot build duration",
			Buckets:   prometheus.DefBuckets,
		}),
		snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "snapshot_size_bytes",
			Help:      "Serialized snapshot size",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		snapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "last_snapshot_records",
			Help:      "Record count of the last successful snapshot",
		}),
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "validations_total",
			Help:      "Snapshot validations by outcome",
		}, []string{"valid"}),
		validationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "validation_issues_total",
			Help:      "Validation issues by kind",
		}, []string{"kind"}),
		restoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "restores_total",
			Help:      "Restore runs by result",
		}, []string{"result"}),
		restoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "restore_duration_seconds",
			Help:      "Restore duration",
			Buckets:   prometheus.DefBuckets,
		}),
		restoredRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "restored_records_total",
			Help:      "Records written by restores",
		}),
		collectionWriteFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "collection_write_failures_total",
			Help:      "Collections that failed to restore",
		}, []string{"collection"}),
		historyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "history_entries",
			Help:      "Entries currently held in the snapshot history",
		}),
		historyPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "history_pruned_total",
			Help:      "History entries removed by retention cleanup",
		}),
		scheduledErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "scheduled_failures_total",
			Help:      "Scheduled snapshot runs that failed",
		}),
	}

	registry.MustRegister(
		m.snapshotsTotal, m.snapshotDuration, m.snapshotBytes, m.snapshotRecords,
		m.validationsTotal, m.validationIssues,
		m.restoresTotal, m.restoreDuration, m.restoredRecords, m.collectionWriteFails,
		m.historyEntries, m.historyPruned, m.scheduledErrors,
	)
	return m
}

// Registry returns the private registry.
func (m *BackupMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *BackupMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *BackupMetrics) ObserveSnapshot(reason string, d time.Duration, records int, size int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotsTotal.WithLabelValues(reason, "error").Inc()
		return
	}
	m.snapshotsTotal.WithLabelValues(reason, "success").Inc()
	m.snapshotDuration.Observe(d.Seconds())
	m.snapshotBytes.Observe(float64(size))
	m.snapshotRecords.Set(float64(records))
}

func (m *BackupMetrics) ObserveValidation(valid bool, issueKinds []string) {
	if m == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.validationsTotal.WithLabelValues(label).Inc()
	for _, kind := range issueKinds {
		m.validationIssues.WithLabelValues(kind).Inc()
	}
}

// ObserveRestore records a finished restore; result is success, partial,
// failed, dry_run or cancelled.
func (m *BackupMetrics) ObserveRestore(result string, d time.Duration, restored int) {
	if m == nil {
		return
	}
	m.restoresTotal.WithLabelValues(result).Inc()
	m.restoreDuration.Observe(d.Seconds())
	m.restoredRecords.Add(float64(restored))
}

func (m *BackupMetrics) CollectionWriteFailed(collection string) {
	if m == nil {
		return
	}
	m.collectionWriteFails.WithLabelValues(collection).Inc()
}

func (m *BackupMetrics) SetHistoryEntries(n int) {
	if m == nil {
		return
	}
	m.historyEntries.Set(float64(n))
}

func (m *BackupMetrics) HistoryPruned(n int) {
	if m == nil {
		return
	}
	m.historyPruned.Add(float64(n))
}

func (m *BackupMetrics) ScheduledRunFailed() {
	if m == nil {
		return
	}
	m.scheduledErrors.Inc()
}
