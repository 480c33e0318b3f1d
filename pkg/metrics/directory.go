package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DirectoryMetrics provides observability for partitions and their stores.
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewDirectoryMetrics("badger")
//	part := directory.NewPartition(suffix, store, schema, m)
//
//	// Without metrics (no-op)
//	part := directory.NewPartition(suffix, store, schema, nil)
type DirectoryMetrics interface {
	// RecordOperation records a completed partition operation.
	//
	// Parameters:
	//   - partition: Suffix of the partition
	//   - operation: Operation name (e.g., "add", "search", "move")
	//   - duration: Time taken to complete the operation
	//   - err: Error if the operation failed, nil if successful
	RecordOperation(partition, operation string, duration time.Duration, err error)

	// RecordStorageOperation records a low-level store operation.
	//
	// Parameters:
	//   - operation: Storage operation (e.g., "get", "put", "delete", "children")
	//   - duration: Time taken
	//   - err: Error if failed
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// SetEntries updates the number of entries held by a partition.
	SetEntries(partition string, count int64)

	// WithStoreType returns metrics sharing the same collectors but labelled
	// with another store type.
	WithStoreType(storeType string) DirectoryMetrics
}

// directoryMetrics is the Prometheus implementation of DirectoryMetrics.
type directoryMetrics struct {
	storeType          string
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	storageOpsTotal    *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	entries            *prometheus.GaugeVec
}

// NewDirectoryMetrics creates a new Prometheus-backed DirectoryMetrics instance.
//
// Parameters:
//   - storeType: Type of entry store (e.g., "memory", "badger")
//     Used as a label to distinguish metrics from different store implementations.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewDirectoryMetrics(storeType string) DirectoryMetrics {
	if !IsEnabled() {
		return NewNoopDirectoryMetrics()
	}
	return newDirectoryMetrics(GetRegistry(), storeType)
}

func newDirectoryMetrics(reg prometheus.Registerer, storeType string) *directoryMetrics {
	return &directoryMetrics{
		storeType: storeType,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoldap_partition_operations_total",
				Help: "Total number of partition operations by store type, partition, operation, and status",
			},
			[]string{"store_type", "partition", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoldap_partition_operation_duration_seconds",
				Help: "Duration of partition operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
				},
			},
			[]string{"store_type", "operation"},
		),
		storageOpsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoldap_store_operations_total",
				Help: "Total number of low-level store operations (get, put, delete, children)",
			},
			[]string{"store_type", "operation", "status"},
		),
		storageOpsDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittoldap_store_operation_duration_seconds",
				Help: "Duration of low-level store operations in seconds",
				Buckets: []float64{
					0.00001, // 10µs
					0.0001,  // 100µs
					0.001,   // 1ms
					0.01,    // 10ms
					0.1,     // 100ms
				},
			},
			[]string{"store_type", "operation"},
		),
		entries: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittoldap_partition_entries",
				Help: "Current number of entries per partition",
			},
			[]string{"store_type", "partition"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *directoryMetrics) RecordOperation(partition, operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(m.storeType, partition, operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

func (m *directoryMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsTotal.WithLabelValues(m.storeType, operation, status(err)).Inc()
	m.storageOpsDuration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

func (m *directoryMetrics) SetEntries(partition string, count int64) {
	m.entries.WithLabelValues(m.storeType, partition).Set(float64(count))
}

func (m *directoryMetrics) WithStoreType(storeType string) DirectoryMetrics {
	c := *m
	c.storeType = storeType
	return &c
}

// noopDirectoryMetrics is a no-op implementation of DirectoryMetrics with zero overhead.
type noopDirectoryMetrics struct{}

// NewNoopDirectoryMetrics returns a DirectoryMetrics that discards everything.
func NewNoopDirectoryMetrics() DirectoryMetrics { return noopDirectoryMetrics{} }

func (noopDirectoryMetrics) RecordOperation(partition, operation string, duration time.Duration, err error) {
}
func (noopDirectoryMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
}
func (noopDirectoryMetrics) SetEntries(partition string, count int64) {}
func (m noopDirectoryMetrics) WithStoreType(string) DirectoryMetrics    { return m }
