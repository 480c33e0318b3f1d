package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SortMetrics provides observability for the external sort engine.
//
// Example usage:
//
//	sorter := extsort.New(extsort.Config{Metrics: metrics.NewSortMetrics()})
type SortMetrics interface {
	// RecordSort records a sort that built a temporary index.
	//
	// Parameters:
	//   - entries: Number of entries written to the index
	//   - runs: Number of runs spilled before the merge (0 when one run sufficed)
	//   - duration: Time from the first read of the input to a ready cursor
	//   - err: Error if the sort failed, nil if successful
	RecordSort(entries, runs int, duration time.Duration, err error)

	// RecordShortcut records a sort that returned its input unchanged
	// because it held at most one entry.
	RecordShortcut()

	// IndexOpened increments the number of open sort indexes.
	IndexOpened()

	// IndexClosed decrements the number of open sort indexes.
	IndexClosed()
}

// sortMetrics is the Prometheus implementation of SortMetrics.
type sortMetrics struct {
	sortsTotal    *prometheus.CounterVec
	sortDuration  prometheus.Histogram
	sortedEntries prometheus.Histogram
	runsTotal     prometheus.Counter
	openIndexes   prometheus.Gauge
}

// NewSortMetrics creates a new Prometheus-backed SortMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewSortMetrics() SortMetrics {
	if !IsEnabled() {
		return NewNoopSortMetrics()
	}
	return newSortMetrics(GetRegistry())
}

func newSortMetrics(reg prometheus.Registerer) *sortMetrics {
	return &sortMetrics{
		sortsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittoldap_sort_operations_total",
				Help: "Total number of server-side sorts by outcome (indexed, shortcut, error)",
			},
			[]string{"status"},
		),
		sortDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittoldap_sort_duration_seconds",
				Help: "Time spent building sort indexes in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
				},
			},
		),
		sortedEntries: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittoldap_sort_entries",
				Help:    "Distribution of the number of entries per indexed sort",
				Buckets: prometheus.ExponentialBuckets(2, 4, 10),
			},
		),
		runsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittoldap_sort_runs_total",
				Help: "Total number of sorted runs spilled to disk",
			},
		),
		openIndexes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittoldap_sort_open_indexes",
				Help: "Current number of open temporary sort indexes",
			},
		),
	}
}

func (m *sortMetrics) RecordSort(entries, runs int, duration time.Duration, err error) {
	if err != nil {
		m.sortsTotal.WithLabelValues("error").Inc()
		return
	}
	m.sortsTotal.WithLabelValues("indexed").Inc()
	m.sortDuration.Observe(duration.Seconds())
	m.sortedEntries.Observe(float64(entries))
	m.runsTotal.Add(float64(runs))
}

func (m *sortMetrics) RecordShortcut() {
	m.sortsTotal.WithLabelValues("shortcut").Inc()
}

func (m *sortMetrics) IndexOpened() {
	m.openIndexes.Inc()
}

func (m *sortMetrics) IndexClosed() {
	m.openIndexes.Dec()
}

// noopSortMetrics is a no-op implementation of SortMetrics with zero overhead.
type noopSortMetrics struct{}

// NewNoopSortMetrics returns a SortMetrics that discards everything.
func NewNoopSortMetrics() SortMetrics { return noopSortMetrics{} }

func (noopSortMetrics) RecordSort(entries, runs int, duration time.Duration, err error) {}
func (noopSortMetrics) RecordShortcut()                                                 {}
func (noopSortMetrics) IndexOpened()                                                    {}
func (noopSortMetrics) IndexClosed()                                                    {}
