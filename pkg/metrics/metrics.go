// Package metrics exposes Prometheus metrics for pgexport.
//
// # Basic Usage
//
//	// Count a fetched page of rows
//	metrics.PagesFetched.WithLabelValues(metrics.StreamRows).Inc()
//
//	// Time a page query
//	timer := metrics.NewTimer()
//	fetchPage()
//	metrics.PageLatency.WithLabelValues(metrics.StreamRows).Observe(timer.Stop().Seconds())
//
//	// Track rows per second
//	tracker := metrics.NewThroughputTracker()
//	tracker.Increment(int64(len(page)))
//	rate := tracker.GetAndReset()
//
// Collectors are registered with the default registry on package load and
// are served by Serve when --metrics-addr is set.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream labels
const (
	// StreamTables labels pages of the table listing
	StreamTables = "tables"
	// StreamRows labels pages of table rows
	StreamRows = "rows"
)

// Status labels
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// PagesFetched counts executed page queries.
	// Labels: stream (tables/rows)
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgexport_pages_fetched_total",
			Help: "Total number of pages fetched",
		},
		[]string{"stream"},
	)

	// PageLatency tracks page query latency in seconds, decode included.
	// Labels: stream (tables/rows)
	PageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pgexport_page_latency_seconds",
			Help: "Page query latency in seconds",
			Buckets: []float64{
				0.001, // 1ms - cached catalog pages
				0.01,  // 10ms
				0.1,   // 100ms - typical row pages
				1,     // 1s
				10,    // 10s - wide tables, large pages
				60,
			},
		},
		[]string{"stream"},
	)

	// RowsExported counts rows written to sinks
	RowsExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgexport_rows_exported_total",
			Help: "Total number of rows written",
		},
	)

	// TablesExported counts finished table exports.
	// Labels: status (success/failure)
	TablesExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgexport_tables_exported_total",
			Help: "Total number of table exports by outcome",
		},
		[]string{"status"},
	)

	// LeasedConnections tracks connections currently leased from the pool
	LeasedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgexport_leased_connections",
			Help: "Number of connections currently leased from the pool",
		},
	)

	// Throughput tracks rows per second
	Throughput = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgexport_throughput_rows_per_second",
			Help: "Current throughput in rows per second",
		},
	)
)

// Timer measures the duration of one operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Rows since last reset
	lastReset time.Time // Time of last reset
}

// NewThroughputTracker creates a new throughput tracker.
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Increment adds n to the row count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (rows/second),
// updates the Prometheus gauge, resets the counter, and returns
// the calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.Set(throughput)

	return throughput
}
