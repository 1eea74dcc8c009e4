package export

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/metrics"
)

// Progress observes a run. Implementations must be safe for concurrent use;
// in parallel mode tables start and finish on different goroutines.
type Progress interface {
	Start(tables int)
	TableStarted(table string)
	TableFinished(table string, rows int64, err error)
	Stop()
}

// ProgressReporter logs progress of a run on an interval and once at the end.
type ProgressReporter struct {
	logger         *zap.Logger
	reportInterval time.Duration
	throughput     *metrics.ThroughputTracker

	totalTables int64
	doneTables  int64
	failed      int64
	rows        int64
	startTime   time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProgressReporter creates a reporter. A zero interval disables periodic
// reports; the final report is always logged.
func NewProgressReporter(logger *zap.Logger, interval time.Duration) *ProgressReporter {
	return &ProgressReporter{
		logger:         logger.With(zap.String("component", "progress")),
		reportInterval: interval,
		throughput:     metrics.NewThroughputTracker(),
		stopCh:         make(chan struct{}),
	}
}

// Start records the number of tables and begins periodic reporting
func (pr *ProgressReporter) Start(tables int) {
	atomic.StoreInt64(&pr.totalTables, int64(tables))
	pr.startTime = time.Now()

	if pr.reportInterval <= 0 {
		return
	}

	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.reportCurrentProgress()
			}
		}
	}()
}

// TableStarted is a no-op; the reporter counts finished tables only
func (pr *ProgressReporter) TableStarted(string) {}

// TableFinished counts a finished table and its rows
func (pr *ProgressReporter) TableFinished(table string, rows int64, err error) {
	atomic.AddInt64(&pr.doneTables, 1)
	atomic.AddInt64(&pr.rows, rows)
	pr.throughput.Increment(rows)
	if err != nil {
		atomic.AddInt64(&pr.failed, 1)
	}
}

// Stop stops periodic reporting and logs the final report. Only the first
// call has any effect.
func (pr *ProgressReporter) Stop() {
	pr.once.Do(func() {
		close(pr.stopCh)
		pr.wg.Wait()
		pr.reportFinalProgress()
	})
}

// GetProgress returns finished and total tables
func (pr *ProgressReporter) GetProgress() (done, total int64) {
	return atomic.LoadInt64(&pr.doneTables), atomic.LoadInt64(&pr.totalTables)
}

// Rows returns the rows counted so far
func (pr *ProgressReporter) Rows() int64 {
	return atomic.LoadInt64(&pr.rows)
}

func (pr *ProgressReporter) reportCurrentProgress() {
	done, total := pr.GetProgress()

	var percentage float64
	if total > 0 {
		percentage = float64(done) / float64(total) * 100
	}

	pr.logger.Info("progress update",
		zap.Int64("tables_done", done),
		zap.Int64("tables_total", total),
		zap.Float64("percentage", percentage),
		zap.Int64("rows", pr.Rows()),
		zap.Float64("rows_per_second", pr.throughput.GetAndReset()),
		zap.Duration("elapsed", time.Since(pr.startTime)))
}

func (pr *ProgressReporter) reportFinalProgress() {
	done, total := pr.GetProgress()

	pr.logger.Info("export finished",
		zap.Int64("tables_done", done),
		zap.Int64("tables_total", total),
		zap.Int64("tables_failed", atomic.LoadInt64(&pr.failed)),
		zap.Int64("rows", pr.Rows()),
		zap.Duration("total_time", time.Since(pr.startTime)))
}

type nopProgress struct{}

func (nopProgress) Start(int)                          {}
func (nopProgress) TableStarted(string)                {}
func (nopProgress) TableFinished(string, int64, error) {}
func (nopProgress) Stop()                              {}
