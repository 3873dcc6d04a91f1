// Package progress reports decode and load progress of a conversion run.
package progress

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Reporter tracks decoded points and committed rows and logs them periodically
// together with the process resident set size.
type Reporter struct {
	logger *zap.Logger

	totalPoints      int64
	decodedPoints    int64
	committedRows    int64
	committedBatches int64

	startTime      time.Time
	reportInterval time.Duration
	proc           *process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Snapshot is a point-in-time view of a Reporter.
type Snapshot struct {
	TotalPoints      int64
	DecodedPoints    int64
	CommittedRows    int64
	CommittedBatches int64
	Elapsed          time.Duration
	RSSBytes         uint64
}

// NewReporter creates a reporter logging every interval. A zero interval
// disables periodic logging; counters still work.
func NewReporter(logger *zap.Logger, interval time.Duration) *Reporter {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec
	if err != nil {
		logger.Debug("process stats unavailable", zap.Error(err))
		proc = nil
	}
	return &Reporter{
		logger:         logger,
		startTime:      time.Now(),
		reportInterval: interval,
		proc:           proc,
		stopCh:         make(chan struct{}),
	}
}

// Start begins periodic progress reporting
func (r *Reporter) Start() {
	if r.reportInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.report("progress")
			}
		}
	}()
}

// Stop stops periodic reporting and logs a final summary. Safe to call more
// than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		r.report("progress final")
	})
}

// SetTotal sets the number of points the directory declares
func (r *Reporter) SetTotal(total int64) {
	atomic.StoreInt64(&r.totalPoints, total)
}

// AddDecoded adds n decoded points
func (r *Reporter) AddDecoded(n int64) {
	atomic.AddInt64(&r.decodedPoints, n)
}

// AddCommitted records one committed batch of rows
func (r *Reporter) AddCommitted(rows int64) {
	atomic.AddInt64(&r.committedRows, rows)
	atomic.AddInt64(&r.committedBatches, 1)
}

// Snapshot returns the current counters
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		TotalPoints:      atomic.LoadInt64(&r.totalPoints),
		DecodedPoints:    atomic.LoadInt64(&r.decodedPoints),
		CommittedRows:    atomic.LoadInt64(&r.committedRows),
		CommittedBatches: atomic.LoadInt64(&r.committedBatches),
		Elapsed:          time.Since(r.startTime),
	}
	if r.proc != nil {
		if mem, err := r.proc.MemoryInfo(); err == nil {
			s.RSSBytes = mem.RSS
		}
	}
	return s
}

// ETA estimates the time until every declared point is decoded
func (s Snapshot) ETA() time.Duration {
	if s.DecodedPoints == 0 || s.TotalPoints == 0 || s.DecodedPoints >= s.TotalPoints {
		return 0
	}
	rate := float64(s.DecodedPoints) / s.Elapsed.Seconds()
	if rate == 0 {
		return 0
	}
	remaining := s.TotalPoints - s.DecodedPoints
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

func (r *Reporter) report(msg string) {
	s := r.Snapshot()
	percent := 0.0
	if s.TotalPoints > 0 {
		percent = float64(s.DecodedPoints) / float64(s.TotalPoints) * 100
	}
	r.logger.Info(msg,
		zap.Int64("decoded_points", s.DecodedPoints),
		zap.Int64("total_points", s.TotalPoints),
		zap.Float64("percent", percent),
		zap.Int64("committed_rows", s.CommittedRows),
		zap.Int64("committed_batches", s.CommittedBatches),
		zap.Duration("elapsed", s.Elapsed),
		zap.Duration("eta", s.ETA()),
		zap.Uint64("rss_bytes", s.RSSBytes),
	)
}
