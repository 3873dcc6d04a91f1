// Package metrics exposes Prometheus collectors for plexload runs.
//
// # Basic Usage
//
//	metrics.PointsDecoded.WithLabelValues("t_data_0.BIN").Add(float64(len(chunk.Values)))
//
//	timer := metrics.NewTimer("commit")
//	commit()
//	metrics.BatchCommitSeconds.Observe(timer.Stop().Seconds())
//
// Collectors register with the default registry at init; Serve exposes them
// over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PointsDecoded counts decoded data points per binary entry.
	PointsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexload_points_decoded_total",
			Help: "Total number of data points decoded",
		},
		[]string{"entry"},
	)

	// BatchesCommitted counts committed fact batches.
	BatchesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plexload_batches_committed_total",
			Help: "Total number of fact batches committed",
		},
	)

	// RowsCommitted counts committed rows per table kind (dimension or fact).
	RowsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexload_rows_committed_total",
			Help: "Total number of rows committed",
		},
		[]string{"kind"},
	)

	// BatchCommitSeconds tracks commit latency.
	BatchCommitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plexload_batch_commit_seconds",
			Help:    "Batch commit latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	// Retries counts retried operations by kind (read or commit).
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plexload_retries_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation"},
	)

	// PipelineState is 1 for the current pipeline state and 0 for the others.
	PipelineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plexload_pipeline_state",
			Help: "Current pipeline state",
		},
		[]string{"state"},
	)

	// QueueDepth tracks the number of buffered chunks per decode worker queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plexload_queue_depth",
			Help: "Current queue depth",
		},
		[]string{"queue_name"},
	)
)

var stateMu sync.Mutex

// SetState marks state as the current pipeline state among all.
func SetState(state string, all []string) {
	stateMu.Lock()
	defer stateMu.Unlock()
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		PipelineState.WithLabelValues(s).Set(v)
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. It can be called
// repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Server serves /metrics until Shutdown.
type Server struct {
	srv  *http.Server
	done chan error
}

// Serve starts an HTTP listener exposing the default registry on addr.
func Serve(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		done: make(chan error, 1),
	}
	go func() {
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return s
}

// Shutdown stops the listener and returns its terminal error, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
