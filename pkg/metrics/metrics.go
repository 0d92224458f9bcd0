// Package metrics provides performance tracking for Tessera using
// Prometheus metrics. Collection is gated by the profiling section of
// the configuration; with profiling disabled the recorder methods are
// no-ops, so call sites stay unconditional.
//
// # Basic Usage
//
//	rec := metrics.NewRecorder(cfg.Profiling.Enabled)
//	timer := rec.StartTransaction("append")
//	... run the transaction ...
//	timer.Done()
//	rec.SliceProcessed("append", "committed")
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SlicesProcessed tracks the slices handled per outcome.
	// Labels: kind (create/append), status (committed/rolled_back/failed)
	SlicesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_slices_processed_total",
			Help: "Total number of slices processed",
		},
		[]string{"kind", "status"},
	)

	// ChunksWritten tracks the chunk files written to the cube.
	ChunksWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_chunks_written_total",
			Help: "Total number of chunk files written",
		},
	)

	// BytesWritten tracks the compressed bytes written to the cube.
	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_bytes_written_total",
			Help: "Total compressed bytes written",
		},
	)

	// Rollbacks tracks completed rollbacks, including recovery runs.
	Rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_rollbacks_total",
			Help: "Total number of rollbacks applied",
		},
	)

	// TransactionSeconds tracks the duration of whole transactions.
	// Labels: kind (create/append)
	TransactionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tessera_transaction_seconds",
			Help: "Transaction duration in seconds",
			Buckets: []float64{
				0.01, // in-memory targets
				0.1,  // small local cubes
				0.5,
				1,
				5,
				30, // object stores and large appends
				120,
			},
		},
		[]string{"kind"},
	)
)

// Recorder records domain metrics when profiling is enabled.
type Recorder struct {
	enabled bool
}

// NewRecorder builds a recorder; with enabled false every method is a
// no-op.
func NewRecorder(enabled bool) *Recorder {
	return &Recorder{enabled: enabled}
}

// Enabled reports whether the recorder is active.
func (r *Recorder) Enabled() bool { return r.enabled }

// SliceProcessed counts one processed slice.
func (r *Recorder) SliceProcessed(kind, status string) {
	if !r.enabled {
		return
	}
	SlicesProcessed.WithLabelValues(kind, status).Inc()
}

// ChunkWritten counts one written chunk of the given compressed size.
func (r *Recorder) ChunkWritten(bytes int) {
	if !r.enabled {
		return
	}
	ChunksWritten.Inc()
	BytesWritten.Add(float64(bytes))
}

// RollbackApplied counts one completed rollback.
func (r *Recorder) RollbackApplied() {
	if !r.enabled {
		return
	}
	Rollbacks.Inc()
}

// TransactionTimer observes a transaction's duration on Done.
type TransactionTimer struct {
	recorder *Recorder
	kind     string
	start    time.Time
}

// StartTransaction starts timing a transaction of the given kind.
func (r *Recorder) StartTransaction(kind string) *TransactionTimer {
	return &TransactionTimer{recorder: r, kind: kind, start: time.Now()}
}

// Done records the elapsed time.
func (t *TransactionTimer) Done() {
	if !t.recorder.enabled {
		return
	}
	TransactionSeconds.WithLabelValues(t.kind).Observe(time.Since(t.start).Seconds())
}
