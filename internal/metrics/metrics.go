// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
)

// Metrics holds all pipeline counters. The zero value is not usable; call
// New.
type Metrics struct {
	// Monitoring loops
	FramesProcessed atomic.Uint64
	FrameErrors     atomic.Uint64
	StreamFaults    atomic.Uint64
	Violations      atomic.Uint64

	// Dispatch
	TasksDispatched atomic.Uint64
	TasksDropped    atomic.Uint64
	TasksRetried    atomic.Uint64
	TasksCompleted  atomic.Uint64
	TasksConfirmed  atomic.Uint64
	TasksFailed     atomic.Uint64

	// Latency tracking
	AnalysisLatencyMs atomic.Uint64 // latest analysis latency

	queueDepth atomic.Pointer[func() int]

	streamFPS    *prometheus.GaugeVec
	activeTracks *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		streamFPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parkwatch_stream_fps",
			Help: "Frames per second over the recent window, per stream",
		}, []string{"stream"}),
		activeTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parkwatch_stream_active_tracks",
			Help: "Tracks currently alive, per stream",
		}, []string{"stream"}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("parkwatch_frames_processed_total", "Total frames run through tracking and monitoring", &m.FramesProcessed)
	m.counter("parkwatch_frame_errors_total", "Total frames skipped because the source or detector failed", &m.FrameErrors)
	m.counter("parkwatch_stream_faults_total", "Total stream loop faults", &m.StreamFaults)
	m.counter("parkwatch_violations_total", "Total violations detected", &m.Violations)

	m.counter("parkwatch_tasks_dispatched_total", "Total analysis tasks enqueued", &m.TasksDispatched)
	m.counter("parkwatch_tasks_dropped_total", "Total analysis tasks dropped on a full queue", &m.TasksDropped)
	m.counter("parkwatch_tasks_retried_total", "Total analysis retries scheduled", &m.TasksRetried)
	m.counter("parkwatch_tasks_completed_total", "Total analysis tasks completed", &m.TasksCompleted)
	m.counter("parkwatch_tasks_confirmed_total", "Total violations confirmed and reported", &m.TasksConfirmed)
	m.counter("parkwatch_tasks_failed_total", "Total analysis tasks failed permanently", &m.TasksFailed)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "parkwatch_analysis_latency_ms",
			Help: "Latest analysis latency in milliseconds",
		},
		func() float64 { return float64(m.AnalysisLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "parkwatch_queue_depth",
			Help: "Analysis tasks waiting in the queue",
		},
		func() float64 {
			if fn := m.queueDepth.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	))

	m.registry.MustRegister(m.streamFPS, m.activeTracks)
}

// SetQueueDepthFunc sets the source of the queue depth gauge.
func (m *Metrics) SetQueueDepthFunc(fn func() int) {
	m.queueDepth.Store(&fn)
}

// ObserveFrame records one processed frame for stream.
func (m *Metrics) ObserveFrame(stream string, fps float64, activeTracks int) {
	m.FramesProcessed.Add(1)
	m.streamFPS.WithLabelValues(stream).Set(fps)
	m.activeTracks.WithLabelValues(stream).Set(float64(activeTracks))
}

// FrameError records a frame lost to a source or detector error.
func (m *Metrics) FrameError(string) { m.FrameErrors.Add(1) }

// StreamFault records a recovered stream loop fault.
func (m *Metrics) StreamFault(string) { m.StreamFaults.Add(1) }

// ViolationDetected records a violation edge.
func (m *Metrics) ViolationDetected(string) { m.Violations.Add(1) }

// TaskDispatched records a task accepted by the queue.
func (m *Metrics) TaskDispatched(string) { m.TasksDispatched.Add(1) }

// TaskDropped records a task dropped by the queue. It has the shape of
// dispatch.Dispatcher.OnDrop.
func (m *Metrics) TaskDropped(*dispatch.AnalysisTask) { m.TasksDropped.Add(1) }

// StreamRemoved deletes the per-stream series for stream.
func (m *Metrics) StreamRemoved(stream string) {
	m.streamFPS.DeleteLabelValues(stream)
	m.activeTracks.DeleteLabelValues(stream)
}

// TaskFinished implements dispatch.Observer.
func (m *Metrics) TaskFinished(task *dispatch.AnalysisTask, latency time.Duration) {
	if latency > 0 {
		m.AnalysisLatencyMs.Store(uint64(latency.Milliseconds()))
	}
	switch task.Status {
	case dispatch.StatusCompleted:
		m.TasksCompleted.Add(1)
		if task.Result != nil && task.Result.Confirmed {
			m.TasksConfirmed.Add(1)
		}
	case dispatch.StatusFailed:
		m.TasksFailed.Add(1)
	}
}

// TaskRetried implements dispatch.Observer.
func (m *Metrics) TaskRetried(*dispatch.AnalysisTask) { m.TasksRetried.Add(1) }

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
