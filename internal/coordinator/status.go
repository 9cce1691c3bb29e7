package coordinator

import (
	"context"
	"time"

	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
)

// StreamState is the lifecycle state of one stream loop.
type StreamState string

const (
	StateRunning  StreamState = "running"
	StatePaused   StreamState = "paused"
	StateStopped  StreamState = "stopped"
	StateDegraded StreamState = "degraded" // cooling down after a fault
)

// StreamStatus is a snapshot of one stream.
type StreamStatus struct {
	ID              string        `json:"id"`
	State           StreamState   `json:"state"`
	FramesProcessed uint64        `json:"frames_processed"`
	FramesSkipped   uint64        `json:"frames_skipped"` // out of order
	FPS             float64       `json:"fps"`
	AvgFrameTime    time.Duration `json:"avg_frame_time"`
	ActiveTracks    int           `json:"active_tracks"`
	OpenEvents      int           `json:"open_events"`
	Violations      int           `json:"violations"`
	TasksDispatched uint64        `json:"tasks_dispatched"`
	TasksDropped    uint64        `json:"tasks_dropped"`
	Faults          uint64        `json:"faults"`
	LastError       string        `json:"last_error,omitempty"`
	LastFrameAt     time.Time     `json:"last_frame_at,omitzero"`
}

// StreamEvents is one stream's open parking events, as of its last
// processed frame, and its most recently closed ones, oldest first.
type StreamEvents struct {
	StreamID    string                 `json:"stream_id"`
	Open        []parking.ParkingEvent `json:"open"`
	Closed      []parking.ParkingEvent `json:"closed"`
	ClosedTotal int                    `json:"closed_total"`
}

// SystemStatus aggregates every stream and the worker pool.
type SystemStatus struct {
	Timestamp time.Time          `json:"timestamp"`
	Streams   []StreamStatus     `json:"streams"`
	Pool      dispatch.PoolStats `json:"pool"`
	Health    dispatch.Health    `json:"health"`
}

// StatusSink receives periodic status snapshots.
type StatusSink interface {
	PublishStatus(ctx context.Context, status SystemStatus) error
}

// StatusSinkFunc adapts a function to StatusSink.
type StatusSinkFunc func(ctx context.Context, status SystemStatus) error

func (f StatusSinkFunc) PublishStatus(ctx context.Context, status SystemStatus) error {
	return f(ctx, status)
}

// LogSink publishes a one-line summary per stream on the diag stream.
type LogSink struct{}

func (LogSink) PublishStatus(_ context.Context, status SystemStatus) error {
	for _, s := range status.Streams {
		diagf("stream=%s state=%s frames=%d fps=%.1f tracks=%d open=%d violations=%d dispatched=%d dropped=%d faults=%d",
			s.ID, s.State, s.FramesProcessed, s.FPS, s.ActiveTracks, s.OpenEvents,
			s.Violations, s.TasksDispatched, s.TasksDropped, s.Faults)
	}
	diagf("pool health=%s processed=%d confirmed=%d retried=%d failed=%d queue=%d/%d",
		status.Pool.Health, status.Pool.Processed, status.Pool.Confirmed, status.Pool.Retried,
		status.Pool.Failed, status.Pool.Queue.Len, status.Pool.Queue.Cap)
	return nil
}

// overallHealth folds stream states into the pool health.
func overallHealth(streams []StreamStatus, pool dispatch.Health) dispatch.Health {
	h := pool
	for _, s := range streams {
		if s.State == StateDegraded && h == dispatch.HealthHealthy {
			h = dispatch.HealthWarning
		}
	}
	return h
}
