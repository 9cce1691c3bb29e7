package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/tracking"
)

// stream is one camera's loop state. tracker and monitor are touched only
// by the loop goroutine; everything under mu is shared with Status.
type stream struct {
	id          string
	trackingCfg tracking.Config
	parkingCfg  parking.Config

	tracker *tracking.Tracker
	monitor *parking.Monitor
	// lastTs is the timestamp of the last processed frame. Loop-owned.
	lastTs time.Time

	// Loop control, guarded by Coordinator.mu.
	cancel context.CancelFunc
	done   chan struct{}

	pauseMu  sync.Mutex
	resumeCh chan struct{} // non-nil while paused

	mu         sync.Mutex
	status     StreamStatus
	frameTimes []float64 // seconds, bounded by the FPS window
	open       []parking.ParkingEvent
	history    *parking.History
}

// StreamOption overrides a stream's thresholds.
type StreamOption func(*stream)

// WithTrackingConfig overrides the tracker thresholds for one stream.
func WithTrackingConfig(cfg tracking.Config) StreamOption {
	return func(s *stream) { s.trackingCfg = cfg }
}

// WithParkingConfig overrides the zones and violation rules for one
// stream.
func WithParkingConfig(cfg parking.Config) StreamOption {
	return func(s *stream) { s.parkingCfg = cfg }
}

func (s *stream) running() bool {
	return s.done != nil
}

// pausedCh returns the channel closed on resume, or nil when not paused.
func (s *stream) pausedCh() <-chan struct{} {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.resumeCh == nil {
		return nil
	}
	return s.resumeCh
}

func (s *stream) pause() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.resumeCh != nil {
		return false
	}
	s.resumeCh = make(chan struct{})
	return true
}

func (s *stream) resume() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.resumeCh == nil {
		return false
	}
	close(s.resumeCh)
	s.resumeCh = nil
	return true
}

func (s *stream) setState(state StreamState) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func (s *stream) state() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

// recordFrame folds one processed frame into the rolling window.
func (s *stream) recordFrame(elapsed time.Duration, ts time.Time, window int, tracks int, mstats parking.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameTimes = append(s.frameTimes, elapsed.Seconds())
	if len(s.frameTimes) > window {
		s.frameTimes = s.frameTimes[len(s.frameTimes)-window:]
	}
	mean := stat.Mean(s.frameTimes, nil)
	s.status.AvgFrameTime = time.Duration(mean * float64(time.Second))
	s.status.FPS = 0
	if mean > 0 {
		s.status.FPS = 1 / mean
	}
	s.status.FramesProcessed++
	s.status.LastFrameAt = ts
	s.status.ActiveTracks = tracks
	s.status.OpenEvents = mstats.Open
	s.status.Violations = mstats.Violations
	if s.status.State == StateDegraded {
		s.status.State = StateRunning
	}
}

func (s *stream) recordFault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Faults++
	s.status.LastError = err.Error()
	if s.status.State != StatePaused {
		s.status.State = StateDegraded
	}
}

func (s *stream) recordSkip() {
	s.mu.Lock()
	s.status.FramesSkipped++
	s.mu.Unlock()
}

// setEvents publishes the monitor's open events and archive for readers
// outside the loop.
func (s *stream) setEvents(open []parking.ParkingEvent, history *parking.History) {
	sort.Slice(open, func(i, j int) bool {
		if !open[i].StartTime.Equal(open[j].StartTime) {
			return open[i].StartTime.Before(open[j].StartTime)
		}
		return open[i].ID < open[j].ID
	})
	s.mu.Lock()
	s.open = open
	s.history = history
	s.mu.Unlock()
}

func (s *stream) events(limit int) StreamEvents {
	s.mu.Lock()
	open, history := s.open, s.history
	s.mu.Unlock()

	ev := StreamEvents{
		StreamID: s.id,
		Open:     append([]parking.ParkingEvent(nil), open...),
	}
	if history != nil {
		closed := history.Events()
		if limit > 0 && len(closed) > limit {
			closed = closed[len(closed)-limit:]
		}
		ev.Closed = closed
		ev.ClosedTotal = history.Total()
	}
	return ev
}

func (s *stream) recordDispatch(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.status.TasksDispatched++
	} else {
		s.status.TasksDropped++
	}
}

func (s *stream) snapshot() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
