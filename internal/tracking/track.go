package tracking

import (
	"time"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/stat"

	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	StateDetected   TrackState = "detected"   // Spawned from an unmatched detection
	StateTracking   TrackState = "tracking"   // Matched at least once, moving
	StateStationary TrackState = "stationary" // Below the stationary speed
	StateParked     TrackState = "parked"     // Stationary for ParkedAfter
	StateLost       TrackState = "lost"       // Terminal; awaiting eviction
)

// IsDwelling reports whether the state is stationary or parked.
func (s TrackState) IsDwelling() bool {
	return s == StateStationary || s == StateParked
}

// Observation is one (position, timestamp) sample in a track's history.
type Observation struct {
	Position  r2.Point
	Timestamp time.Time
}

// Track is the identity of one vehicle across frames.
type Track struct {
	// Identity
	ID       string
	StreamID string
	Class    string
	State    TrackState

	// Bounded histories, oldest first
	History     []Observation
	Confidences []float64

	Velocity r2.Point // pixels per second
	LastBox  vision.BoundingBox

	// Lifecycle counters
	ConsecutiveHits   int
	ConsecutiveMisses int
	TotalHits         int
	TotalMisses       int

	TrackingQuality float64 // [0,1], exponentially smoothed

	FirstSeen time.Time
	LastSeen  time.Time // last matched detection

	// StationarySince is the timestamp of the first frame of the current
	// below-threshold run; zero when moving.
	StationarySince    time.Time
	IsParkingCandidate bool

	seq uint64
}

func newTrack(id string, seq uint64, det vision.Detection, ts time.Time, cfg Config) *Track {
	t := &Track{
		ID:              id,
		StreamID:        det.StreamID,
		Class:           det.Class,
		State:           StateDetected,
		History:         make([]Observation, 0, cfg.MaxHistoryLength),
		Confidences:     make([]float64, 0, cfg.MaxConfidenceHistoryLength),
		LastBox:         det.Box,
		ConsecutiveHits: 1,
		TotalHits:       1,
		TrackingQuality: det.Confidence,
		FirstSeen:       ts,
		LastSeen:        ts,
		seq:             seq,
	}
	t.History = append(t.History, Observation{Position: det.Center(), Timestamp: ts})
	t.Confidences = append(t.Confidences, det.Confidence)
	return t
}

// Position returns the most recent observed position.
func (t *Track) Position() r2.Point {
	if len(t.History) == 0 {
		return r2.Point{}
	}
	return t.History[len(t.History)-1].Position
}

// LastConfidence returns the most recent detection confidence.
func (t *Track) LastConfidence() float64 {
	if len(t.Confidences) == 0 {
		return 0
	}
	return t.Confidences[len(t.Confidences)-1]
}

// MeanConfidence returns the mean of the confidence history.
func (t *Track) MeanConfidence() float64 {
	if len(t.Confidences) == 0 {
		return 0
	}
	return stat.Mean(t.Confidences, nil)
}

// Speed returns the magnitude of the velocity estimate.
func (t *Track) Speed() float64 {
	return t.Velocity.Norm()
}

// Age returns the time since the track was created.
func (t *Track) Age(now time.Time) time.Duration {
	return now.Sub(t.FirstSeen)
}

// DwellTime returns how long the track has been below the stationary
// speed, or zero when it is moving.
func (t *Track) DwellTime(now time.Time) time.Duration {
	if t.StationarySince.IsZero() {
		return 0
	}
	return now.Sub(t.StationarySince)
}

// PredictedPosition extrapolates the last position linearly to now.
func (t *Track) PredictedPosition(now time.Time) r2.Point {
	if len(t.History) == 0 {
		return r2.Point{}
	}
	last := t.History[len(t.History)-1]
	dt := now.Sub(last.Timestamp).Seconds()
	if dt <= 0 {
		return last.Position
	}
	return last.Position.Add(t.Velocity.Mul(dt))
}

// update applies a matched detection: histories, velocity by finite
// difference over the last two samples, counters and quality.
func (t *Track) update(det vision.Detection, ts time.Time, cfg Config) {
	t.History = append(t.History, Observation{Position: det.Center(), Timestamp: ts})
	if len(t.History) > cfg.MaxHistoryLength {
		t.History = t.History[len(t.History)-cfg.MaxHistoryLength:]
	}
	t.Confidences = append(t.Confidences, det.Confidence)
	if len(t.Confidences) > cfg.MaxConfidenceHistoryLength {
		t.Confidences = t.Confidences[len(t.Confidences)-cfg.MaxConfidenceHistoryLength:]
	}

	if n := len(t.History); n >= 2 {
		prev, curr := t.History[n-2], t.History[n-1]
		if dt := curr.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
			t.Velocity = curr.Position.Sub(prev.Position).Mul(1 / dt)
		}
	}

	t.LastBox = det.Box
	t.LastSeen = ts
	t.ConsecutiveHits++
	t.ConsecutiveMisses = 0
	t.TotalHits++

	hitRatio := float64(t.TotalHits) / float64(t.TotalHits+t.TotalMisses)
	frameQuality := 0.5*hitRatio + 0.5*t.MeanConfidence()
	t.TrackingQuality = clamp01(0.3*frameQuality + 0.7*t.TrackingQuality)
}

// markMissed records a frame without a matching detection.
func (t *Track) markMissed(cfg Config) {
	t.ConsecutiveMisses++
	t.ConsecutiveHits = 0
	t.TotalMisses++
	t.TrackingQuality = clamp01(t.TrackingQuality * 0.95)
	if t.ConsecutiveMisses > cfg.MaxConsecutiveMisses {
		t.State = StateLost
	}
}

// updateMotionState advances the speed-driven part of the state machine.
func (t *Track) updateMotionState(ts time.Time, cfg Config) {
	if t.State == StateDetected {
		t.State = StateTracking
	}
	speed := t.Speed()

	switch t.State {
	case StateTracking:
		if speed >= cfg.StationaryThreshold {
			t.StationarySince = time.Time{}
			return
		}
		if t.StationarySince.IsZero() {
			// The velocity sample spans the previous observation, so
			// the vehicle has been still since then.
			t.StationarySince = ts
			if n := len(t.History); n >= 2 {
				t.StationarySince = t.History[n-2].Timestamp
			}
		}
		if ts.Sub(t.StationarySince) >= cfg.StationaryDwell {
			t.State = StateStationary
			t.IsParkingCandidate = true
			t.checkParked(ts, cfg)
		}

	case StateStationary, StateParked:
		if speed > cfg.MovementThreshold {
			t.State = StateTracking
			t.StationarySince = time.Time{}
			t.IsParkingCandidate = false
			return
		}
		t.checkParked(ts, cfg)
	}
}

// checkParked promotes a stationary track once it has dwelt for
// ParkedAfter. Also called on missed frames so a briefly occluded vehicle
// keeps accruing dwell time.
func (t *Track) checkParked(ts time.Time, cfg Config) {
	if t.State == StateStationary && ts.Sub(t.StationarySince) >= cfg.ParkedAfter {
		t.State = StateParked
	}
}

// snapshot returns a copy safe to hand outside the owning loop.
func (t *Track) snapshot() *Track {
	c := *t
	c.History = append([]Observation(nil), t.History...)
	c.Confidences = append([]float64(nil), t.Confidences...)
	return &c
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
