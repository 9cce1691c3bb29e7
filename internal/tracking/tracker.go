package tracking

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"

	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

// Stats captures lifetime and current track counts for one tracker.
type Stats struct {
	Created int                `json:"created"`
	Evicted int                `json:"evicted"`
	Active  int                `json:"active"`
	ByState map[TrackState]int `json:"by_state"`
}

// Tracker assigns detections to tracks for a single stream.
type Tracker struct {
	streamID string
	config   Config

	tracks     map[string]*Track
	nextSeq    uint64
	lastUpdate time.Time

	created int
	evicted int

	// newID is replaceable in tests.
	newID func() string
}

// NewTracker creates a tracker for streamID.
func NewTracker(streamID string, config Config) *Tracker {
	return &Tracker{
		streamID: streamID,
		config:   config,
		tracks:   make(map[string]*Track),
		newID: func() string {
			return fmt.Sprintf("trk_%s", uuid.NewString())
		},
	}
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config {
	return t.config
}

// Reset discards every track. Ids already issued are never reissued.
func (t *Tracker) Reset() {
	t.tracks = make(map[string]*Track)
	t.lastUpdate = time.Time{}
}

// Update consumes one frame of detections and returns snapshots of the
// active tracks, oldest first. Frames older than the previous update are
// ignored.
func (t *Tracker) Update(detections []vision.Detection, timestamp time.Time) []*Track {
	if !t.lastUpdate.IsZero() && timestamp.Before(t.lastUpdate) {
		tracef("stream=%s ignoring out-of-order frame ts=%s last=%s",
			t.streamID, timestamp.Format(time.RFC3339Nano), t.lastUpdate.Format(time.RFC3339Nano))
		return t.ActiveTracks()
	}
	t.lastUpdate = timestamp

	active := t.ordered()

	// Step 1: optimal assignment of detections to existing tracks.
	trackToDet := t.associate(active, detections, timestamp)

	// Step 2: apply matches and misses.
	detMatched := make([]bool, len(detections))
	for ti, track := range active {
		di := trackToDet[ti]
		if di < 0 {
			track.markMissed(t.config)
			if track.State.IsDwelling() {
				track.checkParked(timestamp, t.config)
			}
			continue
		}
		detMatched[di] = true
		prevState := track.State
		track.update(detections[di], timestamp, t.config)
		track.updateMotionState(timestamp, t.config)
		if track.State != prevState {
			diagf("stream=%s track=%s %s -> %s speed=%.2f",
				t.streamID, track.ID, prevState, track.State, track.Speed())
		}
	}

	// Step 3: spawn tracks for unmatched detections.
	for di, det := range detections {
		if !detMatched[di] {
			t.spawn(det, timestamp)
		}
	}

	// Step 4: evict lost and over-age tracks.
	t.evict(timestamp)

	return t.ActiveTracks()
}

// associate builds the tracks × detections cost matrix and solves it. It
// returns, per track, the matched detection index or -1.
func (t *Tracker) associate(tracks []*Track, detections []vision.Detection, now time.Time) []int {
	result := make([]int, len(tracks))
	for i := range result {
		result[i] = -1
	}
	if len(tracks) == 0 || len(detections) == 0 {
		return result
	}

	costs := make([][]float64, len(tracks))
	for i, track := range tracks {
		costs[i] = make([]float64, len(detections))
		predicted := track.PredictedPosition(now)
		for j, det := range detections {
			costs[i][j] = t.cost(track, predicted, det)
		}
	}

	assign := HungarianAssign(costs)
	limit := 2 * t.config.MaxTrackingDistance
	for i, j := range assign {
		if j < 0 {
			continue
		}
		if costs[i][j] > limit {
			tracef("stream=%s rejecting track=%s cost=%.1f limit=%.1f",
				t.streamID, tracks[i].ID, costs[i][j], limit)
			continue
		}
		result[i] = j
	}
	return result
}

// cost is the association cost between a track's predicted position and a
// detection: centre distance, plus a fixed penalty for a label mismatch,
// plus a penalty proportional to the confidence difference. Pairs beyond
// MaxTrackingDistance are forbidden.
func (t *Tracker) cost(track *Track, predicted r2.Point, det vision.Detection) float64 {
	dist := predicted.Sub(det.Center()).Norm()
	if dist > t.config.MaxTrackingDistance {
		return Forbidden
	}
	c := dist
	if track.Class != det.Class {
		c += t.config.ClassMismatchPenalty
	}
	c += math.Abs(track.LastConfidence()-det.Confidence) * t.config.ConfidencePenaltyWeight
	return c
}

func (t *Tracker) spawn(det vision.Detection, ts time.Time) *Track {
	t.nextSeq++
	if det.StreamID == "" {
		det.StreamID = t.streamID
	}
	track := newTrack(t.newID(), t.nextSeq, det, ts, t.config)
	t.tracks[track.ID] = track
	t.created++
	tracef("stream=%s new track=%s class=%s at (%.1f, %.1f)",
		t.streamID, track.ID, track.Class, track.Position().X, track.Position().Y)
	return track
}

func (t *Tracker) evict(now time.Time) {
	for id, track := range t.tracks {
		if track.State != StateLost && track.Age(now) > t.config.MaxTrackAge {
			track.State = StateLost
		}
		if track.State == StateLost {
			delete(t.tracks, id)
			t.evicted++
			diagf("stream=%s evicted track=%s misses=%d age=%s",
				t.streamID, id, track.ConsecutiveMisses, track.Age(now).Round(time.Second))
		}
	}
}

// ordered returns the live tracks sorted by creation order.
func (t *Tracker) ordered() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, track := range t.tracks {
		out = append(out, track)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ActiveTracks returns snapshots of every live track, oldest first.
func (t *Tracker) ActiveTracks() []*Track {
	live := t.ordered()
	out := make([]*Track, len(live))
	for i, track := range live {
		out[i] = track.snapshot()
	}
	return out
}

// Track returns a snapshot of the track with id, or nil.
func (t *Tracker) Track(id string) *Track {
	track, ok := t.tracks[id]
	if !ok {
		return nil
	}
	return track.snapshot()
}

// Stats returns current and lifetime track counts.
func (t *Tracker) Stats() Stats {
	s := Stats{
		Created: t.created,
		Evicted: t.evicted,
		Active:  len(t.tracks),
		ByState: make(map[TrackState]int),
	}
	for _, track := range t.tracks {
		s.ByState[track.State]++
	}
	return s
}
