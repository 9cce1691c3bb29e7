package parking

import (
	"time"

	"github.com/golang/geo/r2"

	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

// ParkingEvent records one continuous dwell episode of one track.
type ParkingEvent struct {
	ID       string `json:"id"`
	TrackID  string `json:"track_id"`
	StreamID string `json:"stream_id"`
	Class    string `json:"class"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitzero"` // zero while open
	Duration  time.Duration `json:"duration"`

	Location r2.Point          `json:"location"` // EMA-smoothed centre
	LastBox  vision.BoundingBox `json:"last_box"`
	ZoneID   string             `json:"zone_id,omitempty"`
	ZoneType ZoneType           `json:"zone_type,omitempty"`

	IsViolation    bool            `json:"is_violation"`
	ViolationTypes []ViolationType `json:"violation_types,omitempty"`
	ViolationStart time.Time       `json:"violation_start,omitzero"`
	Severity       float64         `json:"severity"`
	Confidence     float64         `json:"confidence"`
	Reported       bool            `json:"reported"`
}

// IsOpen reports whether the episode is still in progress.
func (e *ParkingEvent) IsOpen() bool {
	return e.EndTime.IsZero()
}

// HasType reports whether t is among the event's violation types.
func (e *ParkingEvent) HasType(t ViolationType) bool {
	for _, v := range e.ViolationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (e *ParkingEvent) Clone() ParkingEvent {
	c := *e
	c.ViolationTypes = append([]ViolationType(nil), e.ViolationTypes...)
	return c
}
