package parking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odsyjr2/illegal-parking-detection/internal/tracking"
)

// locationAlpha weights the newest centre in the event location EMA.
const locationAlpha = 0.1

// Config holds the per-stream violation rules.
type Config struct {
	// ViolationThreshold is the dwell at which DURATION_EXCEEDED fires.
	ViolationThreshold time.Duration
	Zones              []Zone
	// Resolver picks among overlapping zones. Nil means FirstMatch.
	Resolver ZoneResolver
	// Location is the time zone for restricted hours. Nil means UTC.
	Location    *time.Location
	HistorySize int
}

// DefaultConfig returns production-default monitor parameters.
func DefaultConfig() Config {
	return Config{
		ViolationThreshold: 300 * time.Second,
		Resolver:           FirstMatch{},
		Location:           time.UTC,
		HistorySize:        1000,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.ViolationThreshold <= 0 {
		return fmt.Errorf("violation threshold must be positive, got %s", c.ViolationThreshold)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history size must be positive, got %d", c.HistorySize)
	}
	seen := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		if err := z.Validate(); err != nil {
			return err
		}
		if seen[z.ID] {
			return fmt.Errorf("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = true
	}
	return nil
}

// Result is what one Update produced.
type Result struct {
	// Closed holds events whose dwell episode ended this frame.
	Closed []ParkingEvent
	// Violations holds events that became reportable this frame. Each
	// event appears here at most once over its lifetime.
	Violations []ParkingEvent
}

// Stats summarises a monitor's events.
type Stats struct {
	Open       int                   `json:"open"`
	Closed     int                   `json:"closed"`
	Violations int                   `json:"violations"`
	ByType     map[ViolationType]int `json:"by_type"`
}

// VehicleMonitor follows one track's dwell episodes.
type VehicleMonitor struct {
	TrackID  string
	event    *ParkingEvent
	zone     *Zone
	reported bool
}

// Event returns a copy of the open event, if any.
func (v *VehicleMonitor) Event() (ParkingEvent, bool) {
	if v.event == nil {
		return ParkingEvent{}, false
	}
	return v.event.Clone(), true
}

// Monitor maintains one VehicleMonitor per dwelling track for a single
// stream. It is not safe for concurrent use; the stream loop owns it.
type Monitor struct {
	streamID string
	config   Config
	monitors map[string]*VehicleMonitor
	history  *History

	closed     int
	violations int
	byType     map[ViolationType]int

	// newID is replaceable in tests.
	newID func() string
}

// NewMonitor creates a monitor for streamID.
func NewMonitor(streamID string, config Config) *Monitor {
	if config.Resolver == nil {
		config.Resolver = FirstMatch{}
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Monitor{
		streamID: streamID,
		config:   config,
		monitors: make(map[string]*VehicleMonitor),
		history:  NewHistory(config.HistorySize),
		byType:   make(map[ViolationType]int),
		newID: func() string {
			return fmt.Sprintf("evt_%s", uuid.NewString())
		},
	}
}

// Update consumes the stream's active tracks for one frame.
func (m *Monitor) Update(tracks []*tracking.Track, ts time.Time) Result {
	var res Result
	seen := make(map[string]bool, len(tracks))

	for _, track := range tracks {
		seen[track.ID] = true
		vm := m.monitors[track.ID]

		if !track.State.IsDwelling() {
			if vm != nil {
				if ev, ok := m.closeEvent(vm, ts); ok {
					res.Closed = append(res.Closed, ev)
				}
			}
			continue
		}

		if vm == nil {
			vm = &VehicleMonitor{TrackID: track.ID}
			m.monitors[track.ID] = vm
		}
		if vm.event == nil {
			m.openEvent(vm, track, ts)
		} else {
			m.updateEvent(vm, track, ts)
		}

		if vm.event.IsViolation && !vm.reported {
			vm.reported = true
			vm.event.Reported = true
			m.violations++
			for _, t := range vm.event.ViolationTypes {
				m.byType[t]++
			}
			diagf("stream=%s event=%s track=%s violation %v severity=%.2f duration=%s",
				m.streamID, vm.event.ID, track.ID, vm.event.ViolationTypes,
				vm.event.Severity, vm.event.Duration.Round(time.Second))
			res.Violations = append(res.Violations, vm.event.Clone())
		}
	}

	// Tracks that vanished (evicted or lost) end their episode.
	for id, vm := range m.monitors {
		if seen[id] {
			continue
		}
		if ev, ok := m.closeEvent(vm, ts); ok {
			res.Closed = append(res.Closed, ev)
		}
		delete(m.monitors, id)
	}
	return res
}

func (m *Monitor) openEvent(vm *VehicleMonitor, track *tracking.Track, ts time.Time) {
	start := track.StationarySince
	if start.IsZero() || start.After(ts) {
		start = ts
	}
	pos := track.Position()
	ev := &ParkingEvent{
		ID:         m.newID(),
		TrackID:    track.ID,
		StreamID:   m.streamID,
		Class:      track.Class,
		StartTime:  start,
		Location:   pos,
		LastBox:    track.LastBox,
		Confidence: track.TrackingQuality,
	}
	vm.zone = nil
	if z, ok := m.config.Resolver.Resolve(m.config.Zones, pos); ok {
		vm.zone = &z
		ev.ZoneID = z.ID
		ev.ZoneType = z.Type
	}
	vm.event = ev
	vm.reported = false
	m.evaluate(vm, ts)
	tracef("stream=%s opened event=%s track=%s zone=%q start=%s",
		m.streamID, ev.ID, track.ID, ev.ZoneID, start.Format(time.RFC3339))
}

func (m *Monitor) updateEvent(vm *VehicleMonitor, track *tracking.Track, ts time.Time) {
	ev := vm.event
	pos := track.Position()
	ev.Location = ev.Location.Mul(1 - locationAlpha).Add(pos.Mul(locationAlpha))
	ev.LastBox = track.LastBox
	ev.Confidence = track.TrackingQuality
	m.evaluate(vm, ts)
}

// evaluate recomputes the duration and violation status of the open event.
func (m *Monitor) evaluate(vm *VehicleMonitor, ts time.Time) {
	ev := vm.event
	ev.Duration = ts.Sub(ev.StartTime)

	types := make(violationSet)
	threshold := m.config.ViolationThreshold
	if ev.Duration >= threshold {
		types.add(ViolationDurationExceeded)
		if ev.ViolationStart.IsZero() {
			ev.ViolationStart = ev.StartTime.Add(threshold)
		}
	}

	if z := vm.zone; z != nil && ev.Duration > z.GracePeriod {
		if z.ForbidsParking() {
			types.add(zoneViolations[z.Type])
		}
		if z.RestrictedAt(ts.In(m.config.Location)) {
			types.add(ViolationRestrictedHours)
		}
		if z.MaxDuration > 0 && ev.Duration > z.MaxDuration {
			types.add(ViolationDurationExceeded)
		}
		if len(types) > 0 && ev.ViolationStart.IsZero() {
			ev.ViolationStart = ts
		}
	}

	ev.ViolationTypes = types.sorted()
	ev.IsViolation = len(ev.ViolationTypes) > 0
	ev.Severity = Severity(ev.ViolationTypes, ev.Duration, threshold)
}

// closeEvent ends vm's open episode and archives it.
func (m *Monitor) closeEvent(vm *VehicleMonitor, ts time.Time) (ParkingEvent, bool) {
	if vm.event == nil {
		return ParkingEvent{}, false
	}
	ev := vm.event
	ev.EndTime = ts
	ev.Duration = ts.Sub(ev.StartTime)
	out := ev.Clone()
	m.history.Add(out)
	m.closed++
	vm.event = nil
	vm.zone = nil
	vm.reported = false
	tracef("stream=%s closed event=%s track=%s duration=%s violation=%t",
		m.streamID, out.ID, out.TrackID, out.Duration.Round(time.Second), out.IsViolation)
	return out, true
}

// Close ends every open episode, as when the stream stops.
func (m *Monitor) Close(ts time.Time) []ParkingEvent {
	var out []ParkingEvent
	for id, vm := range m.monitors {
		if ev, ok := m.closeEvent(vm, ts); ok {
			out = append(out, ev)
		}
		delete(m.monitors, id)
	}
	return out
}

// Monitor returns the VehicleMonitor for trackID, or nil.
func (m *Monitor) Monitor(trackID string) *VehicleMonitor {
	return m.monitors[trackID]
}

// OpenEvents returns copies of every open event.
func (m *Monitor) OpenEvents() []ParkingEvent {
	var out []ParkingEvent
	for _, vm := range m.monitors {
		if vm.event != nil {
			out = append(out, vm.event.Clone())
		}
	}
	return out
}

// History returns the stream's archive of closed events.
func (m *Monitor) History() *History {
	return m.history
}

// Stats returns event counts.
func (m *Monitor) Stats() Stats {
	s := Stats{
		Closed:     m.closed,
		Violations: m.violations,
		ByType:     make(map[ViolationType]int, len(m.byType)),
	}
	for _, vm := range m.monitors {
		if vm.event != nil {
			s.Open++
		}
	}
	for t, n := range m.byType {
		s.ByType[t] = n
	}
	return s
}
