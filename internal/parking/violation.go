package parking

import (
	"sort"
	"time"
)

// ViolationType tags one reason an event is a violation.
type ViolationType string

const (
	ViolationDurationExceeded ViolationType = "DURATION_EXCEEDED"
	ViolationNoParkingZone    ViolationType = "NO_PARKING_ZONE"
	ViolationRestrictedHours  ViolationType = "RESTRICTED_HOURS"
	ViolationCrosswalk        ViolationType = "CROSSWALK"
	ViolationFireLane         ViolationType = "FIRE_LANE"
)

// typeSeverity ranks violation types; obstruction outranks zone rules,
// which outrank time limits.
var typeSeverity = map[ViolationType]float64{
	ViolationCrosswalk:        0.95,
	ViolationFireLane:         0.9,
	ViolationNoParkingZone:    0.7,
	ViolationRestrictedHours:  0.5,
	ViolationDurationExceeded: 0.3,
}

// TypeSeverity returns the fixed severity weight for t.
func TypeSeverity(t ViolationType) float64 {
	return typeSeverity[t]
}

// Severity scores a violation in [0,1]. The base grows linearly from 0.5
// to 0.8 as the dwell exceeds threshold by up to 100%.
func Severity(types []ViolationType, duration, threshold time.Duration) float64 {
	if len(types) == 0 {
		return 0
	}
	base := 0.5
	if threshold > 0 && duration > threshold {
		over := float64(duration-threshold) / float64(threshold)
		base += 0.3 * min(over, 1)
	}
	top := 0.0
	for _, t := range types {
		top = max(top, typeSeverity[t])
	}
	return min(base+top, 1)
}

// violationSet accumulates distinct types in a stable order.
type violationSet map[ViolationType]struct{}

func (s violationSet) add(t ViolationType) { s[t] = struct{}{} }

func (s violationSet) sorted() []ViolationType {
	if len(s) == 0 {
		return nil
	}
	out := make([]ViolationType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if typeSeverity[out[i]] != typeSeverity[out[j]] {
			return typeSeverity[out[i]] > typeSeverity[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
