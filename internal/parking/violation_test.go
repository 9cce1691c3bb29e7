package parking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverity(t *testing.T) {
	threshold := 300 * time.Second

	assert.Zero(t, Severity(nil, time.Hour, threshold))

	// At the threshold the base is 0.5.
	assert.InDelta(t, 0.8, Severity([]ViolationType{ViolationDurationExceeded}, threshold, threshold), 1e-9)

	// 50% over adds half of the 0.3 base growth.
	assert.InDelta(t, 0.95, Severity([]ViolationType{ViolationDurationExceeded}, 450*time.Second, threshold), 1e-9)

	// Capped at 1.
	assert.Equal(t, 1.0, Severity([]ViolationType{ViolationCrosswalk}, time.Hour, threshold))

	// The highest type weight wins.
	assert.InDelta(t, 1.0, Severity([]ViolationType{ViolationRestrictedHours, ViolationNoParkingZone}, 0, threshold), 1e-9)
	assert.InDelta(t, 1.0, Severity([]ViolationType{ViolationRestrictedHours}, 0, threshold), 1e-9)
	assert.InDelta(t, 0.8, Severity([]ViolationType{ViolationDurationExceeded}, 0, threshold), 1e-9)
}

func TestTypeSeverityOrdering(t *testing.T) {
	assert.Greater(t, TypeSeverity(ViolationCrosswalk), TypeSeverity(ViolationNoParkingZone))
	assert.Greater(t, TypeSeverity(ViolationFireLane), TypeSeverity(ViolationNoParkingZone))
	assert.Greater(t, TypeSeverity(ViolationNoParkingZone), TypeSeverity(ViolationRestrictedHours))
	assert.Greater(t, TypeSeverity(ViolationRestrictedHours), TypeSeverity(ViolationDurationExceeded))
}

func TestViolationSetSorted(t *testing.T) {
	s := make(violationSet)
	assert.Nil(t, s.sorted())

	s.add(ViolationDurationExceeded)
	s.add(ViolationCrosswalk)
	s.add(ViolationDurationExceeded)
	assert.Equal(t, []ViolationType{ViolationCrosswalk, ViolationDurationExceeded}, s.sorted())
}
