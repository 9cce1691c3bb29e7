package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		severity float64
		want     int
	}{
		{0, 1},
		{0.05, 1},
		{0.5, 5},
		{0.81, 9},
		{1, 10},
		{1.5, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.severity), "severity %v", tt.severity)
	}
}

func TestNewTask(t *testing.T) {
	ev := parking.ParkingEvent{ID: "evt_1", Severity: 0.95}
	task := NewTask(ev, vision.Frame{Seq: 7}, t0)

	assert.True(t, strings.HasPrefix(task.ID, "tsk_"), task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 10, task.Priority)
	assert.Equal(t, uint64(7), task.Frame.Seq)
	assert.Equal(t, t0, task.CreatedAt)
	assert.Zero(t, task.RetryCount)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRetrying.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestNewViolationReport(t *testing.T) {
	ev := parking.ParkingEvent{
		ID:             "evt_1",
		TrackID:        "trk_1",
		StreamID:       "cam-1",
		Class:          "car",
		ZoneID:         "xwalk",
		StartTime:      t0,
		ViolationStart: t0.Add(10 * time.Second),
		Duration:       40 * time.Second,
		Location:       r2.Point{X: 10, Y: 20},
		ViolationTypes: []parking.ViolationType{parking.ViolationCrosswalk},
		Severity:       1,
	}
	task := NewTask(ev, vision.Frame{}, t0)
	task.ID = "tsk_1"
	now := t0.Add(time.Minute)

	got := NewViolationReport(task, AnalysisResult{Confirmed: true, Confidence: 0.9, PlateText: "12A3456"}, now)
	want := ViolationReport{
		TaskID:         "tsk_1",
		EventID:        "evt_1",
		StreamID:       "cam-1",
		TrackID:        "trk_1",
		VehicleClass:   "car",
		ZoneID:         "xwalk",
		ViolationTypes: []parking.ViolationType{parking.ViolationCrosswalk},
		Severity:       1,
		Confidence:     0.9,
		StartTime:      t0,
		ViolationStart: t0.Add(10 * time.Second),
		Duration:       40 * time.Second,
		Location:       r2.Point{X: 10, Y: 20},
		PlateText:      "12A3456",
		ReportedAt:     now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewViolationReport() mismatch (-want +got):\n%s", diff)
	}
}
