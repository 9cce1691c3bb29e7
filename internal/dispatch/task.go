package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"

	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

var (
	// ErrQueueFull is returned when a task could not be enqueued within
	// the enqueue timeout. The task has been dropped.
	ErrQueueFull = errors.New("task queue full")
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("task queue closed")
	// ErrPoolStopped is returned when starting a stopped pool, and is
	// recorded on retries abandoned by Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrAnalysis wraps failures of the analysis service or reporter.
	ErrAnalysis = errors.New("analysis failed")
	// ErrStopTimeout is returned by Stop when workers outlive the timeout.
	ErrStopTimeout = errors.New("worker pool stop timed out")
)

// TaskStatus is the lifecycle state of an AnalysisTask.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusRetrying   TaskStatus = "retrying"
)

// Terminal reports whether no further work will happen on the task.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisTask is one violation candidate awaiting verification. A worker
// owns the task exclusively while processing it.
type AnalysisTask struct {
	ID         string
	Event      parking.ParkingEvent
	Frame      vision.Frame
	Priority   int // 1 (lowest) to 10
	Status     TaskStatus
	RetryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastError  string
	Result     *AnalysisResult
}

// NewTask wraps a violating event and the frame it was seen on.
func NewTask(ev parking.ParkingEvent, frame vision.Frame, now time.Time) *AnalysisTask {
	return &AnalysisTask{
		ID:        fmt.Sprintf("tsk_%s", uuid.NewString()),
		Event:     ev,
		Frame:     frame,
		Priority:  PriorityFor(ev.Severity),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PriorityFor maps a severity in [0,1] onto 1–10.
func PriorityFor(severity float64) int {
	p := int(math.Ceil(severity * 10))
	return min(max(p, 1), 10)
}

func (t *AnalysisTask) setStatus(s TaskStatus, now time.Time) {
	t.Status = s
	t.UpdatedAt = now
}

// AnalysisResult is the verification stage's verdict on a task.
type AnalysisResult struct {
	Confirmed  bool
	Confidence float64
	PlateText  string
	Evidence   any
}

// AnalysisService verifies a violation candidate. Implementations should
// honour ctx cancellation.
type AnalysisService interface {
	Analyze(ctx context.Context, task *AnalysisTask) (AnalysisResult, error)
}

// AnalysisFunc adapts a function to AnalysisService.
type AnalysisFunc func(ctx context.Context, task *AnalysisTask) (AnalysisResult, error)

func (f AnalysisFunc) Analyze(ctx context.Context, task *AnalysisTask) (AnalysisResult, error) {
	return f(ctx, task)
}

// ViolationReport is what the reporting client receives for a confirmed
// violation.
type ViolationReport struct {
	TaskID         string                  `json:"task_id"`
	EventID        string                  `json:"event_id"`
	StreamID       string                  `json:"stream_id"`
	TrackID        string                  `json:"track_id"`
	VehicleClass   string                  `json:"vehicle_class"`
	ZoneID         string                  `json:"zone_id,omitempty"`
	ViolationTypes []parking.ViolationType `json:"violation_types"`
	Severity       float64                 `json:"severity"`
	Confidence     float64                 `json:"confidence"`
	StartTime      time.Time               `json:"start_time"`
	ViolationStart time.Time               `json:"violation_start,omitzero"`
	Duration       time.Duration           `json:"duration"`
	Location       r2.Point                `json:"location"`
	PlateText      string                  `json:"plate_text,omitempty"`
	Evidence       any                     `json:"evidence,omitempty"`
	ReportedAt     time.Time               `json:"reported_at"`
}

// NewViolationReport builds the report for a confirmed task.
func NewViolationReport(task *AnalysisTask, res AnalysisResult, now time.Time) ViolationReport {
	ev := task.Event
	return ViolationReport{
		TaskID:         task.ID,
		EventID:        ev.ID,
		StreamID:       ev.StreamID,
		TrackID:        ev.TrackID,
		VehicleClass:   ev.Class,
		ZoneID:         ev.ZoneID,
		ViolationTypes: append([]parking.ViolationType(nil), ev.ViolationTypes...),
		Severity:       ev.Severity,
		Confidence:     res.Confidence,
		StartTime:      ev.StartTime,
		ViolationStart: ev.ViolationStart,
		Duration:       ev.Duration,
		Location:       ev.Location,
		PlateText:      res.PlateText,
		Evidence:       res.Evidence,
		ReportedAt:     now,
	}
}

// ReportingClient delivers confirmed violations to the backend.
type ReportingClient interface {
	Report(ctx context.Context, report ViolationReport) error
}

// ReportFunc adapts a function to ReportingClient.
type ReportFunc func(ctx context.Context, report ViolationReport) error

func (f ReportFunc) Report(ctx context.Context, report ViolationReport) error {
	return f(ctx, report)
}
