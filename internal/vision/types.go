package vision

import (
	"context"
	"errors"
	"time"

	"github.com/golang/geo/r2"
)

// ErrNoFrame is returned by a FrameSource when no frame is ready yet. It is
// transient: callers wait briefly and ask again.
var ErrNoFrame = errors.New("no frame available")

// ErrStreamEnded is returned by a FrameSource whose stream has no more
// frames, as when a recording is exhausted.
var ErrStreamEnded = errors.New("stream ended")

// BoundingBox is an axis-aligned box in pixel coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Rect returns the box as a normalised r2.Rect.
func (b BoundingBox) Rect() r2.Rect {
	return r2.RectFromPoints(r2.Point{X: b.X1, Y: b.Y1}, r2.Point{X: b.X2, Y: b.Y2})
}

// Center returns the box centre.
func (b BoundingBox) Center() r2.Point {
	return b.Rect().Center()
}

// Area returns width × height.
func (b BoundingBox) Area() float64 {
	size := b.Rect().Size()
	return size.X * size.Y
}

// Detection is one frame's localisation and label output for one object.
type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Class      string      `json:"class"`
	Timestamp  time.Time   `json:"timestamp"`
	StreamID   string      `json:"stream_id"`
}

// Center returns the centre of the detection box.
func (d Detection) Center() r2.Point {
	return d.Box.Center()
}

// Area returns the area of the detection box.
func (d Detection) Area() float64 {
	return d.Box.Area()
}

// Frame is an opaque handle to one decoded video frame. Data is carried
// through to the verification stage untouched.
type Frame struct {
	StreamID  string
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// FrameSource yields frames for a stream in timestamp order. It returns
// ErrNoFrame when nothing is ready and ErrStreamEnded when the stream is
// finished; any other error is a stream fault.
type FrameSource interface {
	Next(ctx context.Context, streamID string) (Frame, error)
}

// DetectionSource runs the object detector on a frame. An empty slice is a
// normal result.
type DetectionSource interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// DefaultVehicleClasses are the detector labels treated as vehicles.
var DefaultVehicleClasses = []string{"car", "truck", "bus", "motorcycle"}

// FilterVehicles keeps detections whose class is in classes and whose
// confidence is at least minConfidence. A nil classes slice keeps every
// class. The input slice is not modified.
func FilterVehicles(dets []Detection, classes []string, minConfidence float64) []Detection {
	var allowed map[string]struct{}
	if classes != nil {
		allowed = make(map[string]struct{}, len(classes))
		for _, c := range classes {
			allowed[c] = struct{}{}
		}
	}

	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < minConfidence {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[d.Class]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}
