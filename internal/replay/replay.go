// Package replay feeds recorded detections through the monitoring
// pipeline. A recording is JSON Lines, one frame per line:
//
//	{"stream_id":"cam1","ts":"2026-01-02T08:00:00Z","width":1920,"height":1080,
//	 "detections":[{"box":{"x1":0,"y1":0,"x2":40,"y2":20},"confidence":0.9,"class":"car"}]}
//
// Source implements both vision.FrameSource and vision.DetectionSource, so
// a recording stands in for a camera and its detector.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/odsyjr2/illegal-parking-detection/internal/timeutil"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

// Record is one line of a recording.
type Record struct {
	StreamID   string             `json:"stream_id"`
	Timestamp  time.Time          `json:"ts"`
	Width      int                `json:"width,omitempty"`
	Height     int                `json:"height,omitempty"`
	Detections []vision.Detection `json:"detections"`
}

type frameKey struct {
	stream string
	seq    uint64
}

// Source replays a recording. Frames for each stream come out in file
// order. When paced, a frame is held back (ErrNoFrame) until as much clock
// time has passed since the first Next call as separates it from the
// recording's first frame.
type Source struct {
	clock timeutil.Clock
	paced bool

	mu      sync.Mutex
	queues  map[string][]Record
	order   []string
	next    map[string]uint64
	pending map[frameKey][]vision.Detection
	origin  time.Time // first frame timestamp in the recording
	started time.Time // clock time of the first Next
}

// Option configures a Source.
type Option func(*Source)

// WithClock sets the clock used for pacing.
func WithClock(c timeutil.Clock) Option {
	return func(s *Source) { s.clock = c }
}

// WithPacing releases frames at recorded speed instead of as fast as they
// are asked for.
func WithPacing() Option {
	return func(s *Source) { s.paced = true }
}

// Load reads a recording from r. Blank lines are skipped; any malformed
// line fails the whole load with its line number.
func Load(r io.Reader, opts ...Option) (*Source, error) {
	s := &Source{
		clock:   timeutil.RealClock{},
		queues:  make(map[string][]Record),
		next:    make(map[string]uint64),
		pending: make(map[frameKey][]vision.Detection),
	}
	for _, o := range opts {
		o(s)
	}

	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scan.Scan() {
		line++
		b := scan.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.StreamID == "" {
			return nil, fmt.Errorf("line %d: stream_id is required", line)
		}
		if rec.Timestamp.IsZero() {
			return nil, fmt.Errorf("line %d: ts is required", line)
		}
		if _, ok := s.queues[rec.StreamID]; !ok {
			s.order = append(s.order, rec.StreamID)
		}
		if s.origin.IsZero() || rec.Timestamp.Before(s.origin) {
			s.origin = rec.Timestamp
		}
		s.queues[rec.StreamID] = append(s.queues[rec.StreamID], rec)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	diagf("loaded %d lines for %d streams", line, len(s.order))
	return s, nil
}

// Open loads the recording at path.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return Load(f, opts...)
}

// Streams returns the stream ids in order of first appearance.
func (s *Source) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Remaining returns how many frames are left for streamID.
func (s *Source) Remaining(streamID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[streamID])
}

// Next returns the stream's next recorded frame. It returns
// vision.ErrStreamEnded once the stream is exhausted and an error for a
// stream the recording never mentions.
func (s *Source) Next(ctx context.Context, streamID string) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[streamID]
	if !ok {
		return vision.Frame{}, fmt.Errorf("stream %s not in recording", streamID)
	}
	if len(q) == 0 {
		return vision.Frame{}, vision.ErrStreamEnded
	}
	rec := q[0]
	if s.paced {
		if s.started.IsZero() {
			s.started = s.clock.Now()
		}
		if s.clock.Since(s.started) < rec.Timestamp.Sub(s.origin) {
			return vision.Frame{}, vision.ErrNoFrame
		}
	}
	s.queues[streamID] = q[1:]

	seq := s.next[streamID]
	s.next[streamID] = seq + 1
	s.pending[frameKey{streamID, seq}] = rec.Detections
	tracef("stream=%s seq=%d ts=%s dets=%d", streamID, seq, rec.Timestamp.Format(time.RFC3339Nano), len(rec.Detections))

	return vision.Frame{
		StreamID:  streamID,
		Seq:       seq,
		Timestamp: rec.Timestamp,
		Width:     rec.Width,
		Height:    rec.Height,
	}, nil
}

// Detect returns the detections recorded with frame, stamped with the
// frame's stream and time. Each frame can be detected once.
func (s *Source) Detect(ctx context.Context, frame vision.Frame) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	key := frameKey{frame.StreamID, frame.Seq}
	dets, ok := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no recorded detections for stream %s seq %d", frame.StreamID, frame.Seq)
	}

	out := make([]vision.Detection, len(dets))
	for i, d := range dets {
		d.StreamID = frame.StreamID
		d.Timestamp = frame.Timestamp
		out[i] = d
	}
	return out, nil
}
