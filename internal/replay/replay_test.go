package replay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odsyjr2/illegal-parking-detection/internal/coordinator"
	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
	"github.com/odsyjr2/illegal-parking-detection/internal/timeutil"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

var t0 = time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)

func car(x float64) vision.Detection {
	return vision.Detection{
		Box:        vision.BoundingBox{X1: x - 20, Y1: 230, X2: x + 20, Y2: 250},
		Confidence: 0.9,
		Class:      "car",
	}
}

// recording encodes one record per second per stream.
func recording(t *testing.T, frames map[string][][]vision.Detection, order ...string) string {
	t.Helper()
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, id := range order {
		for i, dets := range frames[id] {
			rec := Record{StreamID: id, Timestamp: t0.Add(time.Duration(i) * time.Second), Width: 640, Height: 480, Detections: dets}
			require.NoError(t, enc.Encode(rec))
		}
	}
	return b.String()
}

func TestLoadAndReplay(t *testing.T) {
	data := recording(t, map[string][][]vision.Detection{
		"cam-b": {{car(100)}, {}},
		"cam-a": {{car(200), car(400)}},
	}, "cam-b", "cam-a")
	src, err := Load(strings.NewReader("\n" + data + "\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"cam-b", "cam-a"}, src.Streams())
	assert.Equal(t, 2, src.Remaining("cam-b"))

	ctx := context.Background()
	f, err := src.Next(ctx, "cam-a")
	require.NoError(t, err)
	assert.Equal(t, "cam-a", f.StreamID)
	assert.Equal(t, uint64(0), f.Seq)
	assert.Equal(t, t0, f.Timestamp)
	assert.Equal(t, 640, f.Width)

	dets, err := src.Detect(ctx, f)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, "cam-a", dets[1].StreamID)
	assert.Equal(t, t0, dets[1].Timestamp)
	assert.Equal(t, 400.0, dets[1].Center().X)

	// Each frame is detected once.
	_, err = src.Detect(ctx, f)
	assert.Error(t, err)

	_, err = src.Next(ctx, "cam-a")
	assert.ErrorIs(t, err, vision.ErrStreamEnded)

	f, err = src.Next(ctx, "cam-b")
	require.NoError(t, err)
	f, err = src.Next(ctx, "cam-b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)
	assert.Equal(t, t0.Add(time.Second), f.Timestamp)
	dets, err = src.Detect(ctx, f)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestUnknownStreamIsFault(t *testing.T) {
	src, err := Load(strings.NewReader(recording(t, map[string][][]vision.Detection{"cam": {{}}}, "cam")))
	require.NoError(t, err)
	_, err = src.Next(context.Background(), "other")
	require.Error(t, err)
	assert.False(t, errors.Is(err, vision.ErrNoFrame))
	assert.False(t, errors.Is(err, vision.ErrStreamEnded))
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"malformed", `{"stream_id":"cam","ts":"2026-01-02T08:00:00Z"}` + "\n{not json}\n", "line 2"},
		{"no stream", `{"ts":"2026-01-02T08:00:00Z"}`, "stream_id"},
		{"no timestamp", `{"stream_id":"cam"}`, "ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.data))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(t.TempDir() + "/missing.jsonl")
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	src, err := Load(strings.NewReader(recording(t, map[string][][]vision.Detection{"cam": {{}}}, "cam")))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx, "cam")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.Remaining("cam"))
}

func TestPacing(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	data := recording(t, map[string][][]vision.Detection{"cam": {{}, {}, {}}}, "cam")
	src, err := Load(strings.NewReader(data), WithClock(clock), WithPacing())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = src.Next(ctx, "cam")
	require.NoError(t, err)
	_, err = src.Next(ctx, "cam")
	assert.ErrorIs(t, err, vision.ErrNoFrame)

	clock.Advance(time.Second)
	f, err := src.Next(ctx, "cam")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	clock.Advance(500 * time.Millisecond)
	_, err = src.Next(ctx, "cam")
	assert.ErrorIs(t, err, vision.ErrNoFrame)
	clock.Advance(500 * time.Millisecond)
	_, err = src.Next(ctx, "cam")
	require.NoError(t, err)
	_, err = src.Next(ctx, "cam")
	assert.ErrorIs(t, err, vision.ErrStreamEnded)
}

func TestReplayThroughCoordinator(t *testing.T) {
	parked := make([][]vision.Detection, 36)
	for i := range parked {
		parked[i] = []vision.Detection{car(320)}
	}
	src, err := Load(strings.NewReader(recording(t, map[string][][]vision.Detection{"cam-1": parked}, "cam-1")))
	require.NoError(t, err)

	cfg := coordinator.DefaultConfig()
	cfg.Tracking.StationaryDwell = 5 * time.Second
	cfg.Parking.ViolationThreshold = 30 * time.Second
	cfg.FrameRetryDelay = time.Millisecond
	cfg.StatusInterval = 0

	queue := dispatch.NewDispatcher(10, time.Second, nil)
	c := coordinator.New(cfg, src, src, queue)
	for _, id := range src.Streams() {
		require.NoError(t, c.AddStream(id))
	}
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		st, err := c.StreamStatus("cam-1")
		require.NoError(t, err)
		return st.State == coordinator.StateStopped && st.FramesProcessed == 36
	}, 5*time.Second, time.Millisecond)

	tasks := queue.Drain()
	require.Len(t, tasks, 1)
	assert.Equal(t, t0, tasks[0].Event.StartTime)
	assert.Equal(t, 30*time.Second, tasks[0].Event.Duration)
	assert.Equal(t, t0.Add(30*time.Second), tasks[0].Frame.Timestamp)
}
