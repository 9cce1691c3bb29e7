package dispatch

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/timeutil"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func testTask(id string) *AnalysisTask {
	ev := parking.ParkingEvent{ID: "evt_" + id, TrackID: "trk_" + id, StreamID: "cam-1", Severity: 0.8}
	task := NewTask(ev, vision.Frame{StreamID: "cam-1"}, t0)
	task.ID = "tsk_" + id
	return task
}

func captureOps(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })
	return &buf
}

func TestDispatcherFIFO(t *testing.T) {
	d := NewDispatcher(3, time.Second, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Enqueue(ctx, testTask(id)))
	}
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 3, d.Cap())

	for _, want := range []string{"tsk_a", "tsk_b", "tsk_c"} {
		task, ok := d.Dequeue(ctx, time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, want, task.ID)
	}
	_, ok := d.Dequeue(ctx, time.Millisecond)
	assert.False(t, ok)

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(3), stats.Dequeued)
	assert.Zero(t, stats.Dropped)
}

// A full queue makes the producer wait out the enqueue timeout, then drop
// the task with a warning.
func TestDispatcherDropsAfterBoundedWait(t *testing.T) {
	ops := captureOps(t)
	clock := timeutil.NewMockClock(t0)
	d := NewDispatcher(1, 2*time.Second, clock)
	var dropped []*AnalysisTask
	d.OnDrop = func(task *AnalysisTask) { dropped = append(dropped, task) }

	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, testTask("first")))

	errCh := make(chan error, 1)
	go func() { errCh <- d.Enqueue(ctx, testTask("second")) }()

	require.Eventually(t, func() bool { return clock.PendingTimers() == 1 },
		time.Second, time.Millisecond, "producer should be waiting on the enqueue timer")
	select {
	case err := <-errCh:
		t.Fatalf("Enqueue returned before the timeout: %v", err)
	default:
	}

	clock.Advance(time.Second)
	select {
	case err := <-errCh:
		t.Fatalf("Enqueue returned after 1s: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not give up after the timeout")
	}

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, uint64(1), d.Stats().Dropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "tsk_second", dropped[0].ID)
	assert.Contains(t, ops.String(), `"level":"warn"`)
	assert.Contains(t, ops.String(), "dropped task=tsk_second")
}

func TestDispatcherEnqueueWaitsForSpace(t *testing.T) {
	d := NewDispatcher(1, time.Second, nil)
	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, testTask("a")))

	errCh := make(chan error, 1)
	go func() { errCh <- d.Enqueue(ctx, testTask("b")) }()

	time.Sleep(10 * time.Millisecond)
	task, ok := d.Dequeue(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "tsk_a", task.ID)

	require.NoError(t, <-errCh)
	assert.Equal(t, 1, d.Len())
}

func TestDispatcherEnqueueBoundedWithRealClock(t *testing.T) {
	captureOps(t)
	d := NewDispatcher(1, 50*time.Millisecond, nil)
	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, testTask("a")))

	start := time.Now()
	err := d.Enqueue(ctx, testTask("b"))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestDispatcherEnqueueHonoursContext(t *testing.T) {
	d := NewDispatcher(1, time.Hour, nil)
	require.NoError(t, d.Enqueue(context.Background(), testTask("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, testTask("b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, d.Stats().Dropped)
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher(2, time.Second, nil)
	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, testTask("a")))
	d.Close()

	assert.ErrorIs(t, d.Enqueue(ctx, testTask("b")), ErrQueueClosed)

	task, ok := d.Dequeue(ctx, time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "tsk_a", task.ID)
}

func TestDispatcherDrain(t *testing.T) {
	d := NewDispatcher(4, time.Second, nil)
	ctx := context.Background()
	require.NoError(t, d.Enqueue(ctx, testTask("a")))
	require.NoError(t, d.Enqueue(ctx, testTask("b")))

	assert.Len(t, d.Drain(), 2)
	assert.Zero(t, d.Len())
}

func TestDequeueStopsOnContext(t *testing.T) {
	d := NewDispatcher(1, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := d.Dequeue(ctx, time.Hour)
	assert.False(t, ok)
}
