package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
)

var _ dispatch.Observer = (*Metrics)(nil)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveFrame("cam-1", 12.5, 3)
	m.ObserveFrame("cam-1", 12.5, 3)
	m.TaskDispatched("cam-1")
	m.TaskDropped(&dispatch.AnalysisTask{ID: "tsk_1"})
	m.SetQueueDepthFunc(func() int { return 7 })

	body := scrape(t, m)
	assert.Contains(t, body, "parkwatch_frames_processed_total 2")
	assert.Contains(t, body, "parkwatch_tasks_dispatched_total 1")
	assert.Contains(t, body, "parkwatch_tasks_dropped_total 1")
	assert.Contains(t, body, "parkwatch_queue_depth 7")
	assert.Contains(t, body, `parkwatch_stream_fps{stream="cam-1"} 12.5`)
	assert.Contains(t, body, `parkwatch_stream_active_tracks{stream="cam-1"} 3`)

	m.StreamRemoved("cam-1")
	assert.NotContains(t, scrape(t, m), `stream="cam-1"`)
}

func TestMetricsCountsQueueDrops(t *testing.T) {
	m := New()
	queue := dispatch.NewDispatcher(1, time.Millisecond, nil)
	queue.OnDrop = m.TaskDropped

	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, &dispatch.AnalysisTask{ID: "tsk_a"}))
	assert.ErrorIs(t, queue.Enqueue(ctx, &dispatch.AnalysisTask{ID: "tsk_b"}), dispatch.ErrQueueFull)
	assert.ErrorIs(t, queue.Enqueue(ctx, &dispatch.AnalysisTask{ID: "tsk_c"}), dispatch.ErrQueueFull)

	assert.Equal(t, uint64(2), m.TasksDropped.Load())
	assert.Contains(t, scrape(t, m), "parkwatch_tasks_dropped_total 2")
}

func TestMetricsTaskOutcomes(t *testing.T) {
	m := New()

	confirmed := &dispatch.AnalysisTask{Status: dispatch.StatusCompleted, Result: &dispatch.AnalysisResult{Confirmed: true}}
	discarded := &dispatch.AnalysisTask{Status: dispatch.StatusCompleted, Result: &dispatch.AnalysisResult{}}
	failed := &dispatch.AnalysisTask{Status: dispatch.StatusFailed}

	m.TaskFinished(confirmed, 120*time.Millisecond)
	m.TaskFinished(discarded, 80*time.Millisecond)
	m.TaskFinished(failed, 0)
	m.TaskRetried(failed)

	assert.Equal(t, uint64(2), m.TasksCompleted.Load())
	assert.Equal(t, uint64(1), m.TasksConfirmed.Load())
	assert.Equal(t, uint64(1), m.TasksFailed.Load())
	assert.Equal(t, uint64(1), m.TasksRetried.Load())
	assert.Equal(t, uint64(80), m.AnalysisLatencyMs.Load())
}
