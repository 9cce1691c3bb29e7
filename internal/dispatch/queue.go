package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/odsyjr2/illegal-parking-detection/internal/timeutil"
)

// QueueStats is a point-in-time view of the dispatcher.
type QueueStats struct {
	Len      int    `json:"len"`
	Cap      int    `json:"cap"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Dropped  uint64 `json:"dropped"`
}

// Dispatcher is the bounded FIFO shared by every stream's monitoring loop
// (producers) and the worker pool (consumers). The channel is never
// closed; Close only gates Enqueue.
type Dispatcher struct {
	ch             chan *AnalysisTask
	enqueueTimeout time.Duration
	clock          timeutil.Clock

	closed   atomic.Bool
	enqueued atomic.Uint64
	dequeued atomic.Uint64
	dropped  atomic.Uint64

	// OnDrop, if set, is called for every task dropped on a full queue.
	OnDrop func(*AnalysisTask)
}

// NewDispatcher creates a queue with the given capacity. A nil clock uses
// the real clock.
func NewDispatcher(capacity int, enqueueTimeout time.Duration, clock timeutil.Clock) *Dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Dispatcher{
		ch:             make(chan *AnalysisTask, capacity),
		enqueueTimeout: enqueueTimeout,
		clock:          clock,
	}
}

// Enqueue adds task, waiting at most the enqueue timeout for space. On
// timeout the task is dropped, logged and ErrQueueFull returned. Enqueue
// never blocks past the timeout or ctx.
func (d *Dispatcher) Enqueue(ctx context.Context, task *AnalysisTask) error {
	if d.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case d.ch <- task:
		d.enqueued.Add(1)
		return nil
	default:
	}

	timer := d.clock.NewTimer(d.enqueueTimeout)
	defer timer.Stop()
	select {
	case d.ch <- task:
		d.enqueued.Add(1)
		return nil
	case <-timer.C():
		n := d.dropped.Add(1)
		opsf("queue full (%d/%d) after %s: dropped task=%s event=%s stream=%s (drops=%d)",
			len(d.ch), cap(d.ch), d.enqueueTimeout, task.ID, task.Event.ID, task.Event.StreamID, n)
		if d.OnDrop != nil {
			d.OnDrop(task)
		}
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue waits up to timeout for a task. It returns false on timeout or
// when ctx is done.
func (d *Dispatcher) Dequeue(ctx context.Context, timeout time.Duration) (*AnalysisTask, bool) {
	select {
	case task := <-d.ch:
		d.dequeued.Add(1)
		return task, true
	default:
	}

	timer := d.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case task := <-d.ch:
		d.dequeued.Add(1)
		return task, true
	case <-timer.C():
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Close rejects further enqueues. Tasks already queued stay dequeueable.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

// Drain removes and returns every queued task.
func (d *Dispatcher) Drain() []*AnalysisTask {
	var out []*AnalysisTask
	for {
		select {
		case task := <-d.ch:
			out = append(out, task)
		default:
			return out
		}
	}
}

// Len returns the number of queued tasks.
func (d *Dispatcher) Len() int { return len(d.ch) }

// Cap returns the queue capacity.
func (d *Dispatcher) Cap() int { return cap(d.ch) }

// Stats returns queue counters.
func (d *Dispatcher) Stats() QueueStats {
	return QueueStats{
		Len:      len(d.ch),
		Cap:      cap(d.ch),
		Enqueued: d.enqueued.Load(),
		Dequeued: d.dequeued.Load(),
		Dropped:  d.dropped.Load(),
	}
}
