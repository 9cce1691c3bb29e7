package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/timeutil"
	"github.com/odsyjr2/illegal-parking-detection/internal/tracking"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

var (
	ErrStreamExists     = errors.New("stream already exists")
	ErrUnknownStream    = errors.New("unknown stream")
	ErrStreamNotRunning = errors.New("stream not running")
	ErrNotStarted       = errors.New("coordinator not started")
	// ErrStreamFault wraps any unexpected failure inside a stream loop,
	// including a recovered panic.
	ErrStreamFault = errors.New("stream fault")
)

// Recorder receives per-stream pipeline events. metrics.Metrics
// implements it. Queue drops reach metrics through Dispatcher.OnDrop so
// that requeued retries are counted too.
type Recorder interface {
	ObserveFrame(stream string, fps float64, activeTracks int)
	FrameError(stream string)
	StreamFault(stream string)
	ViolationDetected(stream string)
	TaskDispatched(stream string)
	StreamRemoved(stream string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFrame(string, float64, int) {}
func (nopRecorder) FrameError(string)                 {}
func (nopRecorder) StreamFault(string)                {}
func (nopRecorder) ViolationDetected(string)          {}
func (nopRecorder) TaskDispatched(string)             {}
func (nopRecorder) StreamRemoved(string)              {}

// Coordinator owns the per-stream monitoring loops, the shared dispatcher
// and, optionally, the worker pool draining it.
type Coordinator struct {
	config   Config
	frames   vision.FrameSource
	detector vision.DetectionSource
	queue    *dispatch.Dispatcher
	pool     *dispatch.Pool
	clock    timeutil.Clock
	recorder Recorder
	sink     StatusSink

	mu      sync.Mutex
	streams map[string]*stream
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for delays and frame timing.
func WithClock(c timeutil.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithPool hands the worker pool lifecycle to the coordinator: Start
// starts it and Stop stops it.
func WithPool(p *dispatch.Pool) Option {
	return func(co *Coordinator) { co.pool = p }
}

// WithRecorder sets the pipeline event recorder.
func WithRecorder(r Recorder) Option {
	return func(co *Coordinator) { co.recorder = r }
}

// WithStatusSink sets where periodic status is published.
func WithStatusSink(s StatusSink) Option {
	return func(co *Coordinator) { co.sink = s }
}

// New creates a coordinator. Streams are added with AddStream and run once
// Start is called.
func New(cfg Config, frames vision.FrameSource, detector vision.DetectionSource, queue *dispatch.Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		config:   cfg,
		frames:   frames,
		detector: detector,
		queue:    queue,
		clock:    timeutil.RealClock{},
		recorder: nopRecorder{},
		streams:  make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddStream registers a stream. If the coordinator is running the stream
// starts immediately.
func (c *Coordinator) AddStream(id string, opts ...StreamOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.streams[id]; ok {
		return fmt.Errorf("%w: %s", ErrStreamExists, id)
	}
	s := &stream{
		id:          id,
		trackingCfg: c.config.Tracking,
		parkingCfg:  c.config.Parking,
		status:      StreamStatus{ID: id, State: StateStopped},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.trackingCfg.Validate(); err != nil {
		return fmt.Errorf("stream %s: tracking: %w", id, err)
	}
	if err := s.parkingCfg.Validate(); err != nil {
		return fmt.Errorf("stream %s: parking: %w", id, err)
	}
	c.streams[id] = s
	diagf("added stream=%s", id)
	if c.started && !c.stopped {
		c.startLocked(s)
	}
	return nil
}

// RemoveStream stops the stream if needed and forgets it.
func (c *Coordinator) RemoveStream(id string) error {
	if err := c.StopStream(id); err != nil && !errors.Is(err, ErrStreamNotRunning) {
		return err
	}
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
	c.recorder.StreamRemoved(id)
	return nil
}

// Start starts the worker pool, the status publisher and every registered
// stream. Cancelling ctx stops the loops; call Stop to release everything.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("coordinator already stopped")
	}
	if c.started {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.pool != nil {
		if err := c.pool.Start(c.ctx); err != nil {
			c.cancel()
			return fmt.Errorf("start worker pool: %w", err)
		}
	}
	c.started = true

	if c.sink != nil && c.config.StatusInterval > 0 {
		c.wg.Add(1)
		go c.publishStatus(c.ctx)
	}
	for _, s := range c.streams {
		c.startLocked(s)
	}
	diagf("coordinator started with %d streams", len(c.streams))
	return nil
}

// StartStream starts a stopped stream with fresh tracker and monitor
// state.
func (c *Coordinator) StartStream(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	if !c.started || c.stopped {
		return ErrNotStarted
	}
	if s.running() {
		return nil
	}
	c.startLocked(s)
	return nil
}

func (c *Coordinator) startLocked(s *stream) {
	if s.running() {
		return
	}
	s.tracker = tracking.NewTracker(s.id, s.trackingCfg)
	s.monitor = parking.NewMonitor(s.id, s.parkingCfg)
	s.lastTs = time.Time{}
	s.setEvents(nil, s.monitor.History())
	ctx, cancel := context.WithCancel(c.ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.resume()
	s.setState(StateRunning)

	done := s.done
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runStream(ctx, s)
		c.mu.Lock()
		if s.done == done {
			s.done, s.cancel = nil, nil
		}
		c.mu.Unlock()
		cancel()
		close(done)
	}()
	diagf("started stream=%s", s.id)
}

// PauseStream suspends a running stream after its current frame.
func (c *Coordinator) PauseStream(id string) error {
	s, err := c.runningStream(id)
	if err != nil {
		return err
	}
	if s.pause() {
		s.setState(StatePaused)
		diagf("paused stream=%s", id)
	}
	return nil
}

// ResumeStream continues a paused stream.
func (c *Coordinator) ResumeStream(id string) error {
	s, err := c.runningStream(id)
	if err != nil {
		return err
	}
	if s.resume() {
		s.setState(StateRunning)
		diagf("resumed stream=%s", id)
	}
	return nil
}

// StopStream stops a stream after its current frame and discards its
// tracker and monitor state. Open parking events are closed.
func (c *Coordinator) StopStream(id string) error {
	c.mu.Lock()
	s, ok := c.streams[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	if !s.running() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotRunning, id)
	}
	s.cancel()
	done := s.done
	c.mu.Unlock()

	<-done
	return nil
}

func (c *Coordinator) runningStream(id string) (*stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	if !s.running() {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotRunning, id)
	}
	return s, nil
}

// Stop stops every stream, then the worker pool, and closes the queue.
// The pool gets Config.StopTimeout to finish in-flight tasks.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.stopped = true
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()

	c.queue.Close()
	var err error
	if c.pool != nil {
		err = c.pool.Stop(c.config.StopTimeout)
	}
	diagf("coordinator stopped")
	return err
}

// Status returns a snapshot of every stream, sorted by id, and the pool.
func (c *Coordinator) Status() SystemStatus {
	c.mu.Lock()
	streams := make([]*stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	st := SystemStatus{
		Timestamp: c.clock.Now(),
		Streams:   make([]StreamStatus, len(streams)),
	}
	for i, s := range streams {
		st.Streams[i] = s.snapshot()
	}
	sort.Slice(st.Streams, func(i, j int) bool { return st.Streams[i].ID < st.Streams[j].ID })

	poolHealth := dispatch.HealthHealthy
	if c.pool != nil {
		st.Pool = c.pool.Stats()
		poolHealth = st.Pool.Health
	} else {
		st.Pool.Queue = c.queue.Stats()
	}
	st.Health = overallHealth(st.Streams, poolHealth)
	return st
}

func (c *Coordinator) publishStatus(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := c.sink.PublishStatus(ctx, c.Status()); err != nil && ctx.Err() == nil {
				opsf("publish status: %v", err)
			}
		}
	}
}

// runStream is one stream's loop. It returns when ctx is done or the
// source reports the end of the stream.
func (c *Coordinator) runStream(ctx context.Context, s *stream) {
	defer c.finishStream(s)

	for ctx.Err() == nil {
		if ch := s.pausedCh(); ch != nil {
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
			continue
		}

		err := c.step(ctx, s)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, vision.ErrNoFrame):
			timeutil.Wait(ctx, c.clock, c.config.FrameRetryDelay)
		case errors.Is(err, vision.ErrStreamEnded):
			diagf("stream=%s ended", s.id)
			return
		default:
			s.recordFault(err)
			c.recorder.StreamFault(s.id)
			opsf("stream=%s degraded, retrying in %s: %v", s.id, c.config.FaultCooldown, err)
			timeutil.Wait(ctx, c.clock, c.config.FaultCooldown)
		}
	}
}

// finishStream closes the stream's open events and drops its tracking
// state.
func (c *Coordinator) finishStream(s *stream) {
	end := s.lastTs
	if end.IsZero() {
		end = c.clock.Now()
	}
	closed := s.monitor.Close(end)
	s.setEvents(nil, s.monitor.History())
	s.tracker.Reset()
	s.tracker, s.monitor = nil, nil
	s.mu.Lock()
	s.status.State = StateStopped
	s.status.ActiveTracks = 0
	s.status.OpenEvents = 0
	s.mu.Unlock()
	diagf("stopped stream=%s, closed %d open events", s.id, len(closed))
}

// step processes one frame: acquire, detect, track, monitor, dispatch.
// Panics in any stage surface as ErrStreamFault.
func (c *Coordinator) step(ctx context.Context, s *stream) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrStreamFault, r)
		}
	}()

	frame, err := c.frames.Next(ctx, s.id)
	if err != nil {
		if errors.Is(err, vision.ErrNoFrame) || errors.Is(err, vision.ErrStreamEnded) {
			return err
		}
		c.recorder.FrameError(s.id)
		return fmt.Errorf("%w: frame source: %w", ErrStreamFault, err)
	}

	start := c.clock.Now()
	dets, err := c.detector.Detect(ctx, frame)
	if err != nil {
		c.recorder.FrameError(s.id)
		return fmt.Errorf("%w: detector: %w", ErrStreamFault, err)
	}
	dets = vision.FilterVehicles(dets, c.config.VehicleClasses, c.config.MinConfidence)

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = start
	}
	if !s.lastTs.IsZero() && ts.Before(s.lastTs) {
		s.recordSkip()
		tracef("stream=%s skipping out-of-order frame=%d ts=%s last=%s",
			s.id, frame.Seq, ts.Format(time.RFC3339Nano), s.lastTs.Format(time.RFC3339Nano))
		return nil
	}
	s.lastTs = ts

	tracks := s.tracker.Update(dets, ts)
	res := s.monitor.Update(tracks, ts)
	s.setEvents(s.monitor.OpenEvents(), s.monitor.History())
	for _, ev := range res.Violations {
		c.recorder.ViolationDetected(s.id)
		c.dispatch(ctx, s, ev, frame)
	}

	elapsed := c.clock.Since(start)
	s.recordFrame(elapsed, ts, c.config.FPSWindow, len(tracks), s.monitor.Stats())
	snap := s.snapshot()
	c.recorder.ObserveFrame(s.id, snap.FPS, len(tracks))
	tracef("stream=%s frame=%d detections=%d tracks=%d closed=%d violations=%d took=%s",
		s.id, frame.Seq, len(dets), len(tracks), len(res.Closed), len(res.Violations), elapsed)
	return nil
}

// dispatch enqueues one task for a violation edge. A full queue drops the
// task after the bounded wait; the loop carries on either way.
func (c *Coordinator) dispatch(ctx context.Context, s *stream, ev parking.ParkingEvent, frame vision.Frame) {
	task := dispatch.NewTask(ev, frame, c.clock.Now())
	err := c.queue.Enqueue(ctx, task)
	switch {
	case err == nil:
		s.recordDispatch(true)
		c.recorder.TaskDispatched(s.id)
		diagf("stream=%s dispatched task=%s event=%s track=%s types=%v",
			s.id, task.ID, ev.ID, ev.TrackID, ev.ViolationTypes)
	case ctx.Err() != nil:
		opsf("stream=%s stopping, task=%s for event=%s not dispatched", s.id, task.ID, ev.ID)
	default:
		s.recordDispatch(false)
	}
}

// Streams returns the registered stream ids, sorted.
func (c *Coordinator) Streams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Events returns the open events of stream id and up to limit of its most
// recently closed ones. A limit of zero or less returns the whole archive.
// The archive of a stopped stream stays readable until it is restarted.
func (c *Coordinator) Events(id string, limit int) (StreamEvents, error) {
	c.mu.Lock()
	s, ok := c.streams[id]
	c.mu.Unlock()
	if !ok {
		return StreamEvents{}, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return s.events(limit), nil
}

// StreamStatus returns the status of one stream.
func (c *Coordinator) StreamStatus(id string) (StreamStatus, error) {
	c.mu.Lock()
	s, ok := c.streams[id]
	c.mu.Unlock()
	if !ok {
		return StreamStatus{}, fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	return s.snapshot(), nil
}
