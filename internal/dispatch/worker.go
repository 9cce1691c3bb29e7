package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/odsyjr2/illegal-parking-detection/internal/timeutil"
)

// latencyWindow is how many recent analysis latencies a worker averages.
const latencyWindow = 100

// Health is a coarse worker or pool classification.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// WorkerStats are one worker's local counters.
type WorkerStats struct {
	ID         int           `json:"id"`
	Running    bool          `json:"running"`
	Processed  int           `json:"processed"`
	Confirmed  int           `json:"confirmed"`
	Discarded  int           `json:"discarded"`
	Retried    int           `json:"retried"`
	Failed     int           `json:"failed"`
	Errors     int           `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
	Health     Health        `json:"health"`
}

// PoolStats aggregates every worker plus the queue.
type PoolStats struct {
	Running        bool          `json:"running"`
	Workers        []WorkerStats `json:"workers"`
	Processed      int           `json:"processed"`
	Confirmed      int           `json:"confirmed"`
	Discarded      int           `json:"discarded"`
	Retried        int           `json:"retried"`
	Failed         int           `json:"failed"`
	PendingRetries int           `json:"pending_retries"`
	Queue          QueueStats    `json:"queue"`
	Health         Health        `json:"health"`
}

// Observer receives task outcomes. Any method may be called from several
// workers at once.
type Observer interface {
	TaskFinished(task *AnalysisTask, latency time.Duration)
	TaskRetried(task *AnalysisTask)
}

type worker struct {
	id      int
	running atomic.Bool

	mu        sync.Mutex
	stats     WorkerStats
	latencies []float64 // seconds, bounded by latencyWindow
}

func (w *worker) record(fn func(s *WorkerStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}

func (w *worker) observeLatency(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latencies = append(w.latencies, d.Seconds())
	if len(w.latencies) > latencyWindow {
		w.latencies = w.latencies[len(w.latencies)-latencyWindow:]
	}
	w.stats.AvgLatency = time.Duration(stat.Mean(w.latencies, nil) * float64(time.Second))
}

func (w *worker) snapshot(errorThreshold int) WorkerStats {
	w.mu.Lock()
	s := w.stats
	w.mu.Unlock()
	s.ID = w.id
	s.Running = w.running.Load()
	switch {
	case !s.Running:
		s.Health = HealthCritical
	case s.Errors > errorThreshold || s.Processed == 0:
		s.Health = HealthWarning
	default:
		s.Health = HealthHealthy
	}
	return s
}

// Pool is a fixed set of workers draining a Dispatcher. A Pool runs once:
// after Stop it can not be restarted.
type Pool struct {
	config   Config
	queue    *Dispatcher
	analyzer AnalysisService
	reporter ReportingClient
	clock    timeutil.Clock
	observer Observer

	workers []*worker

	mu         sync.Mutex
	started    bool
	stopped    bool
	loopCtx    context.Context
	cancelLoop context.CancelFunc
	workCtx    context.Context
	cancelWork context.CancelFunc
	wg         sync.WaitGroup

	retryMu sync.Mutex
	retries map[string]pendingRetry

	// failed counts every permanent failure, including tasks failed by
	// Stop that no worker touched.
	failed atomic.Int64
}

type pendingRetry struct {
	task  *AnalysisTask
	timer timeutil.Timer
}

// PoolOption customises a Pool.
type PoolOption func(*Pool)

// WithClock sets the pool's clock.
func WithClock(c timeutil.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates a pool over queue. It does not start any workers.
func NewPool(cfg Config, queue *Dispatcher, analyzer AnalysisService, reporter ReportingClient, opts ...PoolOption) *Pool {
	p := &Pool{
		config:   cfg,
		queue:    queue,
		analyzer: analyzer,
		reporter: reporter,
		clock:    timeutil.RealClock{},
		retries:  make(map[string]pendingRetry),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.workers = make([]*worker, cfg.Workers)
	for i := range p.workers {
		p.workers[i] = &worker{id: i}
	}
	return p
}

// Start launches the workers. Cancelling ctx stops dequeueing; in-flight
// analysis keeps running until Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.loopCtx, p.cancelLoop = context.WithCancel(ctx)
	p.workCtx, p.cancelWork = context.WithCancel(context.WithoutCancel(ctx))

	for _, w := range p.workers {
		w.running.Store(true)
		p.wg.Add(1)
		go p.run(w)
	}
	diagf("started %d workers (queue cap %d, max retries %d)", len(p.workers), p.queue.Cap(), p.config.MaxRetries)
	return nil
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	defer w.running.Store(false)
	for p.loopCtx.Err() == nil {
		task, ok := p.queue.Dequeue(p.loopCtx, p.config.DequeueTimeout)
		if !ok {
			continue
		}
		p.process(w, task)
	}
}

// process runs one analysis attempt. The worker owns task until it is
// finished or handed to the retry timer.
func (p *Pool) process(w *worker, task *AnalysisTask) {
	task.setStatus(StatusProcessing, p.clock.Now())
	tracef("worker=%d task=%s attempt=%d", w.id, task.ID, task.RetryCount+1)

	ctx := p.workCtx
	if p.config.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AnalysisTimeout)
		defer cancel()
	}

	start := p.clock.Now()
	err := p.attempt(ctx, task)
	latency := p.clock.Since(start)
	w.observeLatency(latency)
	w.record(func(s *WorkerStats) { s.Processed++ })

	if err != nil {
		w.record(func(s *WorkerStats) { s.Errors++ })
		p.fail(w, task, err, latency)
		return
	}

	task.LastError = ""
	task.setStatus(StatusCompleted, p.clock.Now())
	if task.Result.Confirmed {
		w.record(func(s *WorkerStats) { s.Confirmed++ })
		diagf("worker=%d task=%s confirmed violation event=%s confidence=%.2f",
			w.id, task.ID, task.Event.ID, task.Result.Confidence)
	} else {
		w.record(func(s *WorkerStats) { s.Discarded++ })
		tracef("worker=%d task=%s not a violation, discarded", w.id, task.ID)
	}
	if p.observer != nil {
		p.observer.TaskFinished(task, latency)
	}
}

// attempt analyses task and reports it when confirmed. A failed report
// fails the attempt.
func (p *Pool) attempt(ctx context.Context, task *AnalysisTask) error {
	res, err := p.analyzer.Analyze(ctx, task)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	task.Result = &res
	if !res.Confirmed {
		return nil
	}
	report := NewViolationReport(task, res, p.clock.Now())
	if err := p.reporter.Report(ctx, report); err != nil {
		return fmt.Errorf("%w: report: %w", ErrAnalysis, err)
	}
	return nil
}

// fail retries task after the retry delay while attempts remain, else
// marks it failed.
func (p *Pool) fail(w *worker, task *AnalysisTask, err error, latency time.Duration) {
	task.RetryCount++
	task.LastError = err.Error()

	if task.RetryCount >= p.config.MaxRetries || p.loopCtx.Err() != nil {
		w.record(func(s *WorkerStats) { s.Failed++ })
		p.finishFailed(task, latency)
		return
	}

	w.record(func(s *WorkerStats) { s.Retried++ })
	task.setStatus(StatusRetrying, p.clock.Now())
	diagf("worker=%d task=%s attempt %d/%d failed, retrying in %s: %v",
		w.id, task.ID, task.RetryCount, p.config.MaxRetries, p.config.RetryDelay, err)
	if p.observer != nil {
		p.observer.TaskRetried(task)
	}
	p.scheduleRetry(task)
}

func (p *Pool) finishFailed(task *AnalysisTask, latency time.Duration) {
	task.setStatus(StatusFailed, p.clock.Now())
	p.failed.Add(1)
	opsf("task=%s event=%s stream=%s failed permanently after %d attempts: %s",
		task.ID, task.Event.ID, task.Event.StreamID, task.RetryCount, task.LastError)
	if p.observer != nil {
		p.observer.TaskFinished(task, latency)
	}
}

// scheduleRetry requeues task after the retry delay without holding a
// worker. A requeue that fails marks the task failed.
func (p *Pool) scheduleRetry(task *AnalysisTask) {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	timer := p.clock.AfterFunc(p.config.RetryDelay, func() {
		p.retryMu.Lock()
		if _, ok := p.retries[task.ID]; !ok {
			// Stop already took the task.
			p.retryMu.Unlock()
			return
		}
		delete(p.retries, task.ID)
		p.retryMu.Unlock()

		err := p.loopCtx.Err()
		if err == nil {
			err = p.queue.Enqueue(p.loopCtx, task)
		}
		if err != nil {
			task.LastError = fmt.Sprintf("requeue: %v", err)
			p.finishFailed(task, 0)
		}
	})
	p.retries[task.ID] = pendingRetry{task: task, timer: timer}
}

// PendingRetries returns how many tasks are waiting out a retry delay.
func (p *Pool) PendingRetries() int {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	return len(p.retries)
}

// Stop stops dequeueing, fails pending retries and waits up to timeout for
// workers to finish their current task. Workers still busy after timeout
// have their analysis context cancelled and ErrStopTimeout is returned.
// Tasks left in the queue are failed with ErrPoolStopped.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancelLoop()

	p.retryMu.Lock()
	abandoned := make([]*AnalysisTask, 0, len(p.retries))
	for id, r := range p.retries {
		r.timer.Stop()
		abandoned = append(abandoned, r.task)
		delete(p.retries, id)
	}
	p.retryMu.Unlock()
	for _, task := range abandoned {
		task.LastError = fmt.Sprintf("%v: %s", ErrPoolStopped, task.LastError)
		p.finishFailed(task, 0)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := p.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		p.cancelWork()
		p.failQueued()
		diagf("worker pool stopped")
		return nil
	case <-timer.C():
	}

	busy := 0
	for _, w := range p.workers {
		if w.running.Load() {
			busy++
		}
	}
	opsf("worker pool stop timed out after %s: %d workers still busy, cancelling their analysis", timeout, busy)
	p.cancelWork()
	p.failQueued()
	return ErrStopTimeout
}

// failQueued fails every task still waiting in the queue. Workers no
// longer dequeue once the loop context is cancelled.
func (p *Pool) failQueued() {
	queued := p.queue.Drain()
	if len(queued) == 0 {
		return
	}
	opsf("worker pool stopped with %d tasks still queued", len(queued))
	for _, task := range queued {
		task.LastError = fmt.Sprintf("%v: never analysed", ErrPoolStopped)
		p.finishFailed(task, 0)
	}
}

// Stats aggregates worker counters. Safe to call concurrently.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()

	s := PoolStats{
		Running:        running,
		Workers:        make([]WorkerStats, len(p.workers)),
		PendingRetries: p.PendingRetries(),
		Queue:          p.queue.Stats(),
		Failed:         int(p.failed.Load()),
	}
	alive, healthy := 0, 0
	for i, w := range p.workers {
		ws := w.snapshot(p.config.ErrorThreshold)
		s.Workers[i] = ws
		s.Processed += ws.Processed
		s.Confirmed += ws.Confirmed
		s.Discarded += ws.Discarded
		s.Retried += ws.Retried
		if ws.Running {
			alive++
		}
		if ws.Health == HealthHealthy {
			healthy++
		}
	}
	switch {
	case alive == 0:
		s.Health = HealthCritical
	case healthy < len(p.workers):
		s.Health = HealthWarning
	default:
		s.Health = HealthHealthy
	}
	return s
}
