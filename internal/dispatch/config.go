package dispatch

import (
	"fmt"
	"time"
)

// Config holds queue and worker pool settings.
type Config struct {
	Workers        int
	QueueCapacity  int
	EnqueueTimeout time.Duration // bounded wait before a task is dropped
	DequeueTimeout time.Duration // idle poll interval for workers

	// MaxRetries is the total number of analysis attempts a task gets.
	MaxRetries int
	RetryDelay time.Duration
	// AnalysisTimeout bounds one Analyze call. Zero means no limit.
	AnalysisTimeout time.Duration
	StopTimeout     time.Duration

	// ErrorThreshold is the error count above which a worker reports
	// HealthWarning.
	ErrorThreshold int
}

// DefaultConfig returns production-default dispatch settings.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueCapacity:  100,
		EnqueueTimeout: 2 * time.Second,
		DequeueTimeout: time.Second,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		StopTimeout:    10 * time.Second,
		ErrorThreshold: 10,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.EnqueueTimeout < 0 || c.RetryDelay < 0 || c.AnalysisTimeout < 0 || c.StopTimeout < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if c.DequeueTimeout <= 0 {
		return fmt.Errorf("dequeue timeout must be positive, got %s", c.DequeueTimeout)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}
