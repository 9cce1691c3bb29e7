package tracking

import (
	"fmt"
	"time"
)

// Config holds the per-stream tracker thresholds. Speeds are in pixels per
// second, distances in pixels.
type Config struct {
	// StationaryThreshold is the speed below which a frame counts as
	// not moving.
	StationaryThreshold float64
	// MovementThreshold is the speed above which a stationary or parked
	// track resumes tracking. Must be >= StationaryThreshold.
	MovementThreshold float64
	// StationaryDwell is how long speed must stay below
	// StationaryThreshold before the track becomes stationary. Zero means
	// the first slow frame is enough.
	StationaryDwell time.Duration
	// ParkedAfter is the continuous dwell (measured from StationarySince)
	// after which a stationary track becomes parked.
	ParkedAfter time.Duration

	MaxTrackingDistance  float64       // Gate on predicted-to-detected distance
	MaxTrackAge          time.Duration // Tracks older than this are evicted
	MaxConsecutiveMisses int           // Misses beyond this mark the track lost

	ClassMismatchPenalty    float64 // Added when track and detection labels differ
	ConfidencePenaltyWeight float64 // Multiplies |track conf - detection conf|

	MaxHistoryLength           int // Position history capacity
	MaxConfidenceHistoryLength int // Confidence history capacity
}

// DefaultConfig returns production-default tracker parameters.
func DefaultConfig() Config {
	return Config{
		StationaryThreshold:        2.0,
		MovementThreshold:          5.0,
		StationaryDwell:            0,
		ParkedAfter:                30 * time.Second,
		MaxTrackingDistance:        100,
		MaxTrackAge:                time.Hour,
		MaxConsecutiveMisses:       30,
		ClassMismatchPenalty:       50,
		ConfidencePenaltyWeight:    20,
		MaxHistoryLength:           50,
		MaxConfidenceHistoryLength: 10,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.StationaryThreshold <= 0 {
		return fmt.Errorf("stationary threshold must be positive, got %v", c.StationaryThreshold)
	}
	if c.MovementThreshold < c.StationaryThreshold {
		return fmt.Errorf("movement threshold %v must be >= stationary threshold %v",
			c.MovementThreshold, c.StationaryThreshold)
	}
	if c.StationaryDwell < 0 || c.ParkedAfter < 0 {
		return fmt.Errorf("dwell durations must be non-negative")
	}
	if c.MaxTrackingDistance <= 0 {
		return fmt.Errorf("max tracking distance must be positive, got %v", c.MaxTrackingDistance)
	}
	if c.MaxTrackAge <= 0 {
		return fmt.Errorf("max track age must be positive, got %v", c.MaxTrackAge)
	}
	if c.MaxConsecutiveMisses < 0 {
		return fmt.Errorf("max consecutive misses must be non-negative, got %d", c.MaxConsecutiveMisses)
	}
	if c.MaxHistoryLength < 2 {
		return fmt.Errorf("history length must be >= 2 to estimate velocity, got %d", c.MaxHistoryLength)
	}
	if c.MaxConfidenceHistoryLength < 1 {
		return fmt.Errorf("confidence history length must be >= 1, got %d", c.MaxConfidenceHistoryLength)
	}
	return nil
}
