package coordinator

import (
	"fmt"
	"time"

	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/tracking"
	"github.com/odsyjr2/illegal-parking-detection/internal/vision"
)

// Config holds coordinator settings and the default per-stream
// thresholds.
type Config struct {
	Tracking tracking.Config
	Parking  parking.Config

	// VehicleClasses filters detector labels. Nil keeps every class.
	VehicleClasses []string
	MinConfidence  float64

	FrameRetryDelay time.Duration // wait after ErrNoFrame
	FaultCooldown   time.Duration // wait after a stream fault
	StatusInterval  time.Duration // zero disables publishing
	FPSWindow       int           // frames in the rolling FPS window
	StopTimeout     time.Duration // bound on the worker pool join
}

// DefaultConfig returns production-default coordinator settings.
func DefaultConfig() Config {
	return Config{
		Tracking:        tracking.DefaultConfig(),
		Parking:         parking.DefaultConfig(),
		VehicleClasses:  vision.DefaultVehicleClasses,
		MinConfidence:   0.5,
		FrameRetryDelay: 50 * time.Millisecond,
		FaultCooldown:   5 * time.Second,
		StatusInterval:  30 * time.Second,
		FPSWindow:       30,
		StopTimeout:     10 * time.Second,
	}
}

// Validate checks the configuration, including the nested stream
// defaults.
func (c Config) Validate() error {
	if err := c.Tracking.Validate(); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if err := c.Parking.Validate(); err != nil {
		return fmt.Errorf("parking: %w", err)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0,1], got %v", c.MinConfidence)
	}
	if c.FrameRetryDelay <= 0 {
		return fmt.Errorf("frame retry delay must be positive, got %s", c.FrameRetryDelay)
	}
	if c.FaultCooldown <= 0 {
		return fmt.Errorf("fault cooldown must be positive, got %s", c.FaultCooldown)
	}
	if c.StatusInterval < 0 || c.StopTimeout < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if c.FPSWindow < 1 {
		return fmt.Errorf("fps window must be positive, got %d", c.FPSWindow)
	}
	return nil
}
