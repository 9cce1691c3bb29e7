// Package config loads the parkwatch JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // zone names resolve on hosts without a zoneinfo database

	"github.com/golang/geo/r2"

	"github.com/odsyjr2/illegal-parking-detection/internal/coordinator"
	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
	"github.com/odsyjr2/illegal-parking-detection/internal/parking"
	"github.com/odsyjr2/illegal-parking-detection/internal/tracking"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/parkwatch.defaults.json"

// Config is the root configuration document. Every scalar is a pointer so
// omitted fields fall back to the defaults returned by the Get* methods.
type Config struct {
	// Tracker params
	StationaryThreshold        *float64 `json:"stationary_threshold,omitempty"` // px/s
	MovementThreshold          *float64 `json:"movement_threshold,omitempty"`   // px/s
	StationaryDwell            *string  `json:"stationary_dwell,omitempty"`     // duration string like "5s"
	ParkedAfter                *string  `json:"parked_after,omitempty"`
	MaxTrackingDistance        *float64 `json:"max_tracking_distance,omitempty"` // px
	MaxTrackAge                *string  `json:"max_track_age,omitempty"`
	MaxConsecutiveMisses       *int     `json:"max_consecutive_misses,omitempty"`
	ClassMismatchPenalty       *float64 `json:"class_mismatch_penalty,omitempty"`
	ConfidencePenaltyWeight    *float64 `json:"confidence_penalty_weight,omitempty"`
	MaxHistoryLength           *int     `json:"max_history_length,omitempty"`
	MaxConfidenceHistoryLength *int     `json:"max_confidence_history_length,omitempty"`

	// Detection filter
	VehicleClasses []string `json:"vehicle_classes,omitempty"`
	MinConfidence  *float64 `json:"min_confidence,omitempty"`

	// Parking params
	ViolationThreshold *string      `json:"violation_threshold,omitempty"`
	ZoneResolver       *string      `json:"zone_resolver,omitempty"` // "first_match" or "smallest_radius"
	TimeZone           *string      `json:"time_zone,omitempty"`     // IANA name for restricted hours
	EventHistorySize   *int         `json:"event_history_size,omitempty"`
	Zones              []ZoneConfig `json:"zones,omitempty"`

	// Queue and worker pool params
	WorkerCount     *int    `json:"worker_count,omitempty"`
	QueueCapacity   *int    `json:"queue_capacity,omitempty"`
	EnqueueTimeout  *string `json:"enqueue_timeout,omitempty"`
	DequeueTimeout  *string `json:"dequeue_timeout,omitempty"`
	MaxRetries      *int    `json:"max_retries,omitempty"`
	RetryDelay      *string `json:"retry_delay,omitempty"`
	AnalysisTimeout *string `json:"analysis_timeout,omitempty"`
	StopTimeout     *string `json:"stop_timeout,omitempty"`
	ErrorThreshold  *int    `json:"error_threshold,omitempty"`

	// Coordinator params
	FrameRetryDelay *string `json:"frame_retry_delay,omitempty"`
	FaultCooldown   *string `json:"fault_cooldown,omitempty"`
	StatusInterval  *string `json:"status_interval,omitempty"`
	FPSWindow       *int    `json:"fps_window,omitempty"`

	Streams []StreamConfig `json:"streams,omitempty"`
}

// ZoneConfig is the JSON form of a parking.Zone.
type ZoneConfig struct {
	ID              string               `json:"id"`
	Name            string               `json:"name,omitempty"`
	Type            string               `json:"type"`
	Center          [2]float64           `json:"center"` // [x, y] px
	Radius          float64              `json:"radius"`
	RestrictedHours []parking.HourWindow `json:"restricted_hours,omitempty"`
	MaxDuration     string               `json:"max_duration,omitempty"`
	GracePeriod     string               `json:"grace_period,omitempty"`
}

// StreamConfig names a stream and optionally overrides the global zones
// and violation threshold for it.
type StreamConfig struct {
	ID                 string       `json:"id"`
	ViolationThreshold *string      `json:"violation_threshold,omitempty"`
	StationaryDwell    *string      `json:"stationary_dwell,omitempty"`
	Zones              []ZoneConfig `json:"zones,omitempty"`
}

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
// Fields omitted from the file keep their defaults, so partial configs
// are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set value is usable, including by building
// the component configs.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"stationary_dwell":    c.StationaryDwell,
		"parked_after":        c.ParkedAfter,
		"max_track_age":       c.MaxTrackAge,
		"violation_threshold": c.ViolationThreshold,
		"enqueue_timeout":     c.EnqueueTimeout,
		"dequeue_timeout":     c.DequeueTimeout,
		"retry_delay":         c.RetryDelay,
		"analysis_timeout":    c.AnalysisTimeout,
		"stop_timeout":        c.StopTimeout,
		"frame_retry_delay":   c.FrameRetryDelay,
		"fault_cooldown":      c.FaultCooldown,
		"status_interval":     c.StatusInterval,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}

	if err := c.TrackingConfig().Validate(); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if _, err := c.CoordinatorConfig(); err != nil {
		return err
	}
	if err := c.DispatchConfig().Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.ID == "" {
			return fmt.Errorf("stream id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stream id %q", s.ID)
		}
		seen[s.ID] = true
		if _, err := c.StreamOptions(s); err != nil {
			return fmt.Errorf("stream %s: %w", s.ID, err)
		}
	}
	return nil
}

// getDuration parses v, returning def when unset or unparseable.
func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetStationaryThreshold returns the stationary_threshold value or the default.
func (c *Config) GetStationaryThreshold() float64 { return getFloat(c.StationaryThreshold, 2.0) }

// GetMovementThreshold returns the movement_threshold value or the default.
func (c *Config) GetMovementThreshold() float64 { return getFloat(c.MovementThreshold, 5.0) }

// GetStationaryDwell returns the stationary_dwell value or the default.
func (c *Config) GetStationaryDwell() time.Duration { return getDuration(c.StationaryDwell, 0) }

// GetParkedAfter returns the parked_after value or the default.
func (c *Config) GetParkedAfter() time.Duration {
	return getDuration(c.ParkedAfter, 30*time.Second)
}

// GetMaxTrackingDistance returns the max_tracking_distance value or the default.
func (c *Config) GetMaxTrackingDistance() float64 { return getFloat(c.MaxTrackingDistance, 100) }

// GetMaxTrackAge returns the max_track_age value or the default.
func (c *Config) GetMaxTrackAge() time.Duration { return getDuration(c.MaxTrackAge, time.Hour) }

// GetMaxConsecutiveMisses returns the max_consecutive_misses value or the default.
func (c *Config) GetMaxConsecutiveMisses() int { return getInt(c.MaxConsecutiveMisses, 30) }

// GetViolationThreshold returns the violation_threshold value or the default.
func (c *Config) GetViolationThreshold() time.Duration {
	return getDuration(c.ViolationThreshold, 300*time.Second)
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *Config) GetMinConfidence() float64 { return getFloat(c.MinConfidence, 0.5) }

// GetZoneResolver returns the zone_resolver value or the default.
func (c *Config) GetZoneResolver() string {
	if c.ZoneResolver == nil {
		return "first_match"
	}
	return *c.ZoneResolver
}

// GetTimeZone returns the time_zone value or the default.
func (c *Config) GetTimeZone() string {
	if c.TimeZone == nil || *c.TimeZone == "" {
		return "UTC"
	}
	return *c.TimeZone
}

// GetWorkerCount returns the worker_count value or the default.
func (c *Config) GetWorkerCount() int { return getInt(c.WorkerCount, 4) }

// GetQueueCapacity returns the queue_capacity value or the default.
func (c *Config) GetQueueCapacity() int { return getInt(c.QueueCapacity, 100) }

// GetEnqueueTimeout returns the enqueue_timeout value or the default.
func (c *Config) GetEnqueueTimeout() time.Duration {
	return getDuration(c.EnqueueTimeout, 2*time.Second)
}

// GetMaxRetries returns the max_retries value or the default.
func (c *Config) GetMaxRetries() int { return getInt(c.MaxRetries, 3) }

// GetRetryDelay returns the retry_delay value or the default.
func (c *Config) GetRetryDelay() time.Duration { return getDuration(c.RetryDelay, 5*time.Second) }

// GetStopTimeout returns the stop_timeout value or the default.
func (c *Config) GetStopTimeout() time.Duration { return getDuration(c.StopTimeout, 10*time.Second) }

// GetStatusInterval returns the status_interval value or the default.
func (c *Config) GetStatusInterval() time.Duration {
	return getDuration(c.StatusInterval, 30*time.Second)
}

// TrackingConfig builds the tracker thresholds.
func (c *Config) TrackingConfig() tracking.Config {
	d := tracking.DefaultConfig()
	return tracking.Config{
		StationaryThreshold:        c.GetStationaryThreshold(),
		MovementThreshold:          c.GetMovementThreshold(),
		StationaryDwell:            c.GetStationaryDwell(),
		ParkedAfter:                c.GetParkedAfter(),
		MaxTrackingDistance:        c.GetMaxTrackingDistance(),
		MaxTrackAge:                c.GetMaxTrackAge(),
		MaxConsecutiveMisses:       c.GetMaxConsecutiveMisses(),
		ClassMismatchPenalty:       getFloat(c.ClassMismatchPenalty, d.ClassMismatchPenalty),
		ConfidencePenaltyWeight:    getFloat(c.ConfidencePenaltyWeight, d.ConfidencePenaltyWeight),
		MaxHistoryLength:           getInt(c.MaxHistoryLength, d.MaxHistoryLength),
		MaxConfidenceHistoryLength: getInt(c.MaxConfidenceHistoryLength, d.MaxConfidenceHistoryLength),
	}
}

// ParkingConfig builds the violation rules with the global zones.
func (c *Config) ParkingConfig() (parking.Config, error) {
	resolver, err := parking.ResolverByName(c.GetZoneResolver())
	if err != nil {
		return parking.Config{}, err
	}
	loc, err := time.LoadLocation(c.GetTimeZone())
	if err != nil {
		return parking.Config{}, fmt.Errorf("time_zone: %w", err)
	}
	zones, err := buildZones(c.Zones)
	if err != nil {
		return parking.Config{}, err
	}
	cfg := parking.Config{
		ViolationThreshold: c.GetViolationThreshold(),
		Zones:              zones,
		Resolver:           resolver,
		Location:           loc,
		HistorySize:        getInt(c.EventHistorySize, 1000),
	}
	return cfg, cfg.Validate()
}

func buildZones(in []ZoneConfig) ([]parking.Zone, error) {
	zones := make([]parking.Zone, 0, len(in))
	for _, zc := range in {
		z := parking.Zone{
			ID:              zc.ID,
			Name:            zc.Name,
			Type:            parking.ZoneType(zc.Type),
			Center:          r2.Point{X: zc.Center[0], Y: zc.Center[1]},
			Radius:          zc.Radius,
			RestrictedHours: zc.RestrictedHours,
		}
		var err error
		if z.MaxDuration, err = parseOptionalDuration(zc.MaxDuration); err != nil {
			return nil, fmt.Errorf("zone %s: max_duration: %w", zc.ID, err)
		}
		if z.GracePeriod, err = parseOptionalDuration(zc.GracePeriod); err != nil {
			return nil, fmt.Errorf("zone %s: grace_period: %w", zc.ID, err)
		}
		if err := z.Validate(); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// DispatchConfig builds the queue and worker pool settings.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Workers:         c.GetWorkerCount(),
		QueueCapacity:   c.GetQueueCapacity(),
		EnqueueTimeout:  c.GetEnqueueTimeout(),
		DequeueTimeout:  getDuration(c.DequeueTimeout, time.Second),
		MaxRetries:      c.GetMaxRetries(),
		RetryDelay:      c.GetRetryDelay(),
		AnalysisTimeout: getDuration(c.AnalysisTimeout, 0),
		StopTimeout:     c.GetStopTimeout(),
		ErrorThreshold:  getInt(c.ErrorThreshold, 10),
	}
}

// CoordinatorConfig builds the coordinator settings, including the default
// stream thresholds.
func (c *Config) CoordinatorConfig() (coordinator.Config, error) {
	pcfg, err := c.ParkingConfig()
	if err != nil {
		return coordinator.Config{}, err
	}
	cfg := coordinator.DefaultConfig()
	cfg.Tracking = c.TrackingConfig()
	cfg.Parking = pcfg
	if c.VehicleClasses != nil {
		cfg.VehicleClasses = c.VehicleClasses
	}
	cfg.MinConfidence = c.GetMinConfidence()
	cfg.FrameRetryDelay = getDuration(c.FrameRetryDelay, 50*time.Millisecond)
	cfg.FaultCooldown = getDuration(c.FaultCooldown, 5*time.Second)
	cfg.StatusInterval = c.GetStatusInterval()
	cfg.FPSWindow = getInt(c.FPSWindow, 30)
	cfg.StopTimeout = c.GetStopTimeout()
	return cfg, cfg.Validate()
}

// StreamOptions returns the per-stream overrides for s.
func (c *Config) StreamOptions(s StreamConfig) ([]coordinator.StreamOption, error) {
	var opts []coordinator.StreamOption
	if s.StationaryDwell != nil {
		tcfg := c.TrackingConfig()
		tcfg.StationaryDwell = getDuration(s.StationaryDwell, tcfg.StationaryDwell)
		if err := tcfg.Validate(); err != nil {
			return nil, err
		}
		opts = append(opts, coordinator.WithTrackingConfig(tcfg))
	}
	if s.ViolationThreshold != nil || s.Zones != nil {
		pcfg, err := c.ParkingConfig()
		if err != nil {
			return nil, err
		}
		if s.ViolationThreshold != nil {
			d, err := time.ParseDuration(*s.ViolationThreshold)
			if err != nil {
				return nil, fmt.Errorf("violation_threshold: %w", err)
			}
			pcfg.ViolationThreshold = d
		}
		if s.Zones != nil {
			if pcfg.Zones, err = buildZones(s.Zones); err != nil {
				return nil, err
			}
		}
		if err := pcfg.Validate(); err != nil {
			return nil, err
		}
		opts = append(opts, coordinator.WithParkingConfig(pcfg))
	}
	return opts, nil
}
