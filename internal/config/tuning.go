package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the locating pipeline.
// All fields are pointers so that partial JSON files are safe: fields
// omitted from the file fall back to the defaults in the Get* accessors.
type TuningConfig struct {
	// Batch processing params
	BatchSize          *int    `json:"batch_size,omitempty"`
	BatchInterval      *string `json:"batch_interval,omitempty"`       // duration string like "3s"
	EventQueueCapacity *int    `json:"event_queue_capacity,omitempty"` // bounded; oldest events shed on overflow

	// Broadcast params
	BroadcastInterval *string `json:"broadcast_interval,omitempty"` // duration string like "100ms"
	BroadcastWindow   *string `json:"broadcast_window,omitempty"`   // only tags seen within this window are broadcast

	// Staleness / cleanup params
	CleanupInterval *string `json:"cleanup_interval,omitempty"`
	TagIdleAfter    *string `json:"tag_idle_after,omitempty"`
	TagLostAfter    *string `json:"tag_lost_after,omitempty"`

	// Measurement buffering
	MeasurementWindow *string `json:"measurement_window,omitempty"`

	// Path-loss model (RSSI → distance)
	ReferenceRSSI    *float64 `json:"reference_rssi,omitempty"`     // expected RSSI at 1 m (dBm)
	PathLossExponent *float64 `json:"path_loss_exponent,omitempty"` // indoor-tuned, typically 2.0–3.5

	// Kalman smoothing
	ProcessNoiseAccel *float64 `json:"process_noise_accel,omitempty"` // acceleration noise σ (m/s²)

	// Fingerprinting
	FingerprintMaxDistance *float64 `json:"fingerprint_max_distance,omitempty"` // dB; beyond this, fall back to centroid

	// Finding session params
	FindingTimeout            *string  `json:"finding_timeout,omitempty"`
	FoundProximityMeters      *float64 `json:"found_proximity_meters,omitempty"`
	ApproachingDistanceMeters *float64 `json:"approaching_distance_meters,omitempty"`
	SeekerStaleAfter          *string  `json:"seeker_stale_after,omitempty"`

	// Geiger mode params
	MinBeepRateHz    *float64 `json:"min_beep_rate_hz,omitempty"`
	MaxBeepRateHz    *float64 `json:"max_beep_rate_hz,omitempty"`
	GeigerRangeMeter *float64 `json:"geiger_range_meters,omitempty"` // distance at which strength reaches zero
	SignalFloorDBm   *float64 `json:"signal_floor_dbm,omitempty"`
	SignalCeilingDBm *float64 `json:"signal_ceiling_dbm,omitempty"`

	// Navigation params
	TurnThresholdDeg    *float64 `json:"turn_threshold_deg,omitempty"`
	NavigationWaypoints *int     `json:"navigation_waypoints,omitempty"`

	// Movement classification
	MovingSpeedMps *float64 `json:"moving_speed_mps,omitempty"`
	FastSpeedMps   *float64 `json:"fast_speed_mps,omitempty"`

	// Alerting
	AfterHoursStart *int `json:"after_hours_start,omitempty"` // local hour, inclusive
	AfterHoursEnd   *int `json:"after_hours_end,omitempty"`   // local hour, exclusive
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/rtls/monitor/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.EventQueueCapacity != nil && *c.EventQueueCapacity <= 0 {
		return fmt.Errorf("event_queue_capacity must be positive, got %d", *c.EventQueueCapacity)
	}
	if c.PathLossExponent != nil && (*c.PathLossExponent < 1 || *c.PathLossExponent > 6) {
		return fmt.Errorf("path_loss_exponent must be between 1 and 6, got %f", *c.PathLossExponent)
	}
	if c.MinBeepRateHz != nil && c.MaxBeepRateHz != nil && *c.MinBeepRateHz > *c.MaxBeepRateHz {
		return fmt.Errorf("min_beep_rate_hz (%f) must not exceed max_beep_rate_hz (%f)",
			*c.MinBeepRateHz, *c.MaxBeepRateHz)
	}
	if c.FoundProximityMeters != nil && *c.FoundProximityMeters <= 0 {
		return fmt.Errorf("found_proximity_meters must be positive, got %f", *c.FoundProximityMeters)
	}

	// Validate every duration string can be parsed.
	durations := map[string]*string{
		"batch_interval":     c.BatchInterval,
		"broadcast_interval": c.BroadcastInterval,
		"broadcast_window":   c.BroadcastWindow,
		"cleanup_interval":   c.CleanupInterval,
		"tag_idle_after":     c.TagIdleAfter,
		"tag_lost_after":     c.TagLostAfter,
		"measurement_window": c.MeasurementWindow,
		"finding_timeout":    c.FindingTimeout,
		"seeker_stale_after": c.SeekerStaleAfter,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

func durationOrDefault(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 50
	}
	return *c.BatchSize
}

// GetBatchInterval parses and returns the BatchInterval as a time.Duration.
func (c *TuningConfig) GetBatchInterval() time.Duration {
	return durationOrDefault(c.BatchInterval, 3*time.Second)
}

// GetEventQueueCapacity returns the event_queue_capacity value or the default.
func (c *TuningConfig) GetEventQueueCapacity() int {
	if c.EventQueueCapacity == nil {
		return 10000
	}
	return *c.EventQueueCapacity
}

// GetBroadcastInterval parses and returns the BroadcastInterval as a time.Duration.
func (c *TuningConfig) GetBroadcastInterval() time.Duration {
	return durationOrDefault(c.BroadcastInterval, 100*time.Millisecond)
}

// GetBroadcastWindow parses and returns the BroadcastWindow as a time.Duration.
func (c *TuningConfig) GetBroadcastWindow() time.Duration {
	return durationOrDefault(c.BroadcastWindow, 5*time.Second)
}

// GetCleanupInterval parses and returns the CleanupInterval as a time.Duration.
func (c *TuningConfig) GetCleanupInterval() time.Duration {
	return durationOrDefault(c.CleanupInterval, 30*time.Second)
}

// GetTagIdleAfter parses and returns the TagIdleAfter as a time.Duration.
func (c *TuningConfig) GetTagIdleAfter() time.Duration {
	return durationOrDefault(c.TagIdleAfter, 30*time.Second)
}

// GetTagLostAfter parses and returns the TagLostAfter as a time.Duration.
func (c *TuningConfig) GetTagLostAfter() time.Duration {
	return durationOrDefault(c.TagLostAfter, 60*time.Second)
}

// GetMeasurementWindow parses and returns the MeasurementWindow as a time.Duration.
func (c *TuningConfig) GetMeasurementWindow() time.Duration {
	return durationOrDefault(c.MeasurementWindow, 2*time.Second)
}

// GetReferenceRSSI returns the reference_rssi value or the default.
func (c *TuningConfig) GetReferenceRSSI() float64 {
	if c.ReferenceRSSI == nil {
		return -40.0
	}
	return *c.ReferenceRSSI
}

// GetPathLossExponent returns the path_loss_exponent value or the default.
func (c *TuningConfig) GetPathLossExponent() float64 {
	if c.PathLossExponent == nil {
		return 2.7
	}
	return *c.PathLossExponent
}

// GetProcessNoiseAccel returns the process_noise_accel value or the default.
func (c *TuningConfig) GetProcessNoiseAccel() float64 {
	if c.ProcessNoiseAccel == nil {
		return 0.5
	}
	return *c.ProcessNoiseAccel
}

// GetFingerprintMaxDistance returns the fingerprint_max_distance value or the default.
func (c *TuningConfig) GetFingerprintMaxDistance() float64 {
	if c.FingerprintMaxDistance == nil {
		return 12.0
	}
	return *c.FingerprintMaxDistance
}

// GetFindingTimeout parses and returns the FindingTimeout as a time.Duration.
func (c *TuningConfig) GetFindingTimeout() time.Duration {
	return durationOrDefault(c.FindingTimeout, 5*time.Minute)
}

// GetFoundProximityMeters returns the found_proximity_meters value or the default.
func (c *TuningConfig) GetFoundProximityMeters() float64 {
	if c.FoundProximityMeters == nil {
		return 0.5
	}
	return *c.FoundProximityMeters
}

// GetApproachingDistanceMeters returns the approaching_distance_meters value or the default.
func (c *TuningConfig) GetApproachingDistanceMeters() float64 {
	if c.ApproachingDistanceMeters == nil {
		return 5.0
	}
	return *c.ApproachingDistanceMeters
}

// GetSeekerStaleAfter parses and returns the SeekerStaleAfter as a time.Duration.
func (c *TuningConfig) GetSeekerStaleAfter() time.Duration {
	return durationOrDefault(c.SeekerStaleAfter, 5*time.Second)
}

// GetMinBeepRateHz returns the min_beep_rate_hz value or the default.
func (c *TuningConfig) GetMinBeepRateHz() float64 {
	if c.MinBeepRateHz == nil {
		return 1.0
	}
	return *c.MinBeepRateHz
}

// GetMaxBeepRateHz returns the max_beep_rate_hz value or the default.
func (c *TuningConfig) GetMaxBeepRateHz() float64 {
	if c.MaxBeepRateHz == nil {
		return 10.0
	}
	return *c.MaxBeepRateHz
}

// GetGeigerRangeMeters returns the geiger_range_meters value or the default.
func (c *TuningConfig) GetGeigerRangeMeters() float64 {
	if c.GeigerRangeMeter == nil {
		return 20.0
	}
	return *c.GeigerRangeMeter
}

// GetSignalFloorDBm returns the signal_floor_dbm value or the default.
func (c *TuningConfig) GetSignalFloorDBm() float64 {
	if c.SignalFloorDBm == nil {
		return -80.0
	}
	return *c.SignalFloorDBm
}

// GetSignalCeilingDBm returns the signal_ceiling_dbm value or the default.
func (c *TuningConfig) GetSignalCeilingDBm() float64 {
	if c.SignalCeilingDBm == nil {
		return -30.0
	}
	return *c.SignalCeilingDBm
}

// GetTurnThresholdDeg returns the turn_threshold_deg value or the default.
func (c *TuningConfig) GetTurnThresholdDeg() float64 {
	if c.TurnThresholdDeg == nil {
		return 15.0
	}
	return *c.TurnThresholdDeg
}

// GetNavigationWaypoints returns the navigation_waypoints value or the default.
func (c *TuningConfig) GetNavigationWaypoints() int {
	if c.NavigationWaypoints == nil {
		return 5
	}
	return *c.NavigationWaypoints
}

// GetMovingSpeedMps returns the moving_speed_mps value or the default.
func (c *TuningConfig) GetMovingSpeedMps() float64 {
	if c.MovingSpeedMps == nil {
		return 0.2
	}
	return *c.MovingSpeedMps
}

// GetFastSpeedMps returns the fast_speed_mps value or the default.
func (c *TuningConfig) GetFastSpeedMps() float64 {
	if c.FastSpeedMps == nil {
		return 1.5
	}
	return *c.FastSpeedMps
}

// GetAfterHoursStart returns the after_hours_start value or the default.
func (c *TuningConfig) GetAfterHoursStart() int {
	if c.AfterHoursStart == nil {
		return 22
	}
	return *c.AfterHoursStart
}

// GetAfterHoursEnd returns the after_hours_end value or the default.
func (c *TuningConfig) GetAfterHoursEnd() int {
	if c.AfterHoursEnd == nil {
		return 6
	}
	return *c.AfterHoursEnd
}
