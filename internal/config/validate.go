package config

import (
	"fmt"
	"strings"
)

var validDropPolicies = map[string]bool{
	"drop_oldest": true,
	"drop_newest": true,
	"block":       true,
}

var validSourceModes = map[string]bool{
	"rtsp": true, "hls": true, "http": true, "webcam": true, "screen": true, "file": true,
}

var validModes = map[string]bool{
	"track": true, "diff": true, "full": true, "count": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// ValidationResult separates validation errors into two tiers: Fatals block
// startup because the pipeline cannot run safely with the offending value;
// Warnings are logged and the field is coerced to a safe default in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config for invalid values. Values that would
// make the pipeline behave incoherently (e.g. fps_min > fps_max, or
// drop_policy=block against a live, non-seekable source) are fatal. Values
// that are merely out of a sane range are clamped and reported as warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if !validSourceModes[strings.ToLower(c.SourceMode)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("source_mode %q is not one of rtsp|hls|http|webcam|screen|file", c.SourceMode))
	}

	if c.SourceURI == "" && c.SourceMode != "webcam" && c.SourceMode != "screen" {
		r.Fatals = append(r.Fatals, fmt.Errorf("source_uri is required for source_mode %q", c.SourceMode))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("mode %q is not one of track|diff|full|count", c.Mode))
	}

	if !validDropPolicies[strings.ToLower(c.DropPolicy)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("drop_policy %q is not one of drop_oldest|drop_newest|block", c.DropPolicy))
	} else if strings.ToLower(c.DropPolicy) == "block" && c.SourceMode != "file" {
		r.Fatals = append(r.Fatals, fmt.Errorf("drop_policy=block is only safe against a seekable file source, got source_mode %q", c.SourceMode))
	}

	if c.FPSMin <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps_min %g is below minimum, clamping to 0.5", c.FPSMin))
		c.FPSMin = 0.5
	}
	if c.FPSMax < c.FPSMin {
		r.Fatals = append(r.Fatals, fmt.Errorf("fps_max %g is less than fps_min %g", c.FPSMax, c.FPSMin))
	}

	if c.BufferCapacity < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("buffer_capacity %d is below minimum 1, clamping", c.BufferCapacity))
		c.BufferCapacity = 1
	} else if c.BufferCapacity > 1000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("buffer_capacity %d exceeds maximum 1000, clamping", c.BufferCapacity))
		c.BufferCapacity = 1000
	}

	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("confidence_floor %g out of [0,1], clamping to 0.5", c.ConfidenceFloor))
		c.ConfidenceFloor = 0.5
	}

	if c.MotionThreshold < 0 || c.MotionThreshold > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("motion_threshold %g out of [0,1], clamping to 0.02", c.MotionThreshold))
		c.MotionThreshold = 0.02
	}
	if c.MinRegionPx < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("min_region_px %d is negative, clamping to 0", c.MinRegionPx))
		c.MinRegionPx = 0
	}
	if c.PeriodicInterval < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("periodic_interval %d is negative, clamping to 0", c.PeriodicInterval))
		c.PeriodicInterval = 0
	}

	if c.TrackConfirmFrames < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("track_confirm_frames %d is below minimum 1, clamping", c.TrackConfirmFrames))
		c.TrackConfirmFrames = 1
	}
	if c.TrackBuffer < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("track_buffer %d is negative, clamping to 0", c.TrackBuffer))
		c.TrackBuffer = 0
	}
	if c.TrackTimeoutMS < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("track_timeout_ms %d is negative, clamping to 0", c.TrackTimeoutMS))
		c.TrackTimeoutMS = 0
	}
	if c.MoveEpsilonPx < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("move_epsilon_px %g is negative, clamping to 0", c.MoveEpsilonPx))
		c.MoveEpsilonPx = 0
	}
	if c.MoveMinIntervalMS < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("move_min_interval_ms %d is negative, clamping to 0", c.MoveMinIntervalMS))
		c.MoveMinIntervalMS = 0
	}

	if c.SkipLLMThreshold < 0 || c.SkipLLMThreshold > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("skip_llm_threshold %g out of [0,1], clamping to 0.7", c.SkipLLMThreshold))
		c.SkipLLMThreshold = 0.7
	}

	if c.VLMFailThreshold < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("vlm_fail_threshold %d is below minimum 1, clamping", c.VLMFailThreshold))
		c.VLMFailThreshold = 1
	}
	if c.HeartbeatIntervalMS < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_interval_ms %d is negative, clamping to 0", c.HeartbeatIntervalMS))
		c.HeartbeatIntervalMS = 0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.GuarderEnabled && c.GuarderModelURL == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("guarder_enabled is true but guarder_model_url is empty, disabling guarder"))
		c.GuarderEnabled = false
	}

	return r
}
