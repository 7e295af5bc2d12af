package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/videocore/pipeline/internal/logging"
)

var log = logging.L("config")

// Config is the full set of tunables for a video analysis session, loaded
// from YAML/env via viper and validated before use.
type Config struct {
	// Source
	SourceMode    string `mapstructure:"source_mode"` // rtsp|hls|http|webcam|screen|file
	SourceURI     string `mapstructure:"source_uri"`
	RTSPTransport string `mapstructure:"rtsp_transport"` // tcp|udp

	// Mode selects the operating mode: track (detect+track only), diff
	// (narrate what changed), full (describe every analyzed frame), or
	// count (emphasize Count events over description).
	Mode string `mapstructure:"mode"` // track|diff|full|count

	// Motion gate
	MotionThreshold  float64 `mapstructure:"motion_threshold"` // changed-pixel fraction, [0,1]
	MinRegionPx      int     `mapstructure:"min_region_px"`
	BackgroundAlpha  float64 `mapstructure:"background_alpha"`
	PeriodicInterval int     `mapstructure:"periodic_interval"` // max frames between forced detections

	// Detector
	DetectorModelPath  string   `mapstructure:"detector_model_path"`
	DetectorConfigPath string   `mapstructure:"detector_config_path"`
	ConfidenceFloor    float64  `mapstructure:"confidence_floor"`
	NMSThreshold       float64  `mapstructure:"nms_threshold"`
	FocusClasses       []string `mapstructure:"focus_classes"`

	// Tracker
	TrackConfirmFrames int     `mapstructure:"track_confirm_frames"`
	TrackBuffer        int     `mapstructure:"track_buffer"`    // analyzed frames a Lost track survives
	TrackTimeoutMS     int     `mapstructure:"track_timeout_ms"` // wall-clock a Lost track survives
	TrackIOUThreshold  float64 `mapstructure:"track_iou_threshold"`
	MoveEpsilonPx      float64 `mapstructure:"move_epsilon_px"`
	MoveMinIntervalMS  int     `mapstructure:"move_min_interval_ms"`

	// Vision describer
	VisionModelURL   string `mapstructure:"vision_model_url"`
	VisionModelID    string `mapstructure:"vision_model_id"`
	VisionAPIKey     string `mapstructure:"vision_api_key"`
	VLMTimeoutMS     int    `mapstructure:"vlm_timeout_ms"`
	ParallelVLM      bool   `mapstructure:"parallel_vlm"`
	VLMFailThreshold int    `mapstructure:"vlm_fail_threshold"` // consecutive failures before degrading

	// Guarder
	GuarderEnabled      bool     `mapstructure:"guarder_enabled"`
	GuarderModelURL     string   `mapstructure:"guarder_model_url"`
	GuarderTimeoutMS    int      `mapstructure:"guarder_timeout_ms"`
	GuarderAllowPhrases []string `mapstructure:"guarder_allow_phrases"`

	// Scheduler / buffering
	FPSMin              float64 `mapstructure:"fps_min"`
	FPSMax              float64 `mapstructure:"fps_max"`
	BufferCapacity      int     `mapstructure:"buffer_capacity"`
	DropPolicy          string  `mapstructure:"drop_policy"` // drop_oldest|drop_newest|block
	StallTimeoutMS      int     `mapstructure:"stall_timeout_ms"`
	PullTimeoutMS       int     `mapstructure:"pull_timeout_ms"`
	ShutdownGraceMS     int     `mapstructure:"shutdown_grace_ms"`
	HeartbeatIntervalMS int     `mapstructure:"heartbeat_interval_ms"`

	// Event emission
	SkipLLMThreshold float64 `mapstructure:"skip_llm_threshold"`
	EventLogPath     string  `mapstructure:"event_log_path"`
	WebhookURL       string  `mapstructure:"webhook_url"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Default returns a Config populated with the same defaults spec.md names
// for every tunable.
func Default() *Config {
	return &Config{
		SourceMode:    "file",
		RTSPTransport: "tcp",

		Mode: "track",

		MotionThreshold:  0.02,
		MinRegionPx:      500,
		BackgroundAlpha:  0.05,
		PeriodicInterval: 30,

		ConfidenceFloor: 0.5,
		NMSThreshold:    0.45,
		FocusClasses:    []string{"person"},

		TrackConfirmFrames: 3,
		TrackBuffer:        90,
		TrackTimeoutMS:     10000,
		TrackIOUThreshold:  0.3,
		MoveEpsilonPx:      15,
		MoveMinIntervalMS:  1000,

		VLMTimeoutMS:     5000,
		ParallelVLM:      false,
		VLMFailThreshold: 3,

		GuarderEnabled:   true,
		GuarderTimeoutMS: 1000,

		FPSMin:              0.5,
		FPSMax:              5.0,
		BufferCapacity:      30,
		DropPolicy:          "drop_oldest",
		StallTimeoutMS:      5000,
		PullTimeoutMS:       2000,
		ShutdownGraceMS:     5000,
		HeartbeatIntervalMS: 30000,

		SkipLLMThreshold: 0.7,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads configuration from cfgFile (or the default search path) via
// viper, overlays environment variables prefixed VIDEOCORE_, and validates
// the result. Fatal validation errors abort loading; warnings are logged
// and the offending field is coerced to a safe value.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("videocore")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("VIDEOCORE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// GetDataDir returns the platform-specific data directory for event logs
// and other session state.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "videocore", "data")
	case "darwin":
		return "/Library/Application Support/videocore/data"
	default:
		return "/var/lib/videocore"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "videocore")
	case "darwin":
		return "/Library/Application Support/videocore"
	default:
		return "/etc/videocore"
	}
}
