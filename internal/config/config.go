package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete posture coach configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	RoomID           string        `yaml:"room_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	HealthPort       int           `yaml:"health_port"`
	ExercisePath     string        `yaml:"exercise_path"`
	Capture          CaptureConfig `yaml:"capture"`
	Pose             PoseConfig    `yaml:"pose"`
	Engine           EngineConfig  `yaml:"engine"`
	Render           RenderConfig  `yaml:"render"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Voice            VoiceConfig   `yaml:"voice"`
}

// CaptureConfig contains media and loop settings
type CaptureConfig struct {
	Backend      string `yaml:"backend"` // gstreamer, synthetic
	CameraDevice string `yaml:"camera_device"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`      // media frame rate
	LoopFPS      int    `yaml:"loop_fps"` // analysis rate
	MirrorCamera *bool  `yaml:"mirror_camera"`
	ClipFrames   int    `yaml:"clip_frames"` // synthetic backend only
	AutoStart    string `yaml:"autostart"`   // "", camera, clip
	AutoClip     string `yaml:"autostart_clip"`
}

// PoseConfig contains pose worker settings
type PoseConfig struct {
	WorkerScript     string   `yaml:"worker_script"`
	ModelPath        string   `yaml:"model_path"`
	InputWidth       int      `yaml:"input_width"`
	InputHeight      int      `yaml:"input_height"`
	JPEGQuality      int      `yaml:"jpeg_quality"`
	InferenceFailure string   `yaml:"inference_failure"` // skip, retry, abort
	StartupTimeoutS  int      `yaml:"startup_timeout_s"`
	ExtraArgs        []string `yaml:"extra_args"`
}

// EngineConfig contains rule evaluation settings
type EngineConfig struct {
	MinConfidence    float64 `yaml:"min_confidence"`
	SideMargin       float64 `yaml:"side_margin"`
	SmoothingAlpha   float64 `yaml:"smoothing_alpha"`
	SmoothingPairing string  `yaml:"smoothing_pairing"` // index, name
	CorrectMessage   string  `yaml:"correct_message"`
}

// RenderConfig contains overlay settings
type RenderConfig struct {
	SurfaceWidth  int     `yaml:"surface_width"`
	SurfaceHeight int     `yaml:"surface_height"`
	GuideRadius   float64 `yaml:"guide_radius"`
	SnapshotDir   string  `yaml:"snapshot_dir"`
	SnapshotEvery int     `yaml:"snapshot_every"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control  string `yaml:"control"`
	Feedback string `yaml:"feedback"`
	Status   string `yaml:"status"`
	Outcome  string `yaml:"outcome"`
	Health   string `yaml:"health"`
}

// VoiceConfig contains spoken cue settings
type VoiceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	VoiceID   string `yaml:"voice_id"`
	Engine    string `yaml:"engine"` // standard, neural
	OutputDir string `yaml:"output_dir"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// LoopInterval returns the pacing between analysed frames.
func (c *CaptureConfig) LoopInterval() time.Duration {
	return time.Second / time.Duration(c.LoopFPS)
}

// Mirror reports whether camera keypoints are mirrored (default true).
func (c *CaptureConfig) Mirror() bool {
	return c.MirrorCamera == nil || *c.MirrorCamera
}

// StartupTimeout returns how long the pose worker may take to load its model.
func (p *PoseConfig) StartupTimeout() time.Duration {
	return time.Duration(p.StartupTimeoutS) * time.Second
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
