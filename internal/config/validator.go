package config

import (
	"fmt"
	"regexp"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/pose"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.HealthPort == 0 {
		cfg.HealthPort = 8080
	}
	if cfg.ExercisePath == "" {
		return fmt.Errorf("exercise_path is required")
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := validatePose(&cfg.Pose); err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateRender(&cfg.Render, cfg.Capture); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	validateVoice(&cfg.Voice)

	return nil
}

func validateCapture(c *CaptureConfig) error {
	switch c.Backend {
	case "":
		c.Backend = "gstreamer"
	case "gstreamer", "synthetic":
	default:
		return fmt.Errorf("unknown backend %q (want gstreamer|synthetic)", c.Backend)
	}
	if c.Width == 0 && c.Height == 0 {
		c.Width, c.Height = 640, 480
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be > 0")
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.LoopFPS <= 0 {
		c.LoopFPS = 15
	}
	if c.ClipFrames <= 0 {
		c.ClipFrames = 300
	}
	switch c.AutoStart {
	case "", "camera":
	case "clip":
		if c.AutoClip == "" {
			return fmt.Errorf("autostart clip requires autostart_clip")
		}
	default:
		return fmt.Errorf("unknown autostart %q (want camera|clip)", c.AutoStart)
	}
	return nil
}

func validatePose(p *PoseConfig) error {
	if p.WorkerScript == "" {
		p.WorkerScript = "models/pose_worker.py"
	}
	if p.ModelPath == "" {
		return fmt.Errorf("model_path is required")
	}
	if p.InputWidth == 0 && p.InputHeight == 0 {
		p.InputWidth, p.InputHeight = 256, 256
	}
	if p.InputWidth <= 0 || p.InputHeight <= 0 {
		return fmt.Errorf("input_width and input_height must be > 0")
	}
	if p.JPEGQuality <= 0 {
		p.JPEGQuality = 85
	}
	if p.StartupTimeoutS <= 0 {
		p.StartupTimeoutS = 30
	}
	policy, err := capture.ParseInferencePolicy(p.InferenceFailure)
	if err != nil {
		return err
	}
	p.InferenceFailure = string(policy)
	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.MinConfidence == 0 {
		e.MinConfidence = 0.5
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", e.MinConfidence)
	}
	if e.SideMargin == 0 {
		e.SideMargin = 0.4
	}
	if e.SideMargin < 0 {
		return fmt.Errorf("side_margin must be >= 0, got %v", e.SideMargin)
	}
	if e.SmoothingAlpha == 0 {
		e.SmoothingAlpha = pose.DefaultAlpha
	}
	if e.SmoothingAlpha < 0 || e.SmoothingAlpha > 1 {
		return fmt.Errorf("smoothing_alpha must be in [0,1], got %v", e.SmoothingAlpha)
	}
	pairing, err := pose.ParsePairing(e.SmoothingPairing)
	if err != nil {
		return err
	}
	e.SmoothingPairing = string(pairing)
	if e.CorrectMessage == "" {
		e.CorrectMessage = "Correct posture"
	}
	return nil
}

func validateRender(r *RenderConfig, c CaptureConfig) error {
	if r.SurfaceWidth == 0 && r.SurfaceHeight == 0 {
		r.SurfaceWidth, r.SurfaceHeight = c.Width, c.Height
	}
	if r.SurfaceWidth <= 0 || r.SurfaceHeight <= 0 {
		return fmt.Errorf("surface_width and surface_height must be > 0")
	}
	if r.GuideRadius <= 0 {
		r.GuideRadius = 40
	}
	if r.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot_every must be >= 0")
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if m.Broker == "" {
		return fmt.Errorf("broker is required")
	}

	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("care/control/%s", instanceID)
	}
	if m.Topics.Feedback == "" {
		m.Topics.Feedback = fmt.Sprintf("care/posture/%s/feedback", instanceID)
	}
	if m.Topics.Status == "" {
		m.Topics.Status = fmt.Sprintf("care/posture/%s/status", instanceID)
	}
	if m.Topics.Outcome == "" {
		m.Topics.Outcome = fmt.Sprintf("care/posture/%s/outcome", instanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("care/health/%s", instanceID)
	}

	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control":  1,
			"feedback": 0,
			"status":   1,
			"outcome":  1,
			"health":   0,
		}
	}
	for topic, qos := range m.QoS {
		if qos > 2 {
			return fmt.Errorf("qos for %s must be 0, 1 or 2, got %d", topic, qos)
		}
	}
	return nil
}

func validateVoice(v *VoiceConfig) {
	if v.Region == "" {
		v.Region = "us-east-1"
	}
	if v.VoiceID == "" {
		v.VoiceID = "Joanna"
	}
	if v.Engine == "" {
		v.Engine = "neural"
	}
	if v.OutputDir == "" {
		v.OutputDir = "cues"
	}
}
