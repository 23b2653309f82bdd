package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/coach"
	"github.com/care/postura/internal/config"
	"github.com/care/postura/internal/control"
	"github.com/care/postura/internal/emitter"
	"github.com/care/postura/internal/media"
	"github.com/care/postura/internal/media/gstreamer"
	"github.com/care/postura/internal/pose"
	"github.com/care/postura/internal/render"
	"github.com/care/postura/internal/rules"
	"github.com/care/postura/internal/types"
	"github.com/care/postura/internal/viewport"
	"github.com/care/postura/internal/voice"
	"github.com/care/postura/internal/worker"
)

// healthInterval paces health publications on MQTT.
const healthInterval = 10 * time.Second

// Service is the main posture coach orchestrator
type Service struct {
	cfg      *config.Config
	exercise rules.ExerciseDefinition

	// Core components
	estimator      Estimator
	acquirer       capture.Acquirer
	canvas         *render.Canvas
	pipeline       *coach.Pipeline
	controller     *capture.Controller
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	speaker        *voice.Speaker
	server         *http.Server

	// preconnected skips Connect for an injected MQTT client.
	preconnected bool

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // for MQTT shutdown command

	lastSession capture.Session
}

// Option overrides a component, mainly for tests and development.
type Option func(*Service)

// WithEstimator replaces the Python pose worker.
func WithEstimator(e Estimator) Option {
	return func(s *Service) { s.estimator = e }
}

// WithAcquirer replaces the configured media backend.
func WithAcquirer(a capture.Acquirer) Option {
	return func(s *Service) { s.acquirer = a }
}

// WithMQTTClient uses an already connected client.
func WithMQTTClient(c emitter.Client) Option {
	return func(s *Service) {
		s.emitter = emitter.NewMQTTEmitterWithClient(s.cfg, c)
		s.preconnected = true
	}
}

// NewServiceFromFile loads configuration, applies overrides (command line
// flags) and builds the service. Overridden configuration is validated again.
func NewServiceFromFile(configPath string, overrides ...func(*config.Config)) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(overrides) > 0 {
		for _, o := range overrides {
			o(cfg)
		}
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid config after overrides: %w", err)
		}
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"room_id", cfg.RoomID,
		"exercise_path", cfg.ExercisePath,
	)
	return NewService(cfg)
}

// NewService builds every component. Nothing is started until Run.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	exercise, err := rules.LoadFile(cfg.ExercisePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load exercise: %w", err)
	}
	slog.Info("exercise loaded", "exercise_id", exercise.ID, "name", exercise.Name, "rules", len(exercise.Rules))

	s := &Service{
		cfg:      cfg,
		exercise: exercise,
		emitter:  emitter.NewMQTTEmitter(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.estimator == nil {
		if err := s.initializeEstimator(); err != nil {
			return nil, fmt.Errorf("failed to initialize pose estimator: %w", err)
		}
	}
	if s.acquirer == nil {
		if err := s.initializeAcquirer(); err != nil {
			return nil, fmt.Errorf("failed to initialize media backend: %w", err)
		}
	}

	s.canvas, err = render.NewCanvas(render.CanvasConfig{
		Width:         cfg.Render.SurfaceWidth,
		Height:        cfg.Render.SurfaceHeight,
		SnapshotDir:   cfg.Render.SnapshotDir,
		SnapshotEvery: cfg.Render.SnapshotEvery,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render surface: %w", err)
	}

	var cue coach.Cue
	if cfg.Voice.Enabled {
		s.speaker, err = voice.NewSpeaker(context.Background(), voice.Config{
			Region:    cfg.Voice.Region,
			VoiceID:   cfg.Voice.VoiceID,
			Engine:    cfg.Voice.Engine,
			OutputDir: cfg.Voice.OutputDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create voice cues: %w", err)
		}
		cue = s.speaker
	}

	s.pipeline = coach.New(coach.Config{
		InstanceID: cfg.InstanceID,
		Exercise:   exercise,
		Engine: rules.NewEngine(rules.Config{
			MinConfidence: cfg.Engine.MinConfidence,
			SideMargin:    cfg.Engine.SideMargin,
		}),
		Mapper: viewport.New(
			viewport.Size{Width: float64(cfg.Render.SurfaceWidth), Height: float64(cfg.Render.SurfaceHeight)},
			viewport.Size{Width: float64(cfg.Pose.InputWidth), Height: float64(cfg.Pose.InputHeight)},
		),
		Surface:        s.canvas,
		Sink:           s.emitter,
		Cue:            cue,
		CorrectMessage: cfg.Engine.CorrectMessage,
		GuideRadius:    cfg.Render.GuideRadius,
		MirrorCamera:   cfg.Capture.Mirror(),
		Alpha:          cfg.Engine.SmoothingAlpha,
		Pairing:        pose.Pairing(cfg.Engine.SmoothingPairing),
	})

	s.controller, err = capture.NewController(capture.Config{
		Interval: cfg.Capture.LoopInterval(),
		Policy:   capture.InferencePolicy(cfg.Pose.InferenceFailure),
	}, s.acquirer, s.estimator, s)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture controller: %w", err)
	}

	return s, nil
}

// initializeEstimator creates the Python pose worker
func (s *Service) initializeEstimator() error {
	est, err := worker.NewPythonPoseEstimator(worker.PythonPoseEstimatorConfig{
		WorkerID:       "pose-estimator",
		Script:         s.cfg.Pose.WorkerScript,
		ModelPath:      s.cfg.Pose.ModelPath,
		InputWidth:     s.cfg.Pose.InputWidth,
		InputHeight:    s.cfg.Pose.InputHeight,
		JPEGQuality:    s.cfg.Pose.JPEGQuality,
		InstanceID:     s.cfg.InstanceID,
		StartupTimeout: s.cfg.Pose.StartupTimeout(),
		ExtraArgs:      s.cfg.Pose.ExtraArgs,
	})
	if err != nil {
		return err
	}
	s.estimator = est

	slog.Info("python pose estimator configured",
		"model", s.cfg.Pose.ModelPath,
		"input", fmt.Sprintf("%dx%d", s.cfg.Pose.InputWidth, s.cfg.Pose.InputHeight),
	)
	return nil
}

func (s *Service) initializeAcquirer() error {
	c := s.cfg.Capture
	switch c.Backend {
	case "synthetic":
		s.acquirer = media.SyntheticAcquirer{Width: c.Width, Height: c.Height, FPS: c.FPS, ClipFrames: c.ClipFrames}
		slog.Info("using synthetic media (no camera)")
	default:
		acq, err := gstreamer.NewAcquirer(c.CameraDevice, gstreamer.Format{Width: c.Width, Height: c.Height, FPS: c.FPS})
		if err != nil {
			return err
		}
		s.acquirer = acq
		slog.Info("using gstreamer media", "device", c.CameraDevice)
	}
	return nil
}

// Run starts the service and blocks until ctx is cancelled. A pose model
// that fails to load is fatal.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("posture coach starting", "instance_id", s.cfg.InstanceID, "exercise_id", s.exercise.ID)

	if err := s.estimator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pose estimator: %w", err)
	}

	if !s.preconnected {
		if err := s.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	s.controlHandler = control.NewHandler(s.cfg, s.emitter.Client, control.CommandCallbacks{
		OnStartCamera:   s.startCamera,
		OnStartClip:     s.startClip,
		OnStop:          s.stopCapture,
		OnGetStatus:     s.getStatus,
		OnSubmitOutcome: s.submitOutcome,
		OnShutdown:      s.shutdownViaControl,
	})
	if err := s.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	if s.cfg.HealthPort > 0 {
		s.startHealthServer(s.cfg.HealthPort)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publishHealth(ctx)
	}()

	s.autostart(ctx)

	slog.Info("posture coach running", "health_port", s.cfg.HealthPort)

	<-ctx.Done()

	slog.Info("posture coach run loop exiting")
	return nil
}

func (s *Service) autostart(ctx context.Context) {
	var start func() error
	switch s.cfg.Capture.AutoStart {
	case "camera":
		start = func() error { return s.startCamera(ctx) }
	case "clip":
		start = func() error { return s.startClip(ctx, s.cfg.Capture.AutoClip) }
	default:
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := start(); err != nil {
			slog.Warn("autostart failed", "mode", s.cfg.Capture.AutoStart, "error", err)
		}
	}()
}

// publishHealth periodically publishes the health status on MQTT.
func (s *Service) publishHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := s.HealthCheck().ToJSON()
			if err != nil {
				slog.Error("failed to marshal health", "error", err)
				continue
			}
			if err := s.emitter.PublishHealth(payload); err != nil {
				slog.Debug("failed to publish health", "error", err)
			}
		}
	}
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down posture coach")

	// Order matters: closing capture first cancels any start still waiting
	// on media and refuses later ones, so the control plane's pending starts
	// drain. The loop depends on media and the estimator.
	// 1. Stop capture loops and release media
	if err := s.controller.Close(ctx); err != nil {
		slog.Error("failed to stop capture", "error", err)
	}

	// 2. Stop control plane
	if s.controlHandler != nil {
		slog.Info("stopping control handler")
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 3. Stop pose estimator
	slog.Info("stopping pose estimator")
	if err := s.estimator.Stop(); err != nil {
		slog.Error("failed to stop pose estimator", "error", err)
	}

	// 4. Stop voice cues
	if s.speaker != nil {
		s.speaker.Close()
	}

	// 5. Stop health server
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	slog.Info("waiting for goroutines to finish")
	s.wg.Wait()

	// 6. Disconnect MQTT
	if err := s.emitter.Disconnect(); err != nil {
		slog.Error("failed to disconnect mqtt", "error", err)
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("posture coach shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Begin, Process and Status make the service the controller's processor:
// the coach pipeline does the work, the service remembers the session for
// outcome records.
func (s *Service) Begin(sess capture.Session) {
	s.mu.Lock()
	s.lastSession = sess
	s.mu.Unlock()
	s.pipeline.Begin(sess)
}

func (s *Service) Process(ctx context.Context, sess capture.Session, in capture.Input) {
	s.pipeline.Process(ctx, sess, in)
}

func (s *Service) Status(sess capture.Session, msg string) {
	s.pipeline.Status(sess, msg)
}

// LastFeedback returns the most recent feedback event.
func (s *Service) LastFeedback() *types.FeedbackEvent {
	return s.pipeline.Last()
}
