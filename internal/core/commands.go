package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/care/postura/internal/types"
)

// startCamera starts a camera session. It blocks while the camera is being
// acquired; a stop command cancels it.
func (s *Service) startCamera(ctx context.Context) error {
	slog.Info("starting camera session")
	return s.controller.StartCamera(ctx)
}

// startClip starts a session over a video file.
func (s *Service) startClip(ctx context.Context, path string) error {
	slog.Info("starting clip session", "path", path)
	return s.controller.StartClip(ctx, path)
}

func (s *Service) stopCapture() error {
	slog.Info("stopping capture session")
	s.controller.Stop()
	return nil
}

// submitOutcome forwards the patient's end-of-session report. Missing
// session and exercise ids are filled from the last session.
func (s *Service) submitOutcome(o types.SessionOutcome) error {
	s.mu.RLock()
	last := s.lastSession
	s.mu.RUnlock()

	if o.SessionID == "" {
		if last.ID == "" {
			return fmt.Errorf("no session to attach the outcome to")
		}
		o.SessionID = last.ID
	}
	if o.ExerciseID == "" {
		o.ExerciseID = s.exercise.ID
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	if err := s.emitter.PublishOutcome(&o); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	slog.Info("session outcome recorded",
		"session_id", o.SessionID,
		"exercise_id", o.ExerciseID,
		"difficulty", o.Difficulty,
		"pain", o.Pain,
	)
	return nil
}

// getStatus returns the status reported to get_status.
func (s *Service) getStatus() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	snap := s.controller.Snapshot()
	status := map[string]interface{}{
		"instance_id":      s.cfg.InstanceID,
		"room_id":          s.cfg.RoomID,
		"uptime_s":         time.Since(started).Seconds(),
		"running":          running,
		"exercise_id":      s.exercise.ID,
		"mode":             string(snap.Mode),
		"session_id":       snap.SessionID,
		"frames_processed": snap.FramesProcessed,
		"message":          s.pipeline.Message(),
	}
	if last := s.pipeline.Last(); last != nil {
		status["is_correct"] = last.IsCorrect
		status["annotated_angles"] = last.AnnotatedAngles
	}
	return status
}

// shutdownViaControl cancels the run context, which lets main run the
// ordered shutdown.
func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service not running")
	}
	cancel()
	return nil
}
