// Package coach turns each inferred frame into a verdict, an overlay and a
// feedback event. It implements capture.Processor.
package coach

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/guide"
	"github.com/care/postura/internal/pose"
	"github.com/care/postura/internal/render"
	"github.com/care/postura/internal/rules"
	"github.com/care/postura/internal/types"
	"github.com/care/postura/internal/viewport"
)

// DrawThreshold is the lowest confidence at which a keypoint is drawn.
const DrawThreshold = 0.3

// Surface receives the overlay of every drawable frame.
type Surface interface {
	Draw(o render.Overlay)
}

// Sink receives feedback and status events.
type Sink interface {
	PublishFeedback(ev *types.FeedbackEvent) error
	PublishStatus(ev *types.StatusEvent) error
}

// Cue voices a displayed message; implementations must not block.
type Cue interface {
	Say(msg string)
}

// Config wires a Pipeline.
type Config struct {
	InstanceID     string
	Exercise       rules.ExerciseDefinition
	Engine         *rules.Engine
	Mapper         *viewport.Mapper
	Surface        Surface
	Sink           Sink
	Cue            Cue
	CorrectMessage string
	GuideRadius    float64
	MirrorCamera   bool
	Alpha          float64
	Pairing        pose.Pairing
}

// Pipeline holds the temporal state of the running session: the smoother's
// previous pose and the message on display.
type Pipeline struct {
	cfg      Config
	latch    *rules.Latch
	smoother *pose.Smoother

	mu   sync.Mutex
	last *types.FeedbackEvent
}

// New returns a pipeline for one exercise.
func New(cfg Config) *Pipeline {
	if cfg.Engine == nil {
		cfg.Engine = rules.NewEngine(rules.Config{})
	}
	return &Pipeline{
		cfg:      cfg,
		latch:    rules.NewLatch(cfg.CorrectMessage),
		smoother: pose.NewSmoother(cfg.Alpha, cfg.Pairing),
	}
}

// Begin resets per-session state.
func (p *Pipeline) Begin(s capture.Session) {
	p.smoother.Reset()
	slog.Debug("coach session begin", "session_id", s.ID, "mode", s.Mode, "exercise_id", p.cfg.Exercise.ID)
}

// Status shows a lifecycle message through the same latch as verdicts.
func (p *Pipeline) Status(s capture.Session, msg string) {
	shown, changed := p.latch.Show(msg)
	if !changed {
		return
	}
	if p.cfg.Sink != nil {
		ev := &types.StatusEvent{
			InstanceID: p.cfg.InstanceID,
			SessionID:  s.ID,
			Mode:       string(s.Mode),
			Message:    shown,
			Time:       time.Now(),
		}
		if err := p.cfg.Sink.PublishStatus(ev); err != nil {
			slog.Warn("failed to publish status", "error", err)
		}
	}
	if p.cfg.Cue != nil {
		p.cfg.Cue.Say(shown)
	}
}

// Process evaluates one inferred frame.
func (p *Pipeline) Process(ctx context.Context, s capture.Session, in capture.Input) {
	subject, ok := pose.Primary(in.Poses)
	if !ok {
		return
	}

	kps := subject.Keypoints
	if s.Mode == capture.ModeCamera && p.cfg.MirrorCamera && p.cfg.Mapper != nil {
		kps = pose.Mirror(kps, p.cfg.Mapper.Detection().Width)
	}
	kps = p.smoother.Next(kps)
	smoothed := pose.Pose{Keypoints: kps, Score: subject.Score}

	var (
		fit    viewport.Fit
		fitted bool
	)
	if p.cfg.Mapper != nil {
		video := viewport.Size{Width: float64(in.Frame.Width), Height: float64(in.Frame.Height)}
		fit, fitted = p.cfg.Mapper.Fit(video)
	}

	// Angles are measured in video proportions once the video size is known.
	var measure rules.Projection
	if fitted {
		measure = fit.ToVideo
	}
	ev := p.cfg.Engine.EvaluateIn(smoothed, p.cfg.Exercise.Rules, measure)
	msg, changed := p.latch.Update(ev)

	// Media not ready: nothing is mapped or drawn this frame.
	guides := []guide.Guide{}
	if fitted {
		guides = guide.Build(ev.Active, fit, p.cfg.GuideRadius)
		if p.cfg.Surface != nil {
			p.cfg.Surface.Draw(p.overlay(in.Frame, smoothed, ev, fit, guides, msg))
		}
	}

	fe := p.feedbackEvent(s, in, ev, msg, changed, guides)
	p.mu.Lock()
	p.last = fe
	p.mu.Unlock()

	if p.cfg.Sink != nil {
		if err := p.cfg.Sink.PublishFeedback(fe); err != nil {
			slog.Debug("failed to publish feedback", "seq", fe.Seq, "error", err)
		}
	}
	if changed && p.cfg.Cue != nil {
		p.cfg.Cue.Say(msg)
	}
}

// Last returns the most recent feedback event, if any.
func (p *Pipeline) Last() *types.FeedbackEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Message returns the message on display.
func (p *Pipeline) Message() string {
	return p.latch.Current()
}

func (p *Pipeline) overlay(f *types.Frame, subject pose.Pose, ev rules.Evaluation, fit viewport.Fit, guides []guide.Guide, msg string) render.Overlay {
	o := render.Overlay{
		Seq:        f.Seq,
		Time:       f.Timestamp,
		Correct:    ev.IsCorrect,
		Message:    msg,
		Highlights: guide.Highlights(ev.Active, fit, ev.IsCorrect),
		Guides:     guides,
	}

	visible := make(map[pose.LandmarkID]render.Dot)
	for _, kp := range subject.Keypoints {
		if kp.Confidence <= DrawThreshold {
			continue
		}
		d := render.Dot{At: fit.ToRender(kp.Point()), Confidence: kp.Confidence}
		visible[kp.Name] = d
		o.Dots = append(o.Dots, d)
	}
	for _, b := range pose.Skeleton {
		from, ok1 := visible[b.From]
		to, ok2 := visible[b.To]
		if ok1 && ok2 {
			o.Bones = append(o.Bones, render.Line{From: from.At, To: to.At})
		}
	}
	return o
}

func (p *Pipeline) feedbackEvent(s capture.Session, in capture.Input, ev rules.Evaluation, msg string, changed bool, guides []guide.Guide) *types.FeedbackEvent {
	angles := make(map[string]float64, len(ev.Angles))
	for k, v := range ev.Angles {
		angles[string(k)] = v
	}
	messages := ev.Messages
	if messages == nil {
		messages = []string{}
	}
	return &types.FeedbackEvent{
		InstanceID:      p.cfg.InstanceID,
		SessionID:       s.ID,
		ExerciseID:      p.cfg.Exercise.ID,
		Mode:            string(s.Mode),
		Seq:             in.Frame.Seq,
		TraceID:         in.Frame.TraceID,
		Time:            time.Now(),
		IsCorrect:       ev.IsCorrect,
		Messages:        messages,
		Message:         msg,
		MessageChanged:  changed,
		AnnotatedAngles: angles,
		Guides:          guides,
		Evaluated:       len(ev.Active),
		Suppressed:      string(ev.Suppressed),
		InferenceMS:     float64(in.Inference.Microseconds()) / 1000,
	}
}
