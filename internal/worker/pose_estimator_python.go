/*
PYTHON POSE ESTIMATOR

Runs the pose model in a Python subprocess and exposes it as a synchronous
Estimate(ctx, frame) call for the capture loop.

  ┌──────────────┐ Estimate  ┌──────────────┐  stdin (msgpack)  ┌───────────────┐
  │ capture loop │ ────────> │ Go estimator │ ────────────────> │ pose_worker.py│
  └──────────────┘           └──────────────┘ <──────────────── └───────────────┘
                                                stdout (msgpack)

PROTOCOL (both directions): 4-byte big-endian length + msgpack map.

  worker → go, once at startup:
    {"type":"ready","model":"..."}        model loaded
    {"type":"error","error":"..."}        model failed to load (fatal)

  go → worker, per frame:
    {"type":"frame","seq":N,"frame_data":<jpeg>,"format":"jpeg",
     "width":W,"height":H,"meta":{...}}

  worker → go, per frame:
    {"type":"result","seq":N,"poses":[{"keypoints":[...],"score":s}],
     "timing":{"inference_ms":...}}
    {"type":"error","seq":N,"error":"..."}   frame failed

Keypoints are in the model input frame (W×H after preprocessing).

Responses are matched to requests by seq. A request abandoned by its caller
(ctx cancelled) keeps its seq reserved; its late response is discarded.
*/

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/pose"
	"github.com/care/postura/internal/types"
)

const (
	writeTimeout          = 2 * time.Second
	defaultStartupTimeout = 30 * time.Second
	stopTimeout           = 2 * time.Second
)

// PythonPoseEstimatorConfig configures the worker process.
type PythonPoseEstimatorConfig struct {
	WorkerID       string
	Script         string
	ModelPath      string
	InputWidth     int
	InputHeight    int
	JPEGQuality    int
	InstanceID     string
	StartupTimeout time.Duration
	ExtraArgs      []string
}

// PythonPoseEstimator implements capture.Estimator over a subprocess.
type PythonPoseEstimator struct {
	cfg  PythonPoseEstimatorConfig
	prep *Preprocessor

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan response
	seq       uint64

	ready    chan response
	exited   chan struct{}
	exitOnce sync.Once
	exitErr  atomic.Value // error

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool
	model    atomic.Value // string

	requests       uint64
	responses      uint64
	failures       uint64
	abandoned      uint64
	totalLatencyUS uint64
	lastSeenAt     atomic.Value // time.Time
}

// NewPythonPoseEstimator validates cfg. Start spawns the process.
func NewPythonPoseEstimator(cfg PythonPoseEstimatorConfig) (*PythonPoseEstimator, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("worker script is required")
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model_path is required")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "pose-estimator"
	}

	prep, err := NewPreprocessor(cfg.InputWidth, cfg.InputHeight, cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	slog.Info("python pose estimator created",
		"worker_id", cfg.WorkerID,
		"script", cfg.Script,
		"model", cfg.ModelPath,
		"input", fmt.Sprintf("%dx%d", cfg.InputWidth, cfg.InputHeight),
	)

	return newEstimator(cfg, prep), nil
}

func newEstimator(cfg PythonPoseEstimatorConfig, prep *Preprocessor) *PythonPoseEstimator {
	w := &PythonPoseEstimator{
		cfg:     cfg,
		prep:    prep,
		pending: make(map[uint64]chan response),
		ready:   make(chan response, 1),
		exited:  make(chan struct{}),
	}
	w.lastSeenAt.Store(time.Time{})
	w.model.Store("")
	return w
}

// ID returns the worker identifier.
func (w *PythonPoseEstimator) ID() string {
	return w.cfg.WorkerID
}

// Start spawns the worker and blocks until the model reports ready. A
// model-load failure is returned wrapped in capture.ErrModelUnavailable.
func (w *PythonPoseEstimator) Start(ctx context.Context) error {
	if w.isActive.Load() {
		return fmt.Errorf("worker already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := w.spawnPythonProcess(); err != nil {
		w.cancel()
		return fmt.Errorf("failed to spawn python process: %w", err)
	}
	return w.awaitReady(ctx)
}

func (w *PythonPoseEstimator) spawnPythonProcess() error {
	args := []string{
		"--model", w.cfg.ModelPath,
		"--input-width", fmt.Sprint(w.cfg.InputWidth),
		"--input-height", fmt.Sprint(w.cfg.InputHeight),
	}
	args = append(args, w.cfg.ExtraArgs...)

	w.cmd = exec.CommandContext(w.ctx, w.cfg.Script, args...)

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start python process: %w", err)
	}

	slog.Info("python process spawned",
		"worker_id", w.cfg.WorkerID,
		"pid", w.cmd.Process.Pid,
	)

	w.attach(stdin, stdout)

	w.wg.Add(1)
	go w.logStderr(stderr)

	w.wg.Add(1)
	go w.waitProcess()

	return nil
}

// attach wires the pipes and starts the reader.
func (w *PythonPoseEstimator) attach(stdin io.WriteCloser, stdout io.Reader) {
	if w.ctx == nil {
		w.ctx, w.cancel = context.WithCancel(context.Background())
	}
	w.stdin = stdin
	w.stdout = stdout

	w.wg.Add(1)
	go w.readResults()
}

func (w *PythonPoseEstimator) awaitReady(ctx context.Context) error {
	timer := time.NewTimer(w.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case msg := <-w.ready:
		if msg.Type == msgError {
			w.Stop()
			return fmt.Errorf("%w: %s", capture.ErrModelUnavailable, msg.Error)
		}
		w.model.Store(msg.Model)
		w.isActive.Store(true)
		w.lastSeenAt.Store(time.Now())
		slog.Info("python pose estimator ready",
			"worker_id", w.cfg.WorkerID,
			"model", msg.Model,
		)
		return nil
	case <-w.exited:
		w.Stop()
		return fmt.Errorf("%w: worker exited during startup: %v", capture.ErrModelUnavailable, w.exitError())
	case <-timer.C:
		w.Stop()
		return fmt.Errorf("%w: model not ready after %v", capture.ErrModelUnavailable, w.cfg.StartupTimeout)
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	}
}

// Estimate sends frame to the worker and waits for its poses.
func (w *PythonPoseEstimator) Estimate(ctx context.Context, frame *types.Frame) ([]pose.Pose, error) {
	if !w.isActive.Load() {
		return nil, fmt.Errorf("%w: worker not active", capture.ErrModelUnavailable)
	}

	jpegData, err := w.prep.Encode(frame)
	if err != nil {
		atomic.AddUint64(&w.failures, 1)
		return nil, fmt.Errorf("preprocess frame %d: %w", frame.Seq, err)
	}

	seq, ch := w.register()
	req := request{
		Type:      msgFrame,
		Seq:       seq,
		FrameData: jpegData,
		Format:    "jpeg",
		Width:     w.prep.width,
		Height:    w.prep.height,
		Meta: requestMeta{
			InstanceID:   w.cfg.InstanceID,
			TraceID:      frame.TraceID,
			Timestamp:    frame.Timestamp.Format(time.RFC3339Nano),
			SourceWidth:  frame.Width,
			SourceHeight: frame.Height,
		},
	}

	start := time.Now()
	atomic.AddUint64(&w.requests, 1)
	if err := w.send(req); err != nil {
		w.unregister(seq)
		atomic.AddUint64(&w.failures, 1)
		slog.Error("failed to send frame to python worker",
			"worker_id", w.cfg.WorkerID,
			"frame_seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
			"action", "worker may be hung, check health metrics",
		)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Type == msgError {
			atomic.AddUint64(&w.failures, 1)
			return nil, fmt.Errorf("worker failed frame %d: %s", frame.Seq, resp.Error)
		}
		atomic.AddUint64(&w.responses, 1)
		atomic.AddUint64(&w.totalLatencyUS, uint64(time.Since(start).Microseconds()))
		w.lastSeenAt.Store(time.Now())
		return resp.Poses, nil
	case <-w.exited:
		return nil, fmt.Errorf("%w: worker exited: %v", capture.ErrModelUnavailable, w.exitError())
	case <-ctx.Done():
		// The response, if it ever arrives, is dropped by readResults.
		w.unregister(seq)
		atomic.AddUint64(&w.abandoned, 1)
		return nil, ctx.Err()
	}
}

func (w *PythonPoseEstimator) register() (uint64, chan response) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.seq++
	ch := make(chan response, 1)
	w.pending[w.seq] = ch
	return w.seq, ch
}

func (w *PythonPoseEstimator) unregister(seq uint64) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	delete(w.pending, seq)
}

func (w *PythonPoseEstimator) send(req request) error {
	writeErr := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		writeErr <- writeMessage(w.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to stdin: %w", err)
		}
		return nil
	case <-time.After(writeTimeout):
		return fmt.Errorf("stdin write timeout (python worker may be hung)")
	case <-w.ctx.Done():
		return fmt.Errorf("worker context cancelled during write")
	}
}

func (w *PythonPoseEstimator) readResults() {
	defer w.wg.Done()
	defer w.markExited(nil)

	for {
		var msg response
		if err := readMessage(w.stdout, &msg); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("python worker stdout closed (EOF)", "worker_id", w.cfg.WorkerID)
				return
			}
			slog.Error("failed to read message from python worker",
				"worker_id", w.cfg.WorkerID,
				"error", err,
				"action", "check python worker logs in stderr",
			)
			w.markExited(err)
			return
		}

		if msg.Seq == 0 && (msg.Type == msgReady || msg.Type == msgError) {
			select {
			case w.ready <- msg:
			default:
				slog.Warn("unexpected startup message from python worker",
					"worker_id", w.cfg.WorkerID,
					"type", msg.Type,
					"error", msg.Error,
				)
			}
			continue
		}

		w.pendingMu.Lock()
		ch, ok := w.pending[msg.Seq]
		delete(w.pending, msg.Seq)
		w.pendingMu.Unlock()

		if !ok {
			slog.Debug("dropping stale pose result",
				"worker_id", w.cfg.WorkerID,
				"seq", msg.Seq,
			)
			continue
		}
		ch <- msg
	}
}

func (w *PythonPoseEstimator) logStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("python worker error", "worker_id", w.cfg.WorkerID, "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("python worker warning", "worker_id", w.cfg.WorkerID, "log", line)
		default:
			slog.Debug("python worker log", "worker_id", w.cfg.WorkerID, "log", line)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("error reading stderr", "worker_id", w.cfg.WorkerID, "error", err)
	}
}

func (w *PythonPoseEstimator) waitProcess() {
	defer w.wg.Done()

	err := w.cmd.Wait()
	if err != nil {
		select {
		case <-w.ctx.Done():
			slog.Debug("python process exited (shutdown)", "worker_id", w.cfg.WorkerID, "pid", w.cmd.Process.Pid)
		default:
			slog.Error("python process exited unexpectedly",
				"worker_id", w.cfg.WorkerID,
				"pid", w.cmd.Process.Pid,
				"error", err,
			)
		}
	} else {
		slog.Info("python process exited cleanly", "worker_id", w.cfg.WorkerID, "pid", w.cmd.Process.Pid)
	}
	w.markExited(err)
}

func (w *PythonPoseEstimator) markExited(err error) {
	w.exitOnce.Do(func() {
		if err != nil {
			w.exitErr.Store(err)
		}
		w.isActive.Store(false)
		close(w.exited)
	})
}

func (w *PythonPoseEstimator) exitError() error {
	if err, ok := w.exitErr.Load().(error); ok {
		return err
	}
	return errors.New("process ended")
}

// Stop closes stdin so the worker exits, then kills it after a grace period.
func (w *PythonPoseEstimator) Stop() error {
	w.isActive.Store(false)
	if w.stdin != nil {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("python worker did not exit in time, killing", "worker_id", w.cfg.WorkerID)
		if w.cmd != nil && w.cmd.Process != nil {
			w.cmd.Process.Kill()
		}
		if w.cancel != nil {
			w.cancel()
		}
		<-done
	}
	if w.cancel != nil {
		w.cancel()
	}

	slog.Info("python pose estimator stopped",
		"worker_id", w.cfg.WorkerID,
		"requests", atomic.LoadUint64(&w.requests),
		"responses", atomic.LoadUint64(&w.responses),
	)
	return nil
}

// Metrics returns worker health counters.
func (w *PythonPoseEstimator) Metrics() types.WorkerMetrics {
	responses := atomic.LoadUint64(&w.responses)
	var avg float64
	if responses > 0 {
		avg = float64(atomic.LoadUint64(&w.totalLatencyUS)) / float64(responses) / 1000
	}
	last, _ := w.lastSeenAt.Load().(time.Time)
	model, _ := w.model.Load().(string)

	alive := w.stdin != nil
	select {
	case <-w.exited:
		alive = false
	default:
	}

	return types.WorkerMetrics{
		Requests:     atomic.LoadUint64(&w.requests),
		Responses:    responses,
		Failures:     atomic.LoadUint64(&w.failures),
		Abandoned:    atomic.LoadUint64(&w.abandoned),
		AvgLatencyMS: avg,
		LastSeenAt:   last,
		ProcessAlive: alive,
		ModelReady:   w.isActive.Load(),
		ModelName:    model,
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
