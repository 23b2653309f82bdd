package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/postura/internal/mailbox"
	"github.com/care/postura/internal/pose"
	"github.com/care/postura/internal/types"
)

// fakeMedia is a media source fed by the test.
type fakeMedia struct {
	name  string
	mb    *mailbox.Mailbox
	ready chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	err      error
	closed   int
	onClose  func(string)
	doneOnce sync.Once
}

func newFakeMedia(name string, onClose func(string)) *fakeMedia {
	return &fakeMedia{
		name:    name,
		mb:      mailbox.New(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (m *fakeMedia) Ready() <-chan struct{} { return m.ready }
func (m *fakeMedia) Done() <-chan struct{}  { return m.done }
func (m *fakeMedia) Next(ctx context.Context) *types.Frame {
	return m.mb.Next(ctx)
}

func (m *fakeMedia) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *fakeMedia) end(err error) {
	m.doneOnce.Do(func() {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		close(m.done)
		m.mb.Close()
	})
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closed++
	first := m.closed == 1
	m.mu.Unlock()
	if first && m.onClose != nil {
		m.onClose(m.name)
	}
	m.end(nil)
	return nil
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeAcquirer struct {
	mu       sync.Mutex
	events   []string
	camera   *fakeMedia
	clip     *fakeMedia
	camErr   error
	camBlock bool
}

func (a *fakeAcquirer) record(ev string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *fakeAcquirer) log() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func (a *fakeAcquirer) OpenCamera(ctx context.Context) (Media, error) {
	a.record("open camera")
	if a.camBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.camErr != nil {
		return nil, a.camErr
	}
	return a.camera, nil
}

func (a *fakeAcquirer) OpenClip(ctx context.Context, path string) (Media, error) {
	a.record("open clip " + path)
	return a.clip, nil
}

type fakeEstimator struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
	gate  chan struct{}
}

func (e *fakeEstimator) Estimate(ctx context.Context, f *types.Frame) ([]pose.Pose, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	fail := e.fail
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}
	return []pose.Pose{{Keypoints: []pose.Keypoint{{Name: pose.Nose, Confidence: 1}}}}, nil
}

func (e *fakeEstimator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeProcessor struct {
	mu       sync.Mutex
	frames   map[Mode][]uint64
	statuses []string
	begins   int
	inFlight int
	overlap  bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{frames: make(map[Mode][]uint64)}
}

func (p *fakeProcessor) Begin(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begins++
}

func (p *fakeProcessor) Process(ctx context.Context, s Session, in Input) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > 1 {
		p.overlap = true
	}
	p.frames[s.Mode] = append(p.frames[s.Mode], in.Frame.Seq)
	p.mu.Unlock()

	time.Sleep(time.Millisecond)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
}

func (p *fakeProcessor) Status(s Session, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, msg)
}

func (p *fakeProcessor) count(m Mode) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames[m])
}

func (p *fakeProcessor) hasStatus(msg string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.statuses {
		if s == msg {
			return true
		}
	}
	return false
}

// feed publishes frames until stop is closed.
func feed(m *fakeMedia, stop <-chan struct{}) {
	var seq uint64
	for {
		select {
		case <-stop:
			return
		case <-m.done:
			return
		default:
		}
		seq++
		m.mb.Publish(&types.Frame{Seq: seq, Width: 640, Height: 480})
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestController(t *testing.T, acq Acquirer, est Estimator, proc Processor, policy InferencePolicy) *Controller {
	t.Helper()
	c, err := NewController(Config{Policy: policy}, acq, est, proc)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func TestStop_IdempotentBeforeStart(t *testing.T) {
	c := newTestController(t, &fakeAcquirer{}, &fakeEstimator{}, newFakeProcessor(), "")

	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
	s := c.Snapshot()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.False(t, s.LoopActive)
}

func TestStartCamera_RunsLoopAndStopTwice(t *testing.T) {
	acq := &fakeAcquirer{}
	acq.camera = newFakeMedia("camera", acq.record)
	proc := newFakeProcessor()
	c := newTestController(t, acq, &fakeEstimator{}, proc, "")

	require.NoError(t, c.StartCamera(context.Background()))
	assert.Equal(t, ModeCamera, c.Mode())

	close(acq.camera.ready)
	stop := make(chan struct{})
	defer close(stop)
	go feed(acq.camera, stop)

	require.Eventually(t, func() bool { return proc.count(ModeCamera) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, proc.hasStatus(MsgCameraReady))

	c.Stop()
	c.Stop()

	s := c.Snapshot()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.False(t, s.LoopActive)
	assert.Equal(t, 1, acq.camera.closeCount())

	n := proc.count(ModeCamera)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, proc.count(ModeCamera), "no frame processed after Stop")
}

func TestStartClip_CancelsCameraBeforeAcquiring(t *testing.T) {
	acq := &fakeAcquirer{}
	acq.camera = newFakeMedia("camera", func(n string) { acq.record("close " + n) })
	acq.clip = newFakeMedia("clip", func(n string) { acq.record("close " + n) })
	proc := newFakeProcessor()
	c := newTestController(t, acq, &fakeEstimator{}, proc, "")

	require.NoError(t, c.StartCamera(context.Background()))
	close(acq.camera.ready)
	stop := make(chan struct{})
	defer close(stop)
	go feed(acq.camera, stop)
	require.Eventually(t, func() bool { return proc.count(ModeCamera) > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.StartClip(context.Background(), "squat.mp4"))
	assert.Equal(t, []string{"open camera", "close camera", "open clip squat.mp4"}, acq.log())
	assert.Equal(t, ModeClip, c.Mode())

	camFrames := proc.count(ModeCamera)
	close(acq.clip.ready)
	go feed(acq.clip, stop)
	require.Eventually(t, func() bool { return proc.count(ModeClip) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, camFrames, proc.count(ModeCamera))

	proc.mu.Lock()
	assert.False(t, proc.overlap, "two loops never process concurrently")
	proc.mu.Unlock()
}

func TestStartCamera_PermissionDenied(t *testing.T) {
	acq := &fakeAcquirer{camErr: ErrPermissionDenied}
	proc := newFakeProcessor()
	c := newTestController(t, acq, &fakeEstimator{}, proc, "")

	err := c.StartCamera(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, ModeIdle, c.Mode())
	assert.False(t, c.Snapshot().LoopActive)
	assert.True(t, proc.hasStatus(MsgCameraDenied))

	acq.clip = newFakeMedia("clip", nil)
	assert.NoError(t, c.StartClip(context.Background(), "fallback.mp4"), "other modes still usable")
}

func TestStop_CancelsPendingAcquisition(t *testing.T) {
	acq := &fakeAcquirer{camBlock: true}
	c := newTestController(t, acq, &fakeEstimator{}, newFakeProcessor(), "")

	errc := make(chan error, 1)
	go func() { errc <- c.StartCamera(context.Background()) }()

	require.Eventually(t, func() bool { return len(acq.log()) == 1 }, time.Second, time.Millisecond)
	c.Stop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("StartCamera did not return after Stop")
	}
	assert.Equal(t, ModeIdle, c.Mode())
}

func TestClose_RefusesLaterStarts(t *testing.T) {
	acq := &fakeAcquirer{}
	acq.camera = newFakeMedia("camera", acq.record)
	acq.clip = newFakeMedia("clip", acq.record)
	c := newTestController(t, acq, &fakeEstimator{}, newFakeProcessor(), "")

	require.NoError(t, c.Close(context.Background()))

	assert.ErrorIs(t, c.StartCamera(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.StartClip(context.Background(), "late.mp4"), ErrClosed)
	assert.Empty(t, acq.log(), "no media is acquired after Close")
	assert.Equal(t, ModeIdle, c.Mode())
	assert.False(t, c.Snapshot().LoopActive)
}

func TestClose_ReleasesMediaOfPendingStart(t *testing.T) {
	release := make(chan struct{})
	acq := &blockingAcquirer{release: release, media: newFakeMedia("camera", nil)}
	c := newTestController(t, acq, &fakeEstimator{}, newFakeProcessor(), "")

	errc := make(chan error, 1)
	go func() { errc <- c.StartCamera(context.Background()) }()
	require.Eventually(t, func() bool { return acq.opening.Load() }, time.Second, time.Millisecond)

	require.NoError(t, c.Close(context.Background()))
	close(release)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, 1, acq.media.closeCount())
	assert.False(t, c.Snapshot().LoopActive)
}

// blockingAcquirer opens the camera only once released, ignoring ctx, like a
// device that finishes opening after it was asked to stop.
type blockingAcquirer struct {
	release chan struct{}
	media   *fakeMedia
	opening atomic.Bool
}

func (a *blockingAcquirer) OpenCamera(ctx context.Context) (Media, error) {
	a.opening.Store(true)
	<-a.release
	return a.media, nil
}

func (a *blockingAcquirer) OpenClip(ctx context.Context, path string) (Media, error) {
	return nil, errors.New("no clips")
}

func TestClipEndOfStream(t *testing.T) {
	acq := &fakeAcquirer{}
	acq.clip = newFakeMedia("clip", nil)
	proc := newFakeProcessor()
	c := newTestController(t, acq, &fakeEstimator{}, proc, "")

	require.NoError(t, c.StartClip(context.Background(), "a.mp4"))
	close(acq.clip.ready)
	acq.clip.mb.Publish(&types.Frame{Seq: 1})
	require.Eventually(t, func() bool { return proc.count(ModeClip) == 1 }, time.Second, time.Millisecond)

	acq.clip.end(nil)

	require.Eventually(t, func() bool { return c.Mode() == ModeIdle }, time.Second, time.Millisecond)
	assert.True(t, proc.hasStatus(MsgClipFinished))
	assert.False(t, c.Snapshot().LoopActive)
}

func TestInferencePolicy(t *testing.T) {
	boom := errors.New("inference crashed")

	t.Run("skip continues", func(t *testing.T) {
		acq := &fakeAcquirer{}
		acq.camera = newFakeMedia("camera", nil)
		est := &fakeEstimator{fail: func(call int) error {
			if call%2 == 1 {
				return boom
			}
			return nil
		}}
		proc := newFakeProcessor()
		c := newTestController(t, acq, est, proc, InferenceSkip)

		require.NoError(t, c.StartCamera(context.Background()))
		close(acq.camera.ready)
		stop := make(chan struct{})
		defer close(stop)
		go feed(acq.camera, stop)

		require.Eventually(t, func() bool { return proc.count(ModeCamera) >= 2 }, 2*time.Second, time.Millisecond)
		assert.Equal(t, ModeCamera, c.Mode())
		assert.NotZero(t, c.Snapshot().InferenceErrors)
	})

	t.Run("retry reuses frame", func(t *testing.T) {
		acq := &fakeAcquirer{}
		acq.clip = newFakeMedia("clip", nil)
		est := &fakeEstimator{fail: func(call int) error {
			if call == 1 {
				return boom
			}
			return nil
		}}
		proc := newFakeProcessor()
		c := newTestController(t, acq, est, proc, InferenceRetry)

		require.NoError(t, c.StartClip(context.Background(), "a.mp4"))
		close(acq.clip.ready)
		acq.clip.mb.Publish(&types.Frame{Seq: 7})

		require.Eventually(t, func() bool { return proc.count(ModeClip) == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, 2, est.callCount())
		proc.mu.Lock()
		assert.Equal(t, []uint64{7}, proc.frames[ModeClip])
		proc.mu.Unlock()
	})

	t.Run("abort ends session", func(t *testing.T) {
		acq := &fakeAcquirer{}
		acq.clip = newFakeMedia("clip", nil)
		est := &fakeEstimator{fail: func(int) error { return boom }}
		proc := newFakeProcessor()
		c := newTestController(t, acq, est, proc, InferenceAbort)

		require.NoError(t, c.StartClip(context.Background(), "a.mp4"))
		close(acq.clip.ready)
		acq.clip.mb.Publish(&types.Frame{Seq: 1})

		require.Eventually(t, func() bool { return c.Mode() == ModeIdle }, time.Second, time.Millisecond)
		assert.True(t, proc.hasStatus(MsgModelFailed))
		assert.Zero(t, proc.count(ModeClip))
	})

	t.Run("model unavailable is fatal under skip", func(t *testing.T) {
		acq := &fakeAcquirer{}
		acq.clip = newFakeMedia("clip", nil)
		est := &fakeEstimator{fail: func(int) error { return ErrModelUnavailable }}
		proc := newFakeProcessor()
		c := newTestController(t, acq, est, proc, InferenceSkip)

		require.NoError(t, c.StartClip(context.Background(), "a.mp4"))
		close(acq.clip.ready)
		acq.clip.mb.Publish(&types.Frame{Seq: 1})

		require.Eventually(t, func() bool { return c.Mode() == ModeIdle }, time.Second, time.Millisecond)
		assert.Equal(t, 1, est.callCount())
	})
}

func TestStop_DiscardsInFlightResult(t *testing.T) {
	acq := &fakeAcquirer{}
	acq.camera = newFakeMedia("camera", nil)
	est := &fakeEstimator{gate: make(chan struct{})}
	proc := newFakeProcessor()
	c := newTestController(t, acq, est, proc, "")

	require.NoError(t, c.StartCamera(context.Background()))
	close(acq.camera.ready)
	acq.camera.mb.Publish(&types.Frame{Seq: 1})

	require.Eventually(t, func() bool { return est.callCount() == 1 }, time.Second, time.Millisecond)
	c.Stop()
	close(est.gate)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, proc.count(ModeCamera), "result arriving after Stop is not acted upon")
	assert.Equal(t, uint64(1), c.Snapshot().FramesDiscarded)
}

func TestParseInferencePolicy(t *testing.T) {
	for in, want := range map[string]InferencePolicy{"": InferenceSkip, "skip": InferenceSkip, "retry": InferenceRetry, "abort": InferenceAbort} {
		got, err := ParseInferencePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseInferencePolicy("panic")
	assert.Error(t, err)
}

func TestNewController_Validates(t *testing.T) {
	_, err := NewController(Config{}, nil, &fakeEstimator{}, newFakeProcessor())
	assert.Error(t, err)
	_, err = NewController(Config{Interval: -time.Second}, &fakeAcquirer{}, &fakeEstimator{}, newFakeProcessor())
	assert.Error(t, err)
}
