package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePollyClient struct {
	mu    sync.Mutex
	calls []*polly.SynthesizeSpeechInput
	err   error
	block chan struct{}
}

func (f *fakePollyClient) SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("mp3:" + *params.Text)))}, nil
}

func (f *fakePollyClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string                 { return e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

var _ smithy.APIError = fakeAPIError{}

func TestSpeaker_SynthesisesAndCaches(t *testing.T) {
	client := &fakePollyClient{}
	s, err := NewSpeakerWithClient(Config{OutputDir: t.TempDir()}, client)
	require.NoError(t, err)
	defer s.Close()

	s.Say("Bend your knees")
	require.Eventually(t, func() bool { _, ok := s.Latest(); return ok }, time.Second, 5*time.Millisecond)

	cue, _ := s.Latest()
	data, err := os.ReadFile(cue.Path)
	require.NoError(t, err)
	assert.Equal(t, "mp3:Bend your knees", string(data))

	client.mu.Lock()
	in := client.calls[0]
	client.mu.Unlock()
	assert.Equal(t, pollytypes.EngineNeural, in.Engine)
	assert.Equal(t, pollytypes.OutputFormatMp3, in.OutputFormat)
	assert.Equal(t, pollytypes.VoiceId("Joanna"), in.VoiceId)

	s.Say("Bend your knees")
	require.Eventually(t, func() bool { return s.Stats().CacheHits == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, client.count())
}

func TestSpeaker_SayNeverBlocks(t *testing.T) {
	client := &fakePollyClient{block: make(chan struct{})}
	s, err := NewSpeakerWithClient(Config{OutputDir: t.TempDir()}, client)
	require.NoError(t, err)

	s.Say("one")
	require.Eventually(t, func() bool { return client.count() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Say("two")
		s.Say("three")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Say blocked behind synthesis")
	}
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	s.Say("after close")
}

func TestSpeaker_Failure(t *testing.T) {
	client := &fakePollyClient{err: fakeAPIError{code: "TooManyRequestsException"}}
	s, err := NewSpeakerWithClient(Config{OutputDir: t.TempDir()}, client)
	require.NoError(t, err)
	defer s.Close()

	s.Say("Keep your back straight")
	require.Eventually(t, func() bool { return s.Stats().Failures == 1 }, time.Second, 5*time.Millisecond)
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "overload", classify(fakeAPIError{code: "TooManyRequestsException"}))
	assert.Equal(t, "client_error", classify(fakeAPIError{code: "TextLengthExceededException"}))
	assert.Equal(t, "server_error", classify(fakeAPIError{code: "ServiceFailureException"}))
	assert.Equal(t, "timeout", classify(context.DeadlineExceeded))
	assert.Equal(t, "transport_error", classify(errors.New("dial tcp: refused")))
}

func TestCueName_Stable(t *testing.T) {
	assert.Equal(t, cueName("Correct posture"), cueName("Correct posture"))
	assert.NotEqual(t, cueName("Correct posture"), cueName("Bend your knees"))
}
