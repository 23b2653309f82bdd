// Package voice speaks the displayed message when it changes, using Amazon
// Polly. Cues are synthesised off the capture loop and cached per message.
package voice

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Config selects the voice and where audio files are written.
type Config struct {
	Region    string
	VoiceID   string
	Engine    string
	OutputDir string
	Timeout   time.Duration
}

// Cue is a synthesised message ready for playback.
type Cue struct {
	Message string    `json:"message"`
	Path    string    `json:"path"`
	At      time.Time `json:"at"`
}

// Stats counts synthesis outcomes.
type Stats struct {
	Requested   uint64 `json:"requested"`
	Synthesised uint64 `json:"synthesised"`
	CacheHits   uint64 `json:"cache_hits"`
	Dropped     uint64 `json:"dropped"`
	Failures    uint64 `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
}

// Speaker turns messages into audio files. Say never blocks: a message still
// waiting when a newer one arrives is replaced.
type Speaker struct {
	cfg    Config
	client synthClient

	pending chan string
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu     sync.Mutex
	cache  map[string]string
	latest Cue
	stats  Stats
}

// NewSpeaker loads AWS credentials the default way and starts the worker.
func NewSpeaker(ctx context.Context, cfg Config) (*Speaker, error) {
	cfg = withDefaults(cfg)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSpeakerWithClient(cfg, polly.NewFromConfig(awsCfg))
}

// NewSpeakerWithClient starts a speaker over an existing client.
func NewSpeakerWithClient(cfg Config, client synthClient) (*Speaker, error) {
	cfg = withDefaults(cfg)
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cue directory: %w", err)
	}

	s := &Speaker{
		cfg:     cfg,
		client:  client,
		pending: make(chan string, 1),
		done:    make(chan struct{}),
		cache:   make(map[string]string),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "cues"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return cfg
}

// Say queues msg for synthesis.
func (s *Speaker) Say(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.stats.Requested++
	s.mu.Unlock()

	for {
		select {
		case s.pending <- msg:
			return
		default:
		}
		select {
		case <-s.pending:
			s.mu.Lock()
			s.stats.Dropped++
			s.mu.Unlock()
		default:
		}
	}
}

func (s *Speaker) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.pending:
			s.speak(msg)
		}
	}
}

func (s *Speaker) speak(msg string) {
	s.mu.Lock()
	path, ok := s.cache[msg]
	if ok {
		s.stats.CacheHits++
		s.latest = Cue{Message: msg, Path: path, At: time.Now()}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	path, err := s.synthesise(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
		slog.Warn("voice cue synthesis failed", "message", msg, "error", err, "reason", classify(err))
		return
	}
	s.stats.Synthesised++
	s.cache[msg] = path
	s.latest = Cue{Message: msg, Path: path, At: time.Now()}
	slog.Debug("voice cue ready", "message", msg, "path", path)
}

func (s *Speaker) synthesise(msg string) (string, error) {
	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	out, err := s.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         aws.String(msg),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return "", err
	}
	if out == nil || out.AudioStream == nil {
		return "", errors.New("empty audio stream")
	}
	defer out.AudioStream.Close()

	path := filepath.Join(s.cfg.OutputDir, cueName(msg))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create cue file: %w", err)
	}
	if _, err := io.Copy(f, out.AudioStream); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write cue audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close cue file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish cue file: %w", err)
	}
	return path, nil
}

// cueName is stable per message so cached audio survives restarts.
func cueName(msg string) string {
	h := fnv.New64a()
	h.Write([]byte(msg))
	return fmt.Sprintf("cue-%016x.mp3", h.Sum64())
}

// classify maps a synthesis error to a short reason for logs.
func classify(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return "overload"
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException":
			return "client_error"
		default:
			return "server_error"
		}
	}
	return "transport_error"
}

// Latest returns the most recent cue, if any.
func (s *Speaker) Latest() (Cue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest.Path != ""
}

// Stats returns synthesis counters.
func (s *Speaker) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the worker, cancelling any synthesis in flight. Idempotent.
func (s *Speaker) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}
