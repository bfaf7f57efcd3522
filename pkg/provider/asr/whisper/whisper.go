// Package whisper provides an asr.Provider backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// whisper.cpp is a batch decoder, not a streaming one, so the stream handle
// does its own endpointing: it buffers incoming frames, tracks trailing
// silence with an RMS energy gate, and runs inference once enough silence
// follows speech (or the buffer hits its cap). Interim Feed results carry no
// text; the committed utterance arrives with the endpoint flag.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/tanklabs/tankd/pkg/provider/asr"
)

const (
	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultSilenceMs       = 500
	defaultMaxBufferMs     = 10000
	defaultEnergyThreshold = 0.01
)

var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using a shared whisper.cpp model. The
// model is loaded once at startup; each stream creates its own inference
// context, so streams can run concurrently without interference.
type Provider struct {
	model whisperlib.Model

	language        string
	sampleRate      int
	silenceMs       int
	maxBufferMs     int
	energyThreshold float64
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code for transcription
// (e.g. "en", "de", "zh"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the expected sample rate of fed PCM in Hz. Defaults to
// 16000, the only rate whisper.cpp accepts natively.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) after
// speech that triggers an endpoint. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced endpoint. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferMs = ms }
}

// WithEnergyThreshold sets the RMS level (on float32 samples in [-1, 1])
// below which a frame counts as silence. Defaults to 0.01.
func WithEnergyThreshold(t float64) Option {
	return func(p *Provider) { p.energyThreshold = t }
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:           model,
		language:        defaultLanguage,
		sampleRate:      defaultSampleRate,
		silenceMs:       defaultSilenceMs,
		maxBufferMs:     defaultMaxBufferMs,
		energyThreshold: defaultEnergyThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new recognition stream. It respects cfg.SampleRate and
// cfg.Language; zero/empty fields fall back to the provider defaults.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}

	return &stream{
		model:           p.model,
		language:        lang,
		sampleRate:      sr,
		silenceMs:       p.silenceMs,
		maxBufferMs:     p.maxBufferMs,
		energyThreshold: p.energyThreshold,
	}, nil
}

// ─── stream ──────────────────────────────────────────────────────────────────

// stream is a live whisper recognition stream. It implements
// asr.StreamHandle. All buffering state is owned by the single feeding
// goroutine; only Close is guarded.
type stream struct {
	model           whisperlib.Model
	language        string
	sampleRate      int
	silenceMs       int
	maxBufferMs     int
	energyThreshold float64

	buffer     []float32
	hadSpeech  bool
	trailingMs int // accumulated trailing silence, ms

	closeOnce sync.Once
	closed    bool
}

var _ asr.StreamHandle = (*stream)(nil)

// Feed buffers one frame, updates the silence tracker, and runs inference
// when an endpoint is reached. Interim results carry no text.
func (s *stream) Feed(pcm []float32) (asr.Result, error) {
	if s.closed {
		return asr.Result{}, errors.New("whisper: stream is closed")
	}
	if len(pcm) == 0 {
		return asr.Result{Confidence: -1}, nil
	}

	frameMs := len(pcm) * 1000 / s.sampleRate
	rms := computeRMS(pcm)

	if rms < s.energyThreshold {
		if !s.hadSpeech {
			return asr.Result{Confidence: -1}, nil
		}
		s.buffer = append(s.buffer, pcm...)
		s.trailingMs += frameMs
		if s.trailingMs < s.silenceMs {
			return asr.Result{Confidence: -1}, nil
		}
		return s.endpoint()
	}

	s.hadSpeech = true
	s.trailingMs = 0
	s.buffer = append(s.buffer, pcm...)
	if s.maxBufferMs > 0 && len(s.buffer) >= s.maxBufferMs*s.sampleRate/1000 {
		return s.endpoint()
	}
	return asr.Result{Confidence: -1}, nil
}

// Reset discards all buffered audio and silence-tracking state.
func (s *stream) Reset() {
	s.buffer = nil
	s.hadSpeech = false
	s.trailingMs = 0
}

// Close marks the stream closed. The shared model is owned by the Provider
// and is not released here.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.Reset()
	})
	return nil
}

// endpoint runs inference over the buffered speech and resets the stream.
func (s *stream) endpoint() (asr.Result, error) {
	samples := s.buffer
	s.Reset()

	text, err := s.infer(samples)
	if err != nil {
		return asr.Result{}, err
	}
	return asr.Result{
		Text:       text,
		Endpoint:   true,
		Language:   s.language,
		Confidence: -1,
	}, nil
}

// infer runs whisper.cpp over the samples using a fresh context and returns
// the concatenated segment text. Contexts are not thread-safe, but the model
// can be shared across goroutines.
func (s *stream) infer(samples []float32) (string, error) {
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// computeRMS returns the root-mean-square level of the samples.
func computeRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
