// Package perception implements the streaming speech-perception worker: the
// single consumer of a session's frame queue. It feeds captured audio to the
// streaming recognizer, publishes partial and final user transcripts to the
// UI queue, fires the barge-in interrupt on first speech, and commits
// endpointed utterances to the brain-input queue.
package perception

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tanklabs/tankd/internal/observe"
	"github.com/tanklabs/tankd/internal/runtime"
	"github.com/tanklabs/tankd/pkg/provider/asr"
	"github.com/tanklabs/tankd/pkg/types"
)

// defaultUserLabel is the speaker label attached to voice transcripts.
const defaultUserLabel = "User"

// Perception is the per-session speech perception worker. Construct with New
// and drive with Run; a single goroutine owns the worker.
type Perception struct {
	provider    asr.Provider
	queues      *runtime.Queues
	interrupter *runtime.Interrupter
	log         *slog.Logger
	metrics     *observe.Metrics

	sampleRate int
	language   string
	userLabel  string

	// Per-utterance state, reset after every committed endpoint.
	msgID          string
	lastText       string
	bargeInFired   bool
	utteranceStart time.Time
}

// Option is a functional option for configuring a Perception worker.
type Option func(*Perception)

// WithSampleRate sets the capture sample rate handed to the recognizer.
// Default 16000.
func WithSampleRate(rate int) Option {
	return func(p *Perception) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithLanguage sets the recognition language hint ("auto" by default).
func WithLanguage(lang string) Option {
	return func(p *Perception) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithUserLabel sets the speaker label on emitted transcripts.
func WithUserLabel(label string) Option {
	return func(p *Perception) {
		if label != "" {
			p.userLabel = label
		}
	}
}

// WithLogger sets the structured logger. Default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(p *Perception) {
		if log != nil {
			p.log = log
		}
	}
}

// New constructs a Perception worker consuming q.Frames and producing to
// q.UI and q.BrainIn under the shared interrupt discipline of in.
func New(provider asr.Provider, q *runtime.Queues, in *runtime.Interrupter, opts ...Option) *Perception {
	p := &Perception{
		provider:    provider,
		queues:      q,
		interrupter: in,
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
		sampleRate:  16000,
		language:    "auto",
		userLabel:   defaultUserLabel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run opens the recognizer stream and consumes frames until ctx is cancelled
// or the frame queue is closed. Recognizer errors are logged and skipped; the
// worker keeps consuming.
func (p *Perception) Run(ctx context.Context) error {
	handle, err := p.provider.StartStream(ctx, asr.StreamConfig{
		SampleRate: p.sampleRate,
		Language:   p.language,
	})
	if err != nil {
		return err
	}
	defer handle.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-p.queues.Frames:
			if !ok {
				return nil
			}
			result, err := handle.Feed(frame.PCM)
			if err != nil {
				p.log.Warn("recognizer error, skipping frame", "error", err)
				p.metrics.RecordProviderError(ctx, "asr", "feed")
				continue
			}
			p.process(ctx, result)
		}
	}
}

// process applies one recognizer result to the per-utterance state machine.
func (p *Perception) process(ctx context.Context, result asr.Result) {
	text := strings.TrimSpace(result.Text)

	// First speech of the utterance interrupts any assistant output.
	if text != "" && !p.bargeInFired {
		p.interrupter.Trigger()
		p.metrics.RecordInterrupt(ctx, "speech")
		p.bargeInFired = true
		p.utteranceStart = time.Now()
	}

	if text == "" && !result.Endpoint {
		return
	}
	if result.Endpoint && text == "" {
		// Silence endpoint: nothing to commit, start the next utterance clean.
		p.reset()
		return
	}

	if p.msgID == "" {
		p.msgID = uuid.NewString()
	}

	// Identical partials are suppressed; endpoints always go out so the
	// client sees the final marker.
	if text != p.lastText || result.Endpoint {
		p.queues.PushUI(types.UIMessage{Display: &types.DisplayMessage{
			Speaker: p.userLabel,
			Text:    text,
			IsUser:  true,
			IsFinal: result.Endpoint,
			ID:      p.msgID,
			Kind:    types.UpdateText,
		}})
		p.lastText = text
	}

	if result.Endpoint {
		if !p.utteranceStart.IsZero() {
			p.metrics.ASRDuration.Record(ctx, time.Since(p.utteranceStart).Seconds())
		}
		committed := p.queues.PushBrainInput(types.BrainInputEvent{
			Kind:       types.InputAudio,
			Text:       text,
			User:       p.userLabel,
			Language:   result.Language,
			Confidence: result.Confidence,
			Timestamp:  time.Now(),
		})
		if !committed {
			p.log.Warn("brain input queue full, dropping utterance", "text", text)
		}
		p.reset()
	}
}

// reset clears per-utterance state so the next utterance starts cleanly.
func (p *Perception) reset() {
	p.msgID = ""
	p.lastText = ""
	p.bargeInFired = false
	p.utteranceStart = time.Time{}
}
