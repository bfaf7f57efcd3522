package speech

import (
	"context"
	"io"
	"log/slog"

	"github.com/tanklabs/tankd/internal/runtime"
	"github.com/tanklabs/tankd/pkg/audio"
	"github.com/tanklabs/tankd/pkg/types"
)

// Sink consumes one session's audio-chunk queue. Each utterance is a run of
// chunks terminated by a nil sentinel; on the sentinel the sink emits a
// tts_ended signal to the UI queue and resets its per-utterance state.
type Sink interface {
	// Run consumes chunks until ctx is cancelled or the queue is closed.
	Run(ctx context.Context) error
}

// ─── callback sink ───────────────────────────────────────────────────────────

// CallbackSink forwards every chunk to an injected handler. The server uses
// it to relay PCM to the client as binary frames.
type CallbackSink struct {
	queues  *runtime.Queues
	onChunk func(*types.AudioChunk)
	log     *slog.Logger
}

var _ Sink = (*CallbackSink)(nil)

// NewCallbackSink constructs a CallbackSink invoking onChunk for every
// non-sentinel chunk. onChunk runs on the sink goroutine and must not block
// indefinitely.
func NewCallbackSink(q *runtime.Queues, onChunk func(*types.AudioChunk)) *CallbackSink {
	return &CallbackSink{queues: q, onChunk: onChunk, log: slog.Default()}
}

// Run implements Sink.
func (s *CallbackSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-s.queues.Chunks:
			if !ok {
				return nil
			}
			if chunk == nil {
				s.queues.PushUI(types.UIMessage{Signal: &types.SignalMessage{Kind: types.SignalTTSEnded}})
				continue
			}
			s.onChunk(chunk)
		}
	}
}

// ─── playback sink ───────────────────────────────────────────────────────────

// PlaybackSink writes PCM to an output device (any io.Writer) with a short
// linear fade-in on the first chunk and fade-out on the last chunk of each
// utterance, avoiding boundary clicks. It holds one chunk of lookahead so
// the final chunk can be identified before the sentinel arrives.
type PlaybackSink struct {
	queues      *runtime.Queues
	interrupter *runtime.Interrupter
	out         io.Writer
	log         *slog.Logger

	// Per-utterance state.
	pending *types.AudioChunk // lookahead buffer
	first   bool              // next written chunk starts the utterance
}

var _ Sink = (*PlaybackSink)(nil)

// NewPlaybackSink constructs a PlaybackSink writing to out.
func NewPlaybackSink(q *runtime.Queues, in *runtime.Interrupter, out io.Writer) *PlaybackSink {
	return &PlaybackSink{
		queues:      q,
		interrupter: in,
		out:         out,
		log:         slog.Default(),
		first:       true,
	}
}

// Run implements Sink.
func (s *PlaybackSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-s.queues.Chunks:
			if !ok {
				return nil
			}
			s.consume(chunk)
		}
	}
}

// consume advances the lookahead state machine by one element.
func (s *PlaybackSink) consume(chunk *types.AudioChunk) {
	if s.interrupter.Triggered() {
		// Flush: drop buffered samples, stop immediately.
		s.pending = nil
		s.first = true
		if chunk == nil {
			s.endUtterance()
		}
		return
	}

	if chunk == nil {
		// The held chunk is the utterance's last: ramp it down.
		if s.pending != nil {
			audio.FadeOut(s.pending.Data, audio.DefaultFadeSamples(s.pending.SampleRate))
			s.write(s.pending)
			s.pending = nil
		}
		s.endUtterance()
		s.first = true
		return
	}

	if s.pending != nil {
		s.write(s.pending)
	}
	if s.first {
		audio.FadeIn(chunk.Data, audio.DefaultFadeSamples(chunk.SampleRate))
		s.first = false
	}
	s.pending = chunk
}

func (s *PlaybackSink) write(chunk *types.AudioChunk) {
	if _, err := s.out.Write(chunk.Data); err != nil {
		s.log.Warn("playback write failed", "error", err)
	}
}

func (s *PlaybackSink) endUtterance() {
	s.queues.PushUI(types.UIMessage{Signal: &types.SignalMessage{Kind: types.SignalTTSEnded}})
}
