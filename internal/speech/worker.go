// Package speech implements the output half of the voice pipeline: the TTS
// worker that turns completed assistant utterances into PCM chunk streams,
// and the audio sinks that deliver those chunks to the client or a playback
// device.
//
// The worker is the single consumer of the audio-output queue; a sink is the
// single consumer of the audio-chunk queue. A nil chunk on the chunk queue
// marks the end of one utterance's audio.
package speech

import (
	"context"
	"log/slog"
	"time"

	"github.com/tanklabs/tankd/internal/observe"
	"github.com/tanklabs/tankd/internal/runtime"
	"github.com/tanklabs/tankd/pkg/provider/tts"
	"github.com/tanklabs/tankd/pkg/types"
)

// Worker is the per-session TTS worker. Construct with NewWorker and drive
// with Run; a single goroutine owns the worker.
type Worker struct {
	provider    tts.Provider
	queues      *runtime.Queues
	interrupter *runtime.Interrupter
	log         *slog.Logger
	metrics     *observe.Metrics
}

// WorkerOption is a functional option for configuring a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the structured logger. Default is slog.Default.
func WithWorkerLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWorker constructs a Worker consuming q.TTS and producing to q.Chunks
// under the shared interrupt discipline of in.
func NewWorker(provider tts.Provider, q *runtime.Queues, in *runtime.Interrupter, opts ...WorkerOption) *Worker {
	w := &Worker{
		provider:    provider,
		queues:      q,
		interrupter: in,
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run consumes TTS requests until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-w.queues.TTS:
			if !ok {
				return nil
			}
			w.handle(ctx, req)
		}
	}
}

// handle synthesizes one request, forwarding PCM chunks until the stream
// ends or an interrupt fires. A nil sentinel is always pushed at the end so
// the sink releases its per-utterance resources.
func (w *Worker) handle(ctx context.Context, req types.TTSRequest) {
	// A prior interrupt already consumed by perception must not gag the next
	// legitimate output.
	w.interrupter.Clear()

	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.interrupter.SetCancel(cancel)
	defer w.interrupter.SetCancel(nil)
	defer w.pushSentinel(ctx)

	start := time.Now()
	stream, err := w.provider.Synthesize(synthCtx, tts.Request{
		Text:     req.Text,
		Language: req.Language,
		Voice:    req.Voice,
	})
	if err != nil {
		w.log.Error("synthesis failed to start", "error", err)
		w.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return
	}

	rate := w.provider.SampleRate()
	for data := range stream {
		if w.interrupter.Triggered() {
			go runtime.Drain(stream)
			w.log.Debug("synthesis interrupted", "text_len", len(req.Text))
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case w.queues.Chunks <- &types.AudioChunk{Data: data, SampleRate: rate, Channels: 1}:
		case <-ctx.Done():
			return
		}
	}
	w.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
}

// pushSentinel marks end-of-utterance on the chunk queue. Dropped only when
// the session is already shutting down.
func (w *Worker) pushSentinel(ctx context.Context) {
	select {
	case w.queues.Chunks <- nil:
	case <-ctx.Done():
	}
}
